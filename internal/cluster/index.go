package cluster

// WalletIndex maps each wallet address to the id of the entity that owns
// it. It has no locking of its own: the Registry that owns it mutates it
// in the same critical section as the entity it describes.
type WalletIndex struct {
	m map[string]uint64
}

// NewWalletIndex returns an empty index.
func NewWalletIndex() *WalletIndex {
	return &WalletIndex{m: make(map[string]uint64)}
}

// Get returns the entity owning address.
func (w *WalletIndex) Get(address string) (uint64, bool) {
	id, ok := w.m[address]
	return id, ok
}

// Set maps address to id, replacing any previous owner.
func (w *WalletIndex) Set(address string, id uint64) {
	w.m[address] = id
}

// Len returns the number of indexed wallets.
func (w *WalletIndex) Len() int {
	return len(w.m)
}

// Range calls fn for every entry until fn returns false. Order is
// unspecified.
func (w *WalletIndex) Range(fn func(address string, id uint64) bool) {
	for a, id := range w.m {
		if !fn(a, id) {
			return
		}
	}
}
