package cluster

import (
	"sort"
	"sync"
)

// Stats counts registry events since construction.
type Stats struct {
	Created  uint64 // entities allocated
	Absorbed uint64 // entities merged into a survivor
	Retired  uint64 // entities emptied by a claim or reassignment
}

// Registry owns every live entity and the wallet index. One lock guards
// both, and every operation holds it for its full read-modify-write, so no
// reader can see a wallet mapped to an entity that does not contain it.
//
// Entity ids start at 1. Freed ids are queued and handed out again, oldest
// first, before the counter advances.
type Registry struct {
	mu       sync.RWMutex
	entities map[uint64]*Entity
	index    *WalletIndex
	next     uint64
	free     []uint64
	stats    Stats
}

// NewRegistry returns an empty registry whose first id is 1.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[uint64]*Entity),
		index:    NewWalletIndex(),
		next:     1,
	}
}

// CreateEntity allocates an id and inserts an entity holding wallets.
// Every wallet must be unowned.
func (r *Registry) CreateEntity(wallets []string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws := dedupe(wallets)
	if len(ws) == 0 {
		return 0, violation(ErrEmptyEntity, "create")
	}
	for _, w := range ws {
		if owner, ok := r.index.Get(w); ok {
			return 0, violation(ErrWalletOwned, "create: %s owned by %d", w, owner)
		}
	}
	return r.createLocked(ws), nil
}

// MergeInto moves every wallet of others into survivor, deletes the
// absorbed entities and queues their ids for reuse, then adds extra to
// survivor. survivor must be the smallest id involved and every id must be
// live. Others are absorbed in ascending order. Nothing is mutated when the
// call fails.
func (r *Registry) MergeInto(survivor uint64, others []uint64, extra []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergeLocked(survivor, others, extra)
}

// Unite applies common-input ownership to wallets in one critical
// section: if any of them is owned, every owning entity is merged into the
// smallest and all wallets join it; otherwise a new entity is created.
// Returns the id of the entity that now holds all of them.
func (r *Registry) Unite(wallets []string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws := dedupe(wallets)
	if len(ws) == 0 {
		return 0, violation(ErrEmptyEntity, "unite")
	}

	var found []uint64
	seen := make(map[uint64]struct{})
	for _, w := range ws {
		if id, ok := r.index.Get(w); ok {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				found = append(found, id)
			}
		}
	}
	if len(found) == 0 {
		return r.createLocked(ws), nil
	}

	sortIDs(found)
	if err := r.mergeLocked(found[0], found[1:], ws); err != nil {
		return 0, err
	}
	return found[0], nil
}

// Assign records that wallet belongs with the entity owning anchor. Only
// the one association is written: a wallet owned by a different entity
// moves on its own, and an old entity left with no wallets is retired and
// its id queued for reuse. Returns the id now owning both.
func (r *Registry) Assign(wallet, anchor string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wallet == "" {
		return 0, violation(ErrUnknownWallet, "assign: empty wallet")
	}
	target, ok := r.index.Get(anchor)
	if !ok {
		return 0, violation(ErrUnknownWallet, "assign: anchor %q has no entity", anchor)
	}
	owner, owned := r.index.Get(wallet)
	if owned && owner == target {
		return target, nil
	}
	e, ok := r.entities[target]
	if !ok {
		return 0, violation(ErrUnknownEntity, "assign: anchor entity %d", target)
	}
	if owned {
		old, ok := r.entities[owner]
		if !ok {
			return 0, violation(ErrUnknownEntity, "assign: %s mapped to %d", wallet, owner)
		}
		old.remove(wallet)
		if old.Len() == 0 {
			delete(r.entities, owner)
			r.free = append(r.free, owner)
			r.stats.Retired++
		}
	}
	e.add(wallet)
	r.index.Set(wallet, target)
	return target, nil
}

// Claim creates a fresh entity holding exactly wallets, as for the outputs
// of a coinbase transaction. Wallets owned elsewhere are detached from
// their old entity first; an old entity left with no wallets is retired
// and its id queued for reuse. The new id is allocated before any entity
// is retired, so it is never the id of an entity it emptied.
func (r *Registry) Claim(wallets []string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws := dedupe(wallets)
	if len(ws) == 0 {
		return 0, violation(ErrEmptyEntity, "claim")
	}

	id := r.allocLocked()
	var emptied []uint64
	for _, w := range ws {
		owner, ok := r.index.Get(w)
		if !ok {
			continue
		}
		old, ok := r.entities[owner]
		if !ok {
			return 0, violation(ErrUnknownEntity, "claim: %s mapped to %d", w, owner)
		}
		old.remove(w)
		if old.Len() == 0 {
			emptied = append(emptied, owner)
		}
	}
	sortIDs(emptied)
	for _, old := range emptied {
		delete(r.entities, old)
		r.free = append(r.free, old)
		r.stats.Retired++
	}

	e := newEntity(id)
	for _, w := range ws {
		e.add(w)
		r.index.Set(w, id)
	}
	r.entities[id] = e
	r.stats.Created++
	return id, nil
}

// Restore inserts a persisted entity under its original id, bypassing
// allocation, and moves the id counter past it. Used only while loading a
// checkpoint.
func (r *Registry) Restore(id uint64, wallets []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == 0 {
		return violation(ErrUnknownEntity, "restore: id 0 is reserved")
	}
	if _, ok := r.entities[id]; ok {
		return violation(ErrEntityExists, "restore: %d", id)
	}
	ws := dedupe(wallets)
	if len(ws) == 0 {
		return violation(ErrEmptyEntity, "restore: %d", id)
	}
	for _, w := range ws {
		if owner, ok := r.index.Get(w); ok {
			return violation(ErrWalletOwned, "restore: %s owned by %d", w, owner)
		}
	}

	e := newEntity(id)
	for _, w := range ws {
		e.add(w)
		r.index.Set(w, id)
	}
	r.entities[id] = e
	r.dropFreeLocked(id)
	if id+1 > r.next {
		r.next = id + 1
	}
	return nil
}

// EntityOf returns the id of the entity owning wallet.
func (r *Registry) EntityOf(wallet string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.Get(wallet)
}

// Wallets returns the sorted wallets of entity id.
func (r *Registry) Wallets(id uint64) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, false
	}
	return e.Wallets(), true
}

// IDs returns the live entity ids in ascending order.
func (r *Registry) IDs() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint64, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Len returns the number of live entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// WalletCount returns the number of indexed wallets.
func (r *Registry) WalletCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.Len()
}

// NextID returns the id the counter would issue next if the free queue
// were empty.
func (r *Registry) NextID() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next
}

// FreeIDs returns the queued free ids, oldest first.
func (r *Registry) FreeIDs() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]uint64(nil), r.free...)
}

// Stats returns event counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Snapshot returns a copy of the wallet index.
func (r *Registry) Snapshot() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, r.index.Len())
	r.index.Range(func(a string, id uint64) bool {
		out[a] = id
		return true
	})
	return out
}

// CheckPartition verifies every invariant: each indexed wallet is in
// exactly the entity it maps to, every entity wallet is indexed back to
// it, no entity is empty, and free ids are disjoint from live ones.
func (r *Registry) CheckPartition() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for id, e := range r.entities {
		if id == 0 || id != e.ID {
			return violation(ErrPartition, "entity keyed %d has id %d", id, e.ID)
		}
		if id >= r.next {
			return violation(ErrPartition, "entity %d not below counter %d", id, r.next)
		}
		if e.Len() == 0 {
			return violation(ErrEmptyEntity, "entity %d", id)
		}
		for w := range e.wallets {
			owner, ok := r.index.Get(w)
			if !ok || owner != id {
				return violation(ErrPartition, "wallet %s in entity %d indexed to %d (present=%v)", w, id, owner, ok)
			}
		}
		total += e.Len()
	}
	if total != r.index.Len() {
		return violation(ErrPartition, "entities hold %d wallets, index has %d", total, r.index.Len())
	}
	seen := make(map[uint64]struct{}, len(r.free))
	for _, id := range r.free {
		if _, ok := r.entities[id]; ok {
			return violation(ErrPartition, "free id %d is live", id)
		}
		if _, dup := seen[id]; dup {
			return violation(ErrPartition, "free id %d queued twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (r *Registry) allocLocked() uint64 {
	if len(r.free) > 0 {
		id := r.free[0]
		r.free = r.free[1:]
		return id
	}
	id := r.next
	r.next++
	return id
}

func (r *Registry) createLocked(wallets []string) uint64 {
	id := r.allocLocked()
	e := newEntity(id)
	for _, w := range wallets {
		e.add(w)
		r.index.Set(w, id)
	}
	r.entities[id] = e
	r.stats.Created++
	return id
}

func (r *Registry) mergeLocked(survivor uint64, others []uint64, extra []string) error {
	dst, ok := r.entities[survivor]
	if !ok {
		return violation(ErrUnknownEntity, "merge: survivor %d", survivor)
	}

	ids := make([]uint64, 0, len(others))
	seen := map[uint64]struct{}{survivor: {}}
	for _, id := range others {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if id < survivor {
			return violation(ErrNotSurvivor, "merge: %d into %d", id, survivor)
		}
		if _, ok := r.entities[id]; !ok {
			return violation(ErrUnknownEntity, "merge: %d into %d", id, survivor)
		}
		ids = append(ids, id)
	}
	extra = dedupe(extra)
	for _, w := range extra {
		if owner, ok := r.index.Get(w); ok {
			if _, involved := seen[owner]; !involved {
				return violation(ErrWalletOwned, "merge: %s owned by %d outside merge into %d", w, owner, survivor)
			}
		}
	}

	sortIDs(ids)
	for _, id := range ids {
		src := r.entities[id]
		for w := range src.wallets {
			dst.add(w)
			r.index.Set(w, survivor)
		}
		delete(r.entities, id)
		r.free = append(r.free, id)
		r.stats.Absorbed++
	}
	for _, w := range extra {
		dst.add(w)
		r.index.Set(w, survivor)
	}
	return nil
}

func (r *Registry) dropFreeLocked(id uint64) {
	for i, f := range r.free {
		if f == id {
			r.free = append(r.free[:i], r.free[i+1:]...)
			return
		}
	}
}

// dedupe returns the distinct non-empty wallets in first-seen order.
func dedupe(wallets []string) []string {
	out := make([]string, 0, len(wallets))
	seen := make(map[string]struct{}, len(wallets))
	for _, w := range wallets {
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
