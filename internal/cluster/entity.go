// Package cluster holds the clustering state: entities, the wallet index
// that partitions addresses between them, and the output reuse counter.
package cluster

import "sort"

// Entity is a set of wallet addresses believed to share one owner.
type Entity struct {
	ID      uint64
	wallets map[string]struct{}
}

func newEntity(id uint64) *Entity {
	return &Entity{ID: id, wallets: make(map[string]struct{})}
}

// Len returns the number of wallets in the entity.
func (e *Entity) Len() int {
	return len(e.wallets)
}

// Has reports whether the wallet belongs to the entity.
func (e *Entity) Has(wallet string) bool {
	_, ok := e.wallets[wallet]
	return ok
}

// Wallets returns the entity's wallets in sorted order.
func (e *Entity) Wallets() []string {
	out := make([]string, 0, len(e.wallets))
	for w := range e.wallets {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func (e *Entity) add(wallet string) {
	e.wallets[wallet] = struct{}{}
}

func (e *Entity) remove(wallet string) {
	delete(e.wallets, wallet)
}
