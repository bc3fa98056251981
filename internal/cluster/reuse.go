package cluster

import (
	"sync"

	"github.com/donutAnees/Cluster-Bitcoin-Address/pkg/types"
)

// ReuseCounter counts how many times each address has been paid to.
// Counts only ever grow.
type ReuseCounter struct {
	mu     sync.RWMutex
	counts map[string]uint64
}

// NewReuseCounter returns an empty counter.
func NewReuseCounter() *ReuseCounter {
	return &ReuseCounter{counts: make(map[string]uint64)}
}

// RecordOutput increments the count for address. Empty addresses are
// ignored.
func (r *ReuseCounter) RecordOutput(address string) {
	if address == "" {
		return
	}
	r.mu.Lock()
	r.counts[address]++
	r.mu.Unlock()
}

// RecordBlock counts every output of every transaction. It must run
// before any heuristic sees the block, so that counts include the block's
// own outputs.
func (r *ReuseCounter) RecordBlock(txs []*types.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range txs {
		for i := range tx.Outputs {
			if a := tx.Outputs[i].Address; a != "" {
				r.counts[a]++
			}
		}
	}
}

// Count returns how many times address has been observed as an output.
func (r *ReuseCounter) Count(address string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[address]
}

// Restore loads a persisted count. An existing higher count is kept.
func (r *ReuseCounter) Restore(address string, count uint64) {
	if address == "" {
		return
	}
	r.mu.Lock()
	if count > r.counts[address] {
		r.counts[address] = count
	}
	r.mu.Unlock()
}

// Len returns the number of distinct addresses counted.
func (r *ReuseCounter) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.counts)
}

// Snapshot returns a copy of all counts.
func (r *ReuseCounter) Snapshot() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.counts))
	for a, n := range r.counts {
		out[a] = n
	}
	return out
}
