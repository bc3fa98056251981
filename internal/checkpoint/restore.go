package checkpoint

import (
	"fmt"
	"sort"

	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/cluster"
)

// Capture copies the current state of registry and counter into a
// snapshot at height.
func Capture(registry *cluster.Registry, counter *cluster.ReuseCounter, height uint64) *Snapshot {
	return &Snapshot{
		Height:      height,
		Wallets:     registry.Snapshot(),
		Frequencies: counter.Snapshot(),
	}
}

// Apply rebuilds snap into an empty registry and counter. Entities are
// restored under their saved ids, in ascending order, so the registry's
// id counter ends one past the largest.
func (s *Snapshot) Apply(registry *cluster.Registry, counter *cluster.ReuseCounter) error {
	if registry.Len() != 0 {
		return fmt.Errorf("checkpoint apply: registry already holds %d entities", registry.Len())
	}

	groups := make(map[uint64][]string)
	for w, id := range s.Wallets {
		groups[id] = append(groups[id], w)
	}
	ids := make([]uint64, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		ws := groups[id]
		sort.Strings(ws)
		if err := registry.Restore(id, ws); err != nil {
			return fmt.Errorf("checkpoint apply entity %d: %w", id, err)
		}
	}
	for w, n := range s.Frequencies {
		counter.Restore(w, n)
	}
	return registry.CheckPartition()
}
