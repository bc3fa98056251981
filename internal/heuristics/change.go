package heuristics

import "github.com/donutAnees/Cluster-Bitcoin-Address/pkg/types"

// Counter reports how many times an address has been paid to.
type Counter interface {
	Count(address string) uint64
}

// ChangeAddress analyses the outputs of tx for change.
//
// A single output is a sweep: the spender moved everything to one address,
// which therefore belongs to the spender. With two outputs, when exactly
// one has been paid to once (this transaction) and the other more than
// once, the fresh one is change. Payments back to the spending address
// are skipped since the fresh output is then likely the payee.
func ChangeAddress(tx *types.Transaction, counter Counter) []Intent {
	from := anchor(tx.InputAddresses())
	if from == "" {
		return nil
	}

	switch len(tx.Outputs) {
	case 1:
		to := tx.Outputs[0].Address
		if to == "" {
			return nil
		}
		return []Intent{{Wallet: to, Anchor: from, Kind: KindSweep}}
	case 2:
		a1, a2 := tx.Outputs[0].Address, tx.Outputs[1].Address
		if a1 == "" || a2 == "" {
			return nil
		}
		f1, f2 := counter.Count(a1), counter.Count(a2)
		var change string
		switch {
		case f1 == 1 && f2 > 1:
			change = a1
		case f2 == 1 && f1 > 1:
			change = a2
		default:
			return nil
		}
		if from == a1 || from == a2 {
			return nil
		}
		return []Intent{{Wallet: change, Anchor: from, Kind: KindChange}}
	default:
		return nil
	}
}
