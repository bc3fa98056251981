package heuristics

import "github.com/donutAnees/Cluster-Bitcoin-Address/pkg/types"

// ScriptChain analyses a transaction with at least two inputs and exactly
// two outputs. The smaller output is taken as change (on equal values the
// first output) and the larger as payment. It fires when
// Σin − min(in) ≤ payment, an exact match included: the inputs without
// the smallest one do not exceed the payment, so every input was needed
// and the change output joins the spender.
func ScriptChain(tx *types.Transaction) []Intent {
	if len(tx.Inputs) < 2 || len(tx.Outputs) != 2 {
		return nil
	}
	from := anchor(tx.InputAddresses())
	if from == "" {
		return nil
	}

	o0, o1 := tx.Outputs[0], tx.Outputs[1]
	change, payment := o0, o1
	if o0.Value > o1.Value {
		change, payment = o1, o0
	}
	if change.Address == "" {
		return nil
	}

	lowest := tx.Inputs[0].Value
	for _, in := range tx.Inputs[1:] {
		if in.Value < lowest {
			lowest = in.Value
		}
	}
	if tx.InputSum()-lowest > payment.Value {
		return nil
	}
	return []Intent{{Wallet: change.Address, Anchor: from, Kind: KindScriptChain}}
}
