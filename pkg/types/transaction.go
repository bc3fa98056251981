package types

// Input is a transaction input with its previous output fully resolved.
type Input struct {
	Prev     Outpoint `json:"prev"`
	Coinbase bool     `json:"coinbase"`
	// Value of the spent output in satoshis.
	Value uint64 `json:"value"`
	// Address that owned the spent output. Empty when the previous
	// output script has no address form.
	Address   string `json:"address"`
	ScriptSig Script `json:"script_sig"`
	// PrevScript is the locking script of the spent output.
	PrevScript Script `json:"prev_script"`
}

// Output is a transaction output.
type Output struct {
	Index uint32 `json:"n"`
	// Value in satoshis.
	Value uint64 `json:"value"`
	// Address the output pays to. Empty for nulldata and nonstandard
	// scripts.
	Address      string `json:"address"`
	ScriptPubKey Script `json:"script_pubkey"`
}

// Transaction is a decoded transaction as seen by the clustering engine.
type Transaction struct {
	TxID      string   `json:"txid"`
	BlockHash string   `json:"blockhash,omitempty"`
	Inputs    []Input  `json:"vin"`
	Outputs   []Output `json:"vout"`
}

// IsCoinbase reports whether any input is flagged coinbase.
func (t *Transaction) IsCoinbase() bool {
	for i := range t.Inputs {
		if t.Inputs[i].Coinbase {
			return true
		}
	}
	return false
}

// InputAddresses returns the non-empty input addresses in input order.
// Duplicates are kept.
func (t *Transaction) InputAddresses() []string {
	out := make([]string, 0, len(t.Inputs))
	for i := range t.Inputs {
		if a := t.Inputs[i].Address; a != "" {
			out = append(out, a)
		}
	}
	return out
}

// OutputAddresses returns the non-empty output addresses in output order.
// Duplicates are kept.
func (t *Transaction) OutputAddresses() []string {
	out := make([]string, 0, len(t.Outputs))
	for i := range t.Outputs {
		if a := t.Outputs[i].Address; a != "" {
			out = append(out, a)
		}
	}
	return out
}

// InputSum returns the total value of all inputs.
func (t *Transaction) InputSum() uint64 {
	var sum uint64
	for i := range t.Inputs {
		sum += t.Inputs[i].Value
	}
	return sum
}
