package types

import "fmt"

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxID  string `json:"txid"`
	Index uint32 `json:"vout"`
}

// String returns "txid:index".
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Index)
}
