package types

// Block is the block-level view returned by the node: its hash, height and
// the ordered transaction ids it contains.
type Block struct {
	Hash   string   `json:"hash"`
	Height uint64   `json:"height"`
	TxIDs  []string `json:"tx"`
}
