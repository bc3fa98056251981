// Package heuristics applies the address-ownership heuristics to decoded
// transactions, one block at a time, against a cluster.Registry.
package heuristics

// Kind names a heuristic.
type Kind string

const (
	KindCoinbase    Kind = "coinbase"
	KindCommonInput Kind = "common_input"
	KindSweep       Kind = "sweep"
	KindChange      Kind = "change_address"
	KindScriptChain Kind = "script_chain"
)

// Kinds lists every heuristic in application order.
var Kinds = []Kind{KindCoinbase, KindCommonInput, KindSweep, KindChange, KindScriptChain}

// Intent says that Wallet belongs to the entity owning Anchor. Analyses
// emit intents without touching shared state; the engine applies them.
type Intent struct {
	Wallet string
	Anchor string
	Kind   Kind
}

// anchor returns the address used to locate the spender's entity: the
// first input with an address form.
func anchor(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}
