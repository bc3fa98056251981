package heuristics

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/cluster"
	klog "github.com/donutAnees/Cluster-Bitcoin-Address/internal/log"
	"github.com/donutAnees/Cluster-Bitcoin-Address/pkg/types"
)

// Observer receives engine events. Implementations must be safe for
// concurrent use.
type Observer interface {
	TransactionProcessed()
	HeuristicApplied(kind Kind)
}

type nopObserver struct{}

func (nopObserver) TransactionProcessed() {}
func (nopObserver) HeuristicApplied(Kind) {}

// Engine runs the heuristics over blocks of transactions. It owns no state
// of its own beyond references to the registry and counter it mutates.
type Engine struct {
	registry *cluster.Registry
	counter  *cluster.ReuseCounter
	observer Observer
	logger   zerolog.Logger
}

// NewEngine creates an engine over registry and counter.
func NewEngine(registry *cluster.Registry, counter *cluster.ReuseCounter) *Engine {
	return &Engine{
		registry: registry,
		counter:  counter,
		observer: nopObserver{},
		logger:   klog.Heuristics,
	}
}

// SetObserver installs an event observer. Nil restores the no-op observer.
func (e *Engine) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	e.observer = o
}

// Registry returns the registry the engine mutates.
func (e *Engine) Registry() *cluster.Registry { return e.registry }

// Counter returns the reuse counter the engine reads.
func (e *Engine) Counter() *cluster.ReuseCounter { return e.counter }

// ProcessBlock records every output of the block in the reuse counter and
// then runs the heuristics over each transaction in block order. Any error
// is an invariant violation and leaves the registry unusable.
func (e *Engine) ProcessBlock(txs []*types.Transaction) error {
	e.counter.RecordBlock(txs)
	for _, tx := range txs {
		if err := e.ProcessTransaction(tx); err != nil {
			return err
		}
	}
	return nil
}

// ProcessTransaction runs the heuristics over one transaction. The reuse
// counter must already include the transaction's block.
//
// A coinbase transaction gets a fresh entity for its outputs and nothing
// else. Otherwise the inputs are united first; then the change-address
// and script-chain analyses run concurrently over the settled state, and
// their intents are applied in that order.
func (e *Engine) ProcessTransaction(tx *types.Transaction) error {
	defer e.observer.TransactionProcessed()

	if tx.IsCoinbase() {
		outs := tx.OutputAddresses()
		if len(outs) == 0 {
			return nil
		}
		id, err := e.registry.Claim(outs)
		if err != nil {
			return fmt.Errorf("tx %s: %s: %w", tx.TxID, KindCoinbase, err)
		}
		e.observer.HeuristicApplied(KindCoinbase)
		e.logger.Trace().Str("tx", tx.TxID).Uint64("entity", id).Msg("Coinbase claimed")
		return nil
	}

	ins := tx.InputAddresses()
	if len(ins) == 0 {
		return nil
	}
	if _, err := e.registry.Unite(ins); err != nil {
		return fmt.Errorf("tx %s: %s: %w", tx.TxID, KindCommonInput, err)
	}
	e.observer.HeuristicApplied(KindCommonInput)

	var change, chain []Intent
	var g errgroup.Group
	g.Go(func() error {
		change = ChangeAddress(tx, e.counter)
		return nil
	})
	g.Go(func() error {
		chain = ScriptChain(tx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for _, in := range append(change, chain...) {
		if err := e.apply(in); err != nil {
			return fmt.Errorf("tx %s: %s: %w", tx.TxID, in.Kind, err)
		}
	}
	return nil
}

func (e *Engine) apply(in Intent) error {
	id, err := e.registry.Assign(in.Wallet, in.Anchor)
	if err != nil {
		return err
	}
	e.observer.HeuristicApplied(in.Kind)
	e.logger.Trace().
		Str("heuristic", string(in.Kind)).
		Str("wallet", in.Wallet).
		Uint64("entity", id).
		Msg("Intent applied")
	return nil
}
