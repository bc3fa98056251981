// Package source fetches blocks and fully resolved transactions from a
// bitcoind node.
package source

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	klog "github.com/donutAnees/Cluster-Bitcoin-Address/internal/log"
	"github.com/donutAnees/Cluster-Bitcoin-Address/pkg/types"
)

var (
	// ErrMalformed is returned when the node's reply lacks a required field.
	ErrMalformed = errors.New("source: malformed node data")
	// ErrTxNotFound is returned when the node has no record of a txid.
	ErrTxNotFound = errors.New("source: transaction not found")
)

// The genesis coinbase is never indexed, so the node cannot return it.
const genesisHeight = 0

// Source yields blocks and transactions.
type Source interface {
	// BlockCount returns the height of the node's best block.
	BlockCount(ctx context.Context) (uint64, error)
	// BlockHashForHeight returns the hash of the block at height.
	BlockHashForHeight(ctx context.Context, height uint64) (string, error)
	// Block returns the block with the given hash and its ordered txids.
	Block(ctx context.Context, hash string) (*types.Block, error)
	// RawTransaction returns a transaction with every input's previous
	// output resolved to a value and address.
	RawTransaction(ctx context.Context, txid string) (*types.Transaction, error)
}

// BlockTransactions fetches the block at height and all of its
// transactions, up to workers at a time, returned in block order. A
// genesis transaction the node reports as not found is left out.
func BlockTransactions(ctx context.Context, src Source, height uint64, workers int) (*types.Block, []*types.Transaction, error) {
	hash, err := src.BlockHashForHeight(ctx, height)
	if err != nil {
		return nil, nil, fmt.Errorf("block hash at %d: %w", height, err)
	}
	blk, err := src.Block(ctx, hash)
	if err != nil {
		return nil, nil, fmt.Errorf("block %d (%s): %w", height, hash, err)
	}
	if blk.Height != height {
		return nil, nil, fmt.Errorf("%w: block %s reports height %d, want %d", ErrMalformed, hash, blk.Height, height)
	}

	if workers < 1 {
		workers = 1
	}
	txs := make([]*types.Transaction, len(blk.TxIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, txid := range blk.TxIDs {
		i, txid := i, txid
		g.Go(func() error {
			tx, err := src.RawTransaction(gctx, txid)
			if height == genesisHeight && errors.Is(err, ErrTxNotFound) {
				klog.Source.Warn().Str("tx", txid).Msg("Genesis transaction not retrievable, skipping")
				return nil
			}
			if err != nil {
				return fmt.Errorf("tx %s in block %d: %w", txid, height, err)
			}
			if tx.BlockHash == "" {
				tx.BlockHash = blk.Hash
			}
			txs[i] = tx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if height == genesisHeight {
		kept := txs[:0]
		for _, tx := range txs {
			if tx != nil {
				kept = append(kept, tx)
			}
		}
		txs = kept
	}
	return blk, txs, nil
}
