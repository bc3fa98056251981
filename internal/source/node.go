package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	klog "github.com/donutAnees/Cluster-Bitcoin-Address/internal/log"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/rpcclient"
	"github.com/donutAnees/Cluster-Bitcoin-Address/pkg/types"
)

// rpcInvalidAddressOrKey is bitcoind's RPC_INVALID_ADDRESS_OR_KEY, sent
// for unknown txids.
const rpcInvalidAddressOrKey = -5

// Caller performs one JSON-RPC call. Satisfied by *rpcclient.Client.
type Caller interface {
	Call(ctx context.Context, method string, params []interface{}, result interface{}) error
}

// NodeSource reads from a bitcoind node with txindex enabled.
type NodeSource struct {
	rpc    Caller
	logger zerolog.Logger
}

// NewNodeSource creates a source over rpc.
func NewNodeSource(rpc Caller) *NodeSource {
	return &NodeSource{
		rpc:    rpc,
		logger: klog.Source,
	}
}

// BlockCount implements Source.
func (s *NodeSource) BlockCount(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.rpc.Call(ctx, "getblockcount", nil, &n); err != nil {
		return 0, fmt.Errorf("getblockcount: %w", err)
	}
	return n, nil
}

// BlockHashForHeight implements Source.
func (s *NodeSource) BlockHashForHeight(ctx context.Context, height uint64) (string, error) {
	var hash string
	if err := s.rpc.Call(ctx, "getblockhash", []interface{}{height}, &hash); err != nil {
		return "", fmt.Errorf("getblockhash %d: %w", height, err)
	}
	if hash == "" {
		return "", fmt.Errorf("%w: empty hash for height %d", ErrMalformed, height)
	}
	return hash, nil
}

// Block implements Source.
func (s *NodeSource) Block(ctx context.Context, hash string) (*types.Block, error) {
	var raw rawBlock
	if err := s.rpc.Call(ctx, "getblock", []interface{}{hash, 1}, &raw); err != nil {
		return nil, fmt.Errorf("getblock %s: %w", hash, err)
	}
	if raw.Hash == "" || len(raw.Tx) == 0 {
		return nil, fmt.Errorf("%w: block %s has no hash or transactions", ErrMalformed, hash)
	}
	return &types.Block{Hash: raw.Hash, Height: raw.Height, TxIDs: raw.Tx}, nil
}

// RawTransaction implements Source. Nodes that omit prevout from the
// verbose reply cost one extra call per input to look up the spent output.
func (s *NodeSource) RawTransaction(ctx context.Context, txid string) (*types.Transaction, error) {
	raw, err := s.rawTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}

	tx := &types.Transaction{
		TxID:      raw.TxID,
		BlockHash: raw.BlockHash,
		Inputs:    make([]types.Input, 0, len(raw.Vin)),
		Outputs:   make([]types.Output, 0, len(raw.Vout)),
	}
	for _, vin := range raw.Vin {
		var prev *rawVout
		if vin.Coinbase == "" && vin.Prevout == nil {
			if prev, err = s.spentOutput(ctx, vin.TxID, vin.Vout); err != nil {
				return nil, fmt.Errorf("tx %s: %w", txid, err)
			}
		}
		tx.Inputs = append(tx.Inputs, decodeInput(vin, prev))
	}
	for _, vout := range raw.Vout {
		out := decodeOutput(vout)
		if out.Address == "" && out.ScriptPubKey.Type.IsPubKey() {
			s.logger.Debug().Str("tx", txid).Uint32("vout", vout.N).Msg("Pay-to-pubkey output with invalid key")
		}
		tx.Outputs = append(tx.Outputs, out)
	}
	return tx, nil
}

func (s *NodeSource) rawTransaction(ctx context.Context, txid string) (*rawTransaction, error) {
	var raw rawTransaction
	if err := s.rpc.Call(ctx, "getrawtransaction", []interface{}{txid, 2}, &raw); err != nil {
		var rpcErr *rpcclient.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == rpcInvalidAddressOrKey {
			return nil, fmt.Errorf("getrawtransaction %s: %w: %w", txid, ErrTxNotFound, err)
		}
		return nil, fmt.Errorf("getrawtransaction %s: %w", txid, err)
	}
	if raw.TxID == "" {
		return nil, fmt.Errorf("%w: transaction %s has no txid", ErrMalformed, txid)
	}
	for _, vin := range raw.Vin {
		if vin.Coinbase == "" && vin.TxID == "" {
			return nil, fmt.Errorf("%w: transaction %s has an input without outpoint", ErrMalformed, txid)
		}
	}
	return &raw, nil
}

func (s *NodeSource) spentOutput(ctx context.Context, txid string, vout uint32) (*rawVout, error) {
	prev, err := s.rawTransaction(ctx, txid)
	if err != nil {
		return nil, fmt.Errorf("prevout %s:%d: %w", txid, vout, err)
	}
	for i := range prev.Vout {
		if prev.Vout[i].N == vout {
			return &prev.Vout[i], nil
		}
	}
	return nil, fmt.Errorf("%w: prevout %s:%d does not exist", ErrMalformed, txid, vout)
}
