package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/checkpoint"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/cluster"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/heuristics"
	klog "github.com/donutAnees/Cluster-Bitcoin-Address/internal/log"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/metrics"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/source"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/storage"
	"github.com/donutAnees/Cluster-Bitcoin-Address/pkg/types"
)

func init() {
	klog.Disable()
}

var _ Recorder = (*metrics.Metrics)(nil)

var errNodeDown = errors.New("node down")

// fakeChain is an in-memory source. Block h holds a coinbase paying m<h>
// and, from height 1, a spend of m<h-1> and k<h> to p<h> and c<h>.
type fakeChain struct {
	mu       sync.Mutex
	blocks   []*types.Block
	txs      map[string]*types.Transaction
	failAt   map[uint64]error
	countErr error
	onHeight func(uint64)
	fetched  []uint64
}

func newChain(height uint64) *fakeChain {
	c := &fakeChain{txs: make(map[string]*types.Transaction), failAt: make(map[uint64]error)}
	for h := uint64(0); h <= height; h++ {
		blk := &types.Block{Hash: fmt.Sprintf("hash%d", h), Height: h}
		for _, tx := range blockTxs(h) {
			tx.BlockHash = blk.Hash
			c.txs[tx.TxID] = tx
			blk.TxIDs = append(blk.TxIDs, tx.TxID)
		}
		c.blocks = append(c.blocks, blk)
	}
	return c
}

func blockTxs(h uint64) []*types.Transaction {
	txs := []*types.Transaction{{
		TxID:    fmt.Sprintf("cb%d", h),
		Inputs:  []types.Input{{Coinbase: true}},
		Outputs: []types.Output{{Address: fmt.Sprintf("m%d", h), Value: 50}},
	}}
	if h > 0 {
		txs = append(txs, &types.Transaction{
			TxID: fmt.Sprintf("t%d", h),
			Inputs: []types.Input{
				{Address: fmt.Sprintf("m%d", h-1), Value: 50},
				{Address: fmt.Sprintf("k%d", h), Value: 5},
			},
			Outputs: []types.Output{
				{Index: 0, Address: fmt.Sprintf("p%d", h), Value: 30},
				{Index: 1, Address: fmt.Sprintf("c%d", h), Value: 24},
			},
		})
	}
	return txs
}

func (c *fakeChain) BlockCount(ctx context.Context) (uint64, error) {
	if c.countErr != nil {
		return 0, c.countErr
	}
	return uint64(len(c.blocks) - 1), nil
}

func (c *fakeChain) BlockHashForHeight(ctx context.Context, height uint64) (string, error) {
	if c.onHeight != nil {
		c.onHeight(height)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failAt[height]; err != nil {
		return "", err
	}
	if height >= uint64(len(c.blocks)) {
		return "", fmt.Errorf("height %d out of range", height)
	}
	c.fetched = append(c.fetched, height)
	return c.blocks[height].Hash, nil
}

func (c *fakeChain) Block(ctx context.Context, hash string) (*types.Block, error) {
	for _, b := range c.blocks {
		if b.Hash == hash {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("block %s not found", hash)
}

func (c *fakeChain) RawTransaction(ctx context.Context, txid string) (*types.Transaction, error) {
	tx, ok := c.txs[txid]
	if !ok {
		return nil, fmt.Errorf("tx %s: %w", txid, source.ErrTxNotFound)
	}
	cp := *tx
	return &cp, nil
}

func (c *fakeChain) fetchedHeights() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.fetched...)
}

// reference runs blocks [0, through] straight through an engine.
func reference(t *testing.T, through uint64) *heuristics.Engine {
	t.Helper()
	e := heuristics.NewEngine(cluster.NewRegistry(), cluster.NewReuseCounter())
	for h := uint64(0); h <= through; h++ {
		require.NoError(t, e.ProcessBlock(blockTxs(h)))
	}
	return e
}

func newStore() (*checkpoint.Store, *storage.MemoryDB) {
	db := storage.NewMemory()
	return checkpoint.NewStore(db), db
}

func TestRun_ToTip(t *testing.T) {
	chain := newChain(4)
	store, _ := newStore()

	r := New(chain, store, Config{Workers: 4})
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(0), res.Start)
	assert.Equal(t, uint64(4), res.End)
	assert.Equal(t, uint64(5), res.Blocks)
	assert.Equal(t, uint64(4), res.Height)
	assert.Equal(t, 1, res.Checkpoints)
	assert.Equal(t, r.RunID(), res.RunID)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, chain.fetchedHeights())

	snap, err := store.Load()
	require.NoError(t, err)
	ref := reference(t, 4)
	assert.Equal(t, uint64(4), snap.Height)
	assert.Equal(t, r.RunID(), snap.RunID)
	assert.Equal(t, ref.Registry().Snapshot(), snap.Wallets)
	assert.Equal(t, ref.Counter().Snapshot(), snap.Frequencies)
	require.NoError(t, r.Engine().Registry().CheckPartition())
}

func TestRun_GenesisCoinbaseUnavailable(t *testing.T) {
	chain := newChain(2)
	delete(chain.txs, "cb0")
	store, _ := newStore()

	r := New(chain, store, Config{Workers: 2})
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Blocks)
	assert.Equal(t, uint64(2), res.Height)

	reg := r.Engine().Registry()
	// m0 is first seen as an input of t1.
	m0, ok := reg.EntityOf("m0")
	require.True(t, ok)
	k1, _ := reg.EntityOf("k1")
	assert.Equal(t, m0, k1)
	require.NoError(t, reg.CheckPartition())

	meta, err := store.Meta()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), meta.Height)
}

func TestRun_MissingTxAfterGenesisFails(t *testing.T) {
	chain := newChain(2)
	delete(chain.txs, "cb1")
	store, _ := newStore()

	res, err := New(chain, store, Config{}).Run(context.Background())
	require.ErrorIs(t, err, source.ErrTxNotFound)
	assert.Equal(t, uint64(1), res.Blocks)
	assert.Equal(t, uint64(0), res.Height)
}

func TestRun_CheckpointInterval(t *testing.T) {
	chain := newChain(4)
	store, _ := newStore()

	res, err := New(chain, store, Config{Interval: 2, Workers: 2}).Run(context.Background())
	require.NoError(t, err)
	// Heights 1 and 3 by interval, 4 at the end.
	assert.Equal(t, 3, res.Checkpoints)

	meta, err := store.Meta()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), meta.Generation)
	assert.Equal(t, uint64(4), meta.Height)
}

func TestRun_NoDuplicateFinalCheckpoint(t *testing.T) {
	chain := newChain(3)
	store, _ := newStore()

	res, err := New(chain, store, Config{Interval: 2, HasEnd: true, End: 3}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checkpoints)
}

func TestRun_Resume(t *testing.T) {
	chain := newChain(4)
	store, _ := newStore()

	first := New(chain, store, Config{HasEnd: true, End: 2})
	_, err := first.Run(context.Background())
	require.NoError(t, err)

	second := New(chain, store, Config{Workers: 3})
	meta, err := second.Restore()
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, uint64(2), meta.Height)
	assert.Equal(t, first.RunID(), meta.RunID)

	res, err := second.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Start)
	assert.Equal(t, uint64(2), res.Blocks)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, chain.fetchedHeights())

	snap, err := store.Load()
	require.NoError(t, err)
	ref := reference(t, 4)
	assert.Equal(t, ref.Registry().Snapshot(), snap.Wallets)
	assert.Equal(t, ref.Counter().Snapshot(), snap.Frequencies)
	assert.Equal(t, second.RunID(), snap.RunID)
}

func TestRun_UpToDate(t *testing.T) {
	chain := newChain(2)
	store, _ := newStore()
	_, err := New(chain, store, Config{}).Run(context.Background())
	require.NoError(t, err)

	res, err := New(chain, store, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Blocks)
	assert.Zero(t, res.Checkpoints)

	meta, err := store.Meta()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), meta.Generation)
}

func TestRun_ReplayCountsTwice(t *testing.T) {
	chain := newChain(2)
	store, _ := newStore()
	_, err := New(chain, store, Config{}).Run(context.Background())
	require.NoError(t, err)

	r := New(chain, store, Config{HasStart: true, Start: 1, HasEnd: true, End: 1})
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Blocks)
	assert.Equal(t, uint64(2), r.Engine().Counter().Count("m1"))
	require.NoError(t, r.Engine().Registry().CheckPartition())
}

func TestRun_SourceErrorCheckpointsLastBlock(t *testing.T) {
	chain := newChain(4)
	chain.failAt[3] = errNodeDown
	store, _ := newStore()

	res, err := New(chain, store, Config{}).Run(context.Background())
	require.ErrorIs(t, err, errNodeDown)
	assert.Equal(t, uint64(3), res.Blocks)
	assert.Equal(t, 1, res.Checkpoints)

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Height)
	assert.Equal(t, reference(t, 2).Registry().Snapshot(), snap.Wallets)
}

func TestRun_SourceErrorBeforeAnyBlock(t *testing.T) {
	chain := newChain(1)
	chain.failAt[0] = errNodeDown
	store, _ := newStore()

	res, err := New(chain, store, Config{}).Run(context.Background())
	require.ErrorIs(t, err, errNodeDown)
	assert.Zero(t, res.Checkpoints)

	_, err = store.Meta()
	assert.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
}

func TestRun_Cancelled(t *testing.T) {
	chain := newChain(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chain.onHeight = func(h uint64) {
		if h == 2 {
			cancel()
		}
	}
	store, _ := newStore()

	res, err := New(chain, store, Config{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(2), res.Blocks)

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Height)
}

func TestRun_BlockCountError(t *testing.T) {
	chain := newChain(1)
	chain.countErr = errNodeDown
	store, _ := newStore()

	_, err := New(chain, store, Config{}).Run(context.Background())
	require.ErrorIs(t, err, errNodeDown)
	assert.Empty(t, chain.fetchedHeights())
}

func TestRun_CorruptCheckpoint(t *testing.T) {
	chain := newChain(1)
	store, db := newStore()
	require.NoError(t, db.Put([]byte("s/meta"), []byte("{")))

	_, err := New(chain, store, Config{}).Run(context.Background())
	require.ErrorIs(t, err, checkpoint.ErrCorrupt)
	assert.Empty(t, chain.fetchedHeights())
}

type countingRecorder struct {
	mu          sync.Mutex
	txs         int
	heuristics  map[heuristics.Kind]int
	blocks      []uint64
	checkpoints int
	observed    int
}

func (c *countingRecorder) TransactionProcessed() {
	c.mu.Lock()
	c.txs++
	c.mu.Unlock()
}

func (c *countingRecorder) HeuristicApplied(kind heuristics.Kind) {
	c.mu.Lock()
	c.heuristics[kind]++
	c.mu.Unlock()
}

func (c *countingRecorder) BlockProcessed(height uint64, _ time.Duration) {
	c.blocks = append(c.blocks, height)
}

func (c *countingRecorder) CheckpointSaved() { c.checkpoints++ }

func (c *countingRecorder) ObserveRegistry(*cluster.Registry) { c.observed++ }

func TestRun_Recorder(t *testing.T) {
	chain := newChain(2)
	store, _ := newStore()
	rec := &countingRecorder{heuristics: make(map[heuristics.Kind]int)}

	r := New(chain, store, Config{})
	r.SetRecorder(rec)
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, rec.txs)
	assert.Equal(t, 3, rec.heuristics[heuristics.KindCoinbase])
	assert.Equal(t, 2, rec.heuristics[heuristics.KindCommonInput])
	assert.Equal(t, []uint64{0, 1, 2}, rec.blocks)
	assert.Equal(t, 1, rec.checkpoints)
	assert.Equal(t, 3, rec.observed)
}

func TestRun_Deterministic(t *testing.T) {
	chain := newChain(6)
	var snaps []map[string]uint64
	for i := 0; i < 2; i++ {
		store, _ := newStore()
		_, err := New(chain, store, Config{Workers: 8, Interval: 3}).Run(context.Background())
		require.NoError(t, err)
		snap, err := store.Load()
		require.NoError(t, err)
		snaps = append(snaps, snap.Wallets)
	}
	assert.Equal(t, snaps[0], snaps[1])
}
