package heuristics

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/cluster"
	klog "github.com/donutAnees/Cluster-Bitcoin-Address/internal/log"
	"github.com/donutAnees/Cluster-Bitcoin-Address/pkg/types"
)

func init() {
	klog.Disable()
}

func in(addr string, value uint64) types.Input {
	return types.Input{Address: addr, Value: value}
}

func out(addr string, value uint64) types.Output {
	return types.Output{Address: addr, Value: value}
}

func spend(txid string, ins []types.Input, outs ...types.Output) *types.Transaction {
	for i := range outs {
		outs[i].Index = uint32(i)
	}
	return &types.Transaction{TxID: txid, Inputs: ins, Outputs: outs}
}

func coinbase(txid string, outs ...types.Output) *types.Transaction {
	return spend(txid, []types.Input{{Coinbase: true}}, outs...)
}

func newTestEngine() *Engine {
	return NewEngine(cluster.NewRegistry(), cluster.NewReuseCounter())
}

func ownerOf(t *testing.T, e *Engine, wallet string) uint64 {
	t.Helper()
	id, ok := e.Registry().EntityOf(wallet)
	require.True(t, ok, "wallet %s has no entity", wallet)
	return id
}

type fixedCounter map[string]uint64

func (c fixedCounter) Count(a string) uint64 { return c[a] }

func TestChangeAddress(t *testing.T) {
	tests := []struct {
		name   string
		tx     *types.Transaction
		counts fixedCounter
		want   []Intent
	}{
		{
			name: "single output sweep",
			tx:   spend("t", []types.Input{in("a", 5)}, out("x", 4)),
			want: []Intent{{Wallet: "x", Anchor: "a", Kind: KindSweep}},
		},
		{
			name:   "first output fresh",
			tx:     spend("t", []types.Input{in("a", 5)}, out("c", 1), out("x", 3)),
			counts: fixedCounter{"c": 1, "x": 5},
			want:   []Intent{{Wallet: "c", Anchor: "a", Kind: KindChange}},
		},
		{
			name:   "second output fresh",
			tx:     spend("t", []types.Input{in("a", 5)}, out("x", 3), out("c", 1)),
			counts: fixedCounter{"c": 1, "x": 5},
			want:   []Intent{{Wallet: "c", Anchor: "a", Kind: KindChange}},
		},
		{
			name:   "both fresh",
			tx:     spend("t", []types.Input{in("a", 5)}, out("x", 3), out("c", 1)),
			counts: fixedCounter{"c": 1, "x": 1},
		},
		{
			name:   "both reused",
			tx:     spend("t", []types.Input{in("a", 5)}, out("x", 3), out("c", 1)),
			counts: fixedCounter{"c": 2, "x": 7},
		},
		{
			name:   "payment back to spender",
			tx:     spend("t", []types.Input{in("a", 5)}, out("a", 3), out("c", 1)),
			counts: fixedCounter{"a": 4, "c": 1},
		},
		{
			name:   "anchor skips inputs without address",
			tx:     spend("t", []types.Input{in("", 1), in("b", 5)}, out("x", 3), out("c", 1)),
			counts: fixedCounter{"c": 1, "x": 2},
			want:   []Intent{{Wallet: "c", Anchor: "b", Kind: KindChange}},
		},
		{
			name:   "nulldata output",
			tx:     spend("t", []types.Input{in("a", 5)}, out("", 0), out("c", 1)),
			counts: fixedCounter{"c": 1},
		},
		{
			name:   "three outputs",
			tx:     spend("t", []types.Input{in("a", 5)}, out("x", 1), out("c", 1), out("y", 1)),
			counts: fixedCounter{"c": 1, "x": 5, "y": 5},
		},
		{
			name: "no input address",
			tx:   spend("t", []types.Input{in("", 5)}, out("x", 4)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counts := tt.counts
			if counts == nil {
				counts = fixedCounter{}
			}
			assert.Equal(t, tt.want, ChangeAddress(tt.tx, counts))
		})
	}
}

func TestScriptChain(t *testing.T) {
	tests := []struct {
		name string
		tx   *types.Transaction
		want []Intent
	}{
		{
			name: "smallest input needed",
			tx:   spend("t", []types.Input{in("a", 5), in("b", 3)}, out("p", 6), out("c", 2)),
			want: []Intent{{Wallet: "c", Anchor: "a", Kind: KindScriptChain}},
		},
		{
			name: "boundary is inclusive",
			tx:   spend("t", []types.Input{in("a", 10), in("b", 10)}, out("c", 5), out("p", 10)),
			want: []Intent{{Wallet: "c", Anchor: "a", Kind: KindScriptChain}},
		},
		{
			name: "sum counts every input",
			tx:   spend("t", []types.Input{in("a", 10), in("b", 10), in("d", 10)}, out("p", 15), out("c", 15)),
		},
		{
			name: "equal outputs take first as change",
			tx:   spend("t", []types.Input{in("a", 4), in("b", 4)}, out("c", 4), out("p", 4)),
			want: []Intent{{Wallet: "c", Anchor: "a", Kind: KindScriptChain}},
		},
		{
			name: "unneeded input",
			tx:   spend("t", []types.Input{in("a", 50), in("b", 30)}, out("p", 20), out("c", 5)),
		},
		{
			name: "single input",
			tx:   spend("t", []types.Input{in("a", 5)}, out("p", 4), out("c", 1)),
		},
		{
			name: "three outputs",
			tx:   spend("t", []types.Input{in("a", 5), in("b", 3)}, out("p", 6), out("c", 1), out("d", 1)),
		},
		{
			name: "change without address",
			tx:   spend("t", []types.Input{in("a", 5), in("b", 3)}, out("p", 6), out("", 0)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScriptChain(tt.tx))
		})
	}
}

func TestEngine_Sweep(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		spend("t1", []types.Input{in("a", 3), in("b", 4)}, out("x", 6)),
	}))

	id := ownerOf(t, e, "a")
	assert.Equal(t, id, ownerOf(t, e, "b"))
	assert.Equal(t, id, ownerOf(t, e, "x"))
	assert.Equal(t, 1, e.Registry().Len())
	require.NoError(t, e.Registry().CheckPartition())
}

func TestEngine_SweepMovesOnlyPaidWallet(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Registry().Restore(1, []string{"x"}))
	require.NoError(t, e.Registry().Restore(2, []string{"p", "q", "r"}))

	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		spend("t1", []types.Input{in("x", 5)}, out("p", 4)),
	}))

	assert.Equal(t, uint64(1), ownerOf(t, e, "p"))
	assert.Equal(t, uint64(2), ownerOf(t, e, "q"))
	assert.Equal(t, uint64(2), ownerOf(t, e, "r"))
	ws, _ := e.Registry().Wallets(1)
	assert.Equal(t, []string{"p", "x"}, ws)
	ws, _ = e.Registry().Wallets(2)
	assert.Equal(t, []string{"q", "r"}, ws)
	require.NoError(t, e.Registry().CheckPartition())
}

func TestEngine_ChangeSelection(t *testing.T) {
	e := newTestEngine()
	// x was paid four times before this block.
	e.Counter().Restore("x", 4)

	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		spend("t1", []types.Input{in("a", 10)}, out("x", 7), out("c", 2)),
	}))

	assert.Equal(t, uint64(5), e.Counter().Count("x"))
	assert.Equal(t, uint64(1), e.Counter().Count("c"))
	assert.Equal(t, ownerOf(t, e, "a"), ownerOf(t, e, "c"))
	_, ok := e.Registry().EntityOf("x")
	assert.False(t, ok)
	require.NoError(t, e.Registry().CheckPartition())
}

func TestEngine_SelfPaymentSkipped(t *testing.T) {
	e := newTestEngine()
	e.Counter().Restore("a", 3)

	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		spend("t1", []types.Input{in("a", 10)}, out("a", 7), out("c", 2)),
	}))

	_, ok := e.Registry().EntityOf("c")
	assert.False(t, ok)
	ws, _ := e.Registry().Wallets(ownerOf(t, e, "a"))
	assert.Equal(t, []string{"a"}, ws)
}

func TestEngine_BlockCountedBeforeHeuristics(t *testing.T) {
	e := newTestEngine()
	// x is paid twice within the block, so in t1 it already counts as reused.
	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		spend("t1", []types.Input{in("a", 10)}, out("x", 7), out("c", 2)),
		spend("t2", []types.Input{in("d", 10)}, out("x", 9)),
	}))

	assert.Equal(t, ownerOf(t, e, "a"), ownerOf(t, e, "c"))
	// The t2 sweep joins x with d only.
	assert.Equal(t, ownerOf(t, e, "d"), ownerOf(t, e, "x"))
	assert.NotEqual(t, ownerOf(t, e, "a"), ownerOf(t, e, "d"))
	require.NoError(t, e.Registry().CheckPartition())
}

func TestEngine_ScriptChain(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		spend("t1", []types.Input{in("a", 5), in("b", 3)}, out("p", 6), out("c", 2)),
	}))

	id := ownerOf(t, e, "a")
	assert.Equal(t, id, ownerOf(t, e, "b"))
	assert.Equal(t, id, ownerOf(t, e, "c"))
	_, ok := e.Registry().EntityOf("p")
	assert.False(t, ok)
}

func TestEngine_CommonInputMerge(t *testing.T) {
	e := newTestEngine()
	r := e.Registry()
	require.NoError(t, r.Restore(3, []string{"a"}))
	require.NoError(t, r.Restore(7, []string{"b"}))
	require.NoError(t, r.Restore(9, []string{"c"}))

	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		spend("t1", []types.Input{in("a", 1), in("b", 1), in("c", 1)}, out("p", 1), out("q", 1), out("r", 1)),
	}))

	assert.Equal(t, []uint64{3}, r.IDs())
	ws, _ := r.Wallets(3)
	assert.Equal(t, []string{"a", "b", "c"}, ws)

	id, err := r.CreateEntity([]string{"n1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)
	id, err = r.CreateEntity([]string{"n2"})
	require.NoError(t, err)
	assert.Equal(t, uint64(9), id)
}

func TestEngine_CoinbaseIsolation(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		coinbase("cb1", out("m", 50)),
		spend("t1", []types.Input{in("a", 10)}, out("b", 9)),
	}))
	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		coinbase("cb2", out("n", 50), out("", 0)),
	}))

	m, n, a := ownerOf(t, e, "m"), ownerOf(t, e, "n"), ownerOf(t, e, "a")
	assert.NotEqual(t, m, n)
	assert.NotEqual(t, m, a)
	assert.NotEqual(t, n, a)

	ws, _ := e.Registry().Wallets(n)
	assert.Equal(t, []string{"n"}, ws)
	_, ok := e.Registry().EntityOf("")
	assert.False(t, ok)
	require.NoError(t, e.Registry().CheckPartition())
}

func TestEngine_CoinbaseReclaimsKnownWallet(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		spend("t1", []types.Input{in("a", 10), in("b", 1)}, out("p", 5), out("q", 5), out("r", 1)),
	}))
	before := ownerOf(t, e, "a")

	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		coinbase("cb", out("b", 50)),
	}))

	assert.Equal(t, before, ownerOf(t, e, "a"))
	assert.NotEqual(t, before, ownerOf(t, e, "b"))
	require.NoError(t, e.Registry().CheckPartition())
}

func TestEngine_SkipsTransactionsWithoutInputAddress(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		spend("t1", []types.Input{in("", 10)}, out("x", 9)),
	}))
	assert.Equal(t, 0, e.Registry().Len())
	assert.Equal(t, uint64(1), e.Counter().Count("x"))
}

type recordingObserver struct {
	mu   sync.Mutex
	txs  int
	hits map[Kind]int
}

func (o *recordingObserver) TransactionProcessed() {
	o.mu.Lock()
	o.txs++
	o.mu.Unlock()
}

func (o *recordingObserver) HeuristicApplied(k Kind) {
	o.mu.Lock()
	o.hits[k]++
	o.mu.Unlock()
}

func TestEngine_Observer(t *testing.T) {
	e := newTestEngine()
	obs := &recordingObserver{hits: make(map[Kind]int)}
	e.SetObserver(obs)

	require.NoError(t, e.ProcessBlock([]*types.Transaction{
		coinbase("cb", out("m", 50)),
		spend("t1", []types.Input{in("a", 3), in("b", 4)}, out("x", 6)),
		spend("t2", []types.Input{in("c", 5), in("d", 3)}, out("p", 6), out("q", 2)),
	}))

	assert.Equal(t, 3, obs.txs)
	assert.Equal(t, 1, obs.hits[KindCoinbase])
	assert.Equal(t, 2, obs.hits[KindCommonInput])
	assert.Equal(t, 1, obs.hits[KindSweep])
	assert.Equal(t, 1, obs.hits[KindScriptChain])
	assert.Equal(t, 0, obs.hits[KindChange])

	e.SetObserver(nil)
	require.NoError(t, e.ProcessBlock(nil))
}

// randomBlocks builds a reproducible chain of blocks over a small address
// pool so that heuristics frequently collide.
func randomBlocks(seed int64, n int) [][]*types.Transaction {
	rng := rand.New(rand.NewSource(seed))
	addr := func() string { return fmt.Sprintf("addr%d", rng.Intn(60)) }
	blocks := make([][]*types.Transaction, n)
	for b := range blocks {
		txs := []*types.Transaction{coinbase(fmt.Sprintf("cb%d", b), out(addr(), 50))}
		for i := 0; i < 1+rng.Intn(6); i++ {
			ins := make([]types.Input, 1+rng.Intn(3))
			for j := range ins {
				ins[j] = in(addr(), uint64(1+rng.Intn(100)))
			}
			outs := make([]types.Output, 1+rng.Intn(3))
			for j := range outs {
				outs[j] = out(addr(), uint64(1+rng.Intn(100)))
			}
			txs = append(txs, spend(fmt.Sprintf("t%d-%d", b, i), ins, outs...))
		}
		blocks[b] = txs
	}
	return blocks
}

func TestEngine_Deterministic(t *testing.T) {
	run := func() (map[string]uint64, map[string]uint64) {
		e := newTestEngine()
		for _, txs := range randomBlocks(7, 40) {
			require.NoError(t, e.ProcessBlock(txs))
			require.NoError(t, e.Registry().CheckPartition())
		}
		return e.Registry().Snapshot(), e.Counter().Snapshot()
	}

	w1, f1 := run()
	w2, f2 := run()
	assert.Equal(t, w1, w2)
	assert.Equal(t, f1, f2)
	assert.NotEmpty(t, w1)
}
