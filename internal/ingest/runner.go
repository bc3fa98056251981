// Package ingest drives a clustering run: it restores the last checkpoint,
// walks an inclusive range of block heights through the heuristics engine
// and checkpoints the state as it goes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/checkpoint"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/cluster"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/heuristics"
	klog "github.com/donutAnees/Cluster-Bitcoin-Address/internal/log"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/source"
)

// DefaultInterval is the number of blocks between checkpoints.
const DefaultInterval = 50

// Config controls a run. Bounds are inclusive; an unset start resumes after
// the checkpoint and an unset end runs to the node's best block.
type Config struct {
	Start    uint64
	End      uint64
	HasStart bool
	HasEnd   bool
	Interval uint64
	Workers  int
}

// Recorder receives run events. *metrics.Metrics implements it.
type Recorder interface {
	heuristics.Observer
	BlockProcessed(height uint64, took time.Duration)
	CheckpointSaved()
	ObserveRegistry(r *cluster.Registry)
}

type nopRecorder struct{}

func (nopRecorder) TransactionProcessed()                {}
func (nopRecorder) HeuristicApplied(heuristics.Kind)     {}
func (nopRecorder) BlockProcessed(uint64, time.Duration) {}
func (nopRecorder) CheckpointSaved()                     {}
func (nopRecorder) ObserveRegistry(*cluster.Registry)    {}

// Result summarizes a run.
type Result struct {
	RunID string
	// Start and End are the resolved bounds.
	Start uint64
	End   uint64
	// Blocks is the number of blocks fully processed.
	Blocks uint64
	// Height is the last fully processed block. Valid when Blocks > 0.
	Height      uint64
	Checkpoints int
	Elapsed     time.Duration
}

// Runner owns the clustering state for one run.
type Runner struct {
	src      source.Source
	store    *checkpoint.Store
	engine   *heuristics.Engine
	recorder Recorder
	cfg      Config
	runID    string
	logger   zerolog.Logger
	now      func() time.Time

	restored *checkpoint.Meta
	loaded   bool
}

// New creates a runner with an empty registry and counter.
func New(src source.Source, store *checkpoint.Store, cfg Config) *Runner {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	runID := uuid.NewString()
	return &Runner{
		src:      src,
		store:    store,
		engine:   heuristics.NewEngine(cluster.NewRegistry(), cluster.NewReuseCounter()),
		recorder: nopRecorder{},
		cfg:      cfg,
		runID:    runID,
		logger:   klog.WithRunID("ingest", runID),
		now:      time.Now,
	}
}

// SetRecorder installs an event recorder. Nil restores the no-op recorder.
func (r *Runner) SetRecorder(rec Recorder) {
	if rec == nil {
		rec = nopRecorder{}
	}
	r.recorder = rec
	r.engine.SetObserver(rec)
}

// RunID returns the run's unique id.
func (r *Runner) RunID() string { return r.runID }

// Engine returns the engine holding the run's state.
func (r *Runner) Engine() *heuristics.Engine { return r.engine }

// Restore loads the latest checkpoint into the empty registry and counter.
// It returns nil meta when no checkpoint exists. Later calls return the
// first result.
func (r *Runner) Restore() (*checkpoint.Meta, error) {
	if r.loaded {
		return r.restored, nil
	}
	snap, err := r.store.Load()
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		r.logger.Info().Msg("No checkpoint, starting empty")
		r.loaded = true
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if err := snap.Apply(r.engine.Registry(), r.engine.Counter()); err != nil {
		return nil, fmt.Errorf("apply checkpoint: %w", err)
	}
	meta, err := r.store.Meta()
	if err != nil {
		return nil, err
	}
	r.restored, r.loaded = meta, true
	r.recorder.ObserveRegistry(r.engine.Registry())
	r.logger.Info().
		Uint64("height", snap.Height).
		Int("wallets", len(snap.Wallets)).
		Int("entities", r.engine.Registry().Len()).
		Str("saved_by", snap.RunID).
		Msg("Checkpoint restored")
	return meta, nil
}

// resolveRange picks the bounds for this run. ok is false when there is
// nothing left to process.
func (r *Runner) resolveRange(ctx context.Context) (start, end uint64, ok bool, err error) {
	switch {
	case r.cfg.HasStart:
		start = r.cfg.Start
		if r.restored != nil && start <= r.restored.Height {
			r.logger.Warn().
				Uint64("start", start).
				Uint64("checkpoint_height", r.restored.Height).
				Msg("Replaying checkpointed heights, reuse counts will include them twice")
		}
	case r.restored != nil:
		start = r.restored.Height + 1
	}

	if r.cfg.HasEnd {
		end = r.cfg.End
	} else {
		tip, err := r.src.BlockCount(ctx)
		if err != nil {
			return 0, 0, false, fmt.Errorf("block count: %w", err)
		}
		end = tip
	}
	return start, end, start <= end, nil
}

// Run restores the checkpoint if Restore has not been called yet, then
// processes the resolved range. Every Interval blocks and once at the end
// the state is checkpointed at the last completed height. A source error or
// cancellation stops the run after that final checkpoint. An engine error
// stops it without one.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	began := r.now()
	res := &Result{RunID: r.runID}

	if _, err := r.Restore(); err != nil {
		return res, err
	}

	start, end, ok, err := r.resolveRange(ctx)
	if err != nil {
		return res, err
	}
	res.Start, res.End = start, end
	if !ok {
		r.logger.Info().Uint64("start", start).Uint64("end", end).Msg("Nothing to process")
		res.Elapsed = r.now().Sub(began)
		return res, nil
	}

	r.logger.Info().
		Uint64("start", start).
		Uint64("end", end).
		Uint64("interval", r.cfg.Interval).
		Int("workers", r.cfg.Workers).
		Msg("Run started")

	var (
		runErr   error
		unsaved  uint64
		registry = r.engine.Registry()
	)
	for h := start; ; h++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		blockStart := r.now()
		blk, txs, err := source.BlockTransactions(ctx, r.src, h, r.cfg.Workers)
		if err != nil {
			runErr = err
			break
		}
		if err := r.engine.ProcessBlock(txs); err != nil {
			// The block is partially applied; persisting it would corrupt
			// the last good checkpoint.
			r.logger.Error().Err(err).Uint64("height", h).Msg("Clustering state corrupt, not checkpointing")
			res.Elapsed = r.now().Sub(began)
			return res, fmt.Errorf("block %d: %w", h, err)
		}

		took := r.now().Sub(blockStart)
		res.Blocks++
		res.Height = h
		unsaved++
		r.recorder.BlockProcessed(h, took)
		r.recorder.ObserveRegistry(registry)
		r.logger.Info().
			Uint64("height", h).
			Str("hash", blk.Hash).
			Int("txs", len(txs)).
			Int("entities", registry.Len()).
			Int("wallets", registry.WalletCount()).
			Dur("took", took).
			Msg("Block processed")

		if unsaved >= r.cfg.Interval {
			if err := r.checkpoint(h); err != nil {
				res.Elapsed = r.now().Sub(began)
				return res, err
			}
			res.Checkpoints++
			unsaved = 0
		}
		if h == end {
			break
		}
	}

	if unsaved > 0 {
		if err := r.checkpoint(res.Height); err != nil {
			runErr = errors.Join(runErr, err)
		} else {
			res.Checkpoints++
		}
	}

	res.Elapsed = r.now().Sub(began)
	ev := r.logger.Info()
	if runErr != nil {
		ev = r.logger.Warn().Err(runErr)
	}
	ev.Uint64("blocks", res.Blocks).
		Uint64("height", res.Height).
		Int("checkpoints", res.Checkpoints).
		Dur("elapsed", res.Elapsed).
		Msg("Run finished")
	return res, runErr
}

// checkpoint saves the current state at height.
func (r *Runner) checkpoint(height uint64) error {
	snap := checkpoint.Capture(r.engine.Registry(), r.engine.Counter(), height)
	snap.RunID = r.runID
	meta, err := r.store.Save(snap)
	if err != nil {
		return fmt.Errorf("checkpoint at %d: %w", height, err)
	}
	r.recorder.CheckpointSaved()
	r.logger.Info().
		Uint64("height", height).
		Uint64("generation", meta.Generation).
		Int("wallets", meta.Wallets).
		Int("entities", meta.Entities).
		Msg("Checkpoint saved")
	return nil
}
