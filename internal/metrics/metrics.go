// Package metrics exposes clustering progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/cluster"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/heuristics"
	klog "github.com/donutAnees/Cluster-Bitcoin-Address/internal/log"
)

const namespace = "clusterd"

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	blocks        prometheus.Counter
	transactions  prometheus.Counter
	heuristicHits *prometheus.CounterVec
	checkpoints   prometheus.Counter
	entities      prometheus.Gauge
	wallets       prometheus.Gauge
	freeIDs       prometheus.Gauge
	height        prometheus.Gauge
	blockSeconds  prometheus.Histogram
	created       prometheus.Gauge
	absorbed      prometheus.Gauge
	retired       prometheus.Gauge
}

// New creates the collectors and registers them, with the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_processed_total",
			Help:      "Blocks fully processed by the heuristics engine.",
		}),
		transactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_processed_total",
			Help:      "Transactions processed by the heuristics engine.",
		}),
		heuristicHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heuristic_applied_total",
			Help:      "Heuristic applications, by heuristic.",
		}, []string{"heuristic"}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_saved_total",
			Help:      "Checkpoints written.",
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities",
			Help:      "Live entities.",
		}),
		wallets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallets",
			Help:      "Wallets assigned to an entity.",
		}),
		freeIDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "free_entity_ids",
			Help:      "Entity ids waiting to be reused.",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "height",
			Help:      "Height of the last processed block.",
		}),
		blockSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_duration_seconds",
			Help:      "Time to fetch and process one block.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		created: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities_created",
			Help:      "Entities created during this run.",
		}),
		absorbed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities_absorbed",
			Help:      "Entities merged into another during this run.",
		}),
		retired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities_retired",
			Help:      "Entities emptied by a coinbase claim during this run.",
		}),
	}
	m.registry.MustRegister(
		m.blocks, m.transactions, m.heuristicHits, m.checkpoints,
		m.entities, m.wallets, m.freeIDs, m.height, m.blockSeconds,
		m.created, m.absorbed, m.retired,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, k := range heuristics.Kinds {
		m.heuristicHits.WithLabelValues(string(k))
	}
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// TransactionProcessed implements heuristics.Observer.
func (m *Metrics) TransactionProcessed() { m.transactions.Inc() }

// HeuristicApplied implements heuristics.Observer.
func (m *Metrics) HeuristicApplied(kind heuristics.Kind) {
	m.heuristicHits.WithLabelValues(string(kind)).Inc()
}

// BlockProcessed records a completed block.
func (m *Metrics) BlockProcessed(height uint64, took time.Duration) {
	m.blocks.Inc()
	m.height.Set(float64(height))
	m.blockSeconds.Observe(took.Seconds())
}

// CheckpointSaved records a written checkpoint.
func (m *Metrics) CheckpointSaved() { m.checkpoints.Inc() }

// ObserveRegistry refreshes the gauges that mirror registry size.
func (m *Metrics) ObserveRegistry(r *cluster.Registry) {
	m.entities.Set(float64(r.Len()))
	m.wallets.Set(float64(r.WalletCount()))
	m.freeIDs.Set(float64(len(r.FreeIDs())))
	st := r.Stats()
	m.created.Set(float64(st.Created))
	m.absorbed.Set(float64(st.Absorbed))
	m.retired.Set(float64(st.Retired))
}

// Server serves /metrics over HTTP.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// Listen binds addr and prepares a server for m. Use ":0" for an
// ephemeral port.
func Listen(addr string, m *Metrics) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: klog.Metrics,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks serving requests until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info().Str("addr", s.Addr()).Msg("Metrics server started")
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
