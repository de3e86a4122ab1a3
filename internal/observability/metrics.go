package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

// Metrics exposes ingestion counters in Prometheus format. Each instance
// owns its registry so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	records       *prometheus.CounterVec
	nodes         prometheus.Counter
	liveMatches   prometheus.Gauge
	cycleDuration prometheus.Histogram
	lastSuccess   prometheus.Gauge
	cacheLookups  *prometheus.GaugeVec

	logger *slog.Logger
}

// NewMetrics creates and registers the collectors.
func NewMetrics(logger *slog.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "korastalk_cycles_total",
			Help: "Ingestion cycles by result",
		}, []string{"result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "korastalk_records_total",
			Help: "Reconciled records by outcome",
		}, []string{"outcome"}),
		nodes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "korastalk_candidate_nodes_total",
			Help: "Match candidate nodes found on the source page",
		}),
		liveMatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "korastalk_live_matches",
			Help: "Live matches seen in the last cycle",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "korastalk_cycle_duration_seconds",
			Help:    "Wall time of one ingestion cycle",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "korastalk_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that reached the store",
		}),
		cacheLookups: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "korastalk_entity_cache_lookups",
			Help: "Entity cache lookups by kind and result",
		}, []string{"kind", "result"}),
		logger: logger.With("component", "metrics"),
	}
	m.registry.MustRegister(
		m.cycles, m.records, m.nodes, m.liveMatches,
		m.cycleDuration, m.lastSuccess, m.cacheLookups,
	)
	return m
}

// CycleReport summarizes one ingestion cycle.
type CycleReport struct {
	Nodes    int
	Live     int
	Counts   types.Counts
	Duration time.Duration
	Err      error
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(r CycleReport) {
	result := "ok"
	if r.Err != nil {
		result = "error"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(r.Duration.Seconds())
	m.nodes.Add(float64(r.Nodes))
	m.liveMatches.Set(float64(r.Live))
	m.records.WithLabelValues(types.OutcomeInserted.String()).Add(float64(r.Counts.Inserted))
	m.records.WithLabelValues(types.OutcomeUpdated.String()).Add(float64(r.Counts.Updated))
	m.records.WithLabelValues(types.OutcomeSkipped.String()).Add(float64(r.Counts.Skipped))
	if r.Err == nil {
		m.lastSuccess.SetToCurrentTime()
	}
}

// SetCacheLookups publishes the entity cache counters.
func (m *Metrics) SetCacheLookups(leagueHits, leagueMisses, teamHits, teamMisses int64) {
	m.cacheLookups.WithLabelValues("league", "hit").Set(float64(leagueHits))
	m.cacheLookups.WithLabelValues("league", "miss").Set(float64(leagueMisses))
	m.cacheLookups.WithLabelValues("team", "hit").Set(float64(teamHits))
	m.cacheLookups.WithLabelValues("team", "miss").Set(float64(teamMisses))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics server until ctx is done.
func (m *Metrics) Serve(ctx context.Context, port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	m.logger.Info("metrics server starting", "addr", srv.Addr, "path", path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
