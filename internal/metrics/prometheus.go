package metrics

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for guestprof
type Metrics struct {
	registry *prometheus.Registry

	// Transaction counters
	TxCommitted prometheus.Counter
	TxFailed    prometheus.Counter

	// Gas burnt across all committed transactions and receipts
	GasBurntTotal prometheus.Counter

	// Accumulated cost per ledger accumulator, in NEAR
	CostTotal *prometheus.GaugeVec

	// Closed measurements per accumulator and kind
	Measurements *prometheus.CounterVec

	// Stage duration histogram and failures
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec

	// HTTP server
	server *http.Server
	mu     sync.Mutex
}

// NewMetrics creates a new Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TxCommitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_committed_total",
			Help:      "Total number of transactions committed",
		}),
		TxFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_failed_total",
			Help:      "Total number of transactions whose execution failed",
		}),
		GasBurntTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gas_burnt_total",
			Help:      "Total gas burnt by transactions and their receipts",
		}),
		CostTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cost_near",
			Help:      "Accumulated cost per accumulator in NEAR",
		}, []string{"key"}),
		Measurements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Closed cost measurements per accumulator and kind",
		}, []string{"key", "kind"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each profiling stage in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Number of failed profiling stages",
		}, []string{"stage"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, port int) error {
	m.mu.Lock()
	if m.server != nil {
		m.mu.Unlock()
		return fmt.Errorf("metrics server already running")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.server = srv
	m.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		m.clear()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		m.clear()
		return err
	}
}

func (m *Metrics) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.server = nil
}

// IsRunning returns true if the metrics server is running
func (m *Metrics) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.server != nil
}

// RecordOutcome counts a committed transaction and its gas.
func (m *Metrics) RecordOutcome(gasBurnt uint64, failed bool) {
	m.TxCommitted.Inc()
	if failed {
		m.TxFailed.Inc()
	}
	m.GasBurntTotal.Add(float64(gasBurnt))
}

// RecordCost sets the accumulator gauge to total (yoctoNEAR) and counts the measurement.
func (m *Metrics) RecordCost(key, kind string, total *big.Int) {
	m.CostTotal.WithLabelValues(key).Set(yoctoToNear(total))
	m.Measurements.WithLabelValues(key, kind).Inc()
}

// RecordStage records the duration of a stage and whether it failed.
func (m *Metrics) RecordStage(stage string, duration time.Duration, failed bool) {
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if failed {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

func yoctoToNear(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e24)).Float64()
	return f
}
