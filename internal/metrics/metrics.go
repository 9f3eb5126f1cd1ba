package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "lstyield"

// Metrics holds the Prometheus collectors of the yield pipeline.
type Metrics struct {
	registry *prometheus.Registry

	RPCRequests     *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	Computations    *prometheus.CounterVec
	ComputeDuration prometheus.Histogram
	BaseYield       prometheus.Gauge
	EndBlock        prometheus.Gauge
	AlertsSent      prometheus.Counter
}

// New registers all collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests by method and outcome",
			},
			[]string{"method", "status"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Observation cache lookups by result",
			},
			[]string{"result"},
		),
		Computations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "computations_total",
				Help:      "Base yield computations by outcome",
			},
			[]string{"status"},
		),
		ComputeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "computation_duration_seconds",
			Help:      "Wall time of a full computation including RPC access",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		BaseYield: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "base_yield_ratio",
			Help:      "Most recently computed annualized base yield",
		}),
		EndBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "end_block",
			Help:      "Block number of the most recent computation",
		}),
		AlertsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "sent_total",
			Help:      "Alerts dispatched",
		}),
	}
}

// ObserveRPC counts one JSON-RPC call.
func (m *Metrics) ObserveRPC(method string, err error) {
	m.RPCRequests.WithLabelValues(method, status(err)).Inc()
}

// ObserveCache counts one cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveComputation records the outcome of one computation.
func (m *Metrics) ObserveComputation(took time.Duration, baseYield float64, endBlock uint64, err error) {
	m.Computations.WithLabelValues(status(err)).Inc()
	m.ComputeDuration.Observe(took.Seconds())
	if err == nil {
		m.BaseYield.Set(baseYield)
		m.EndBlock.Set(float64(endBlock))
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the /metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
