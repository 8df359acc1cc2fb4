// Package metrics exposes prometheus metrics of the factory and serves them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/ledger-factory-backend/common"
)

const namespace = "ledger_factory"

var (
	// Registry holds every metric of the process.
	Registry = prometheus.NewRegistry()

	ProvisionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provision_total",
		Help:      "Provisioning requests by instance kind and outcome.",
	}, []string{"kind", "outcome"})

	ProvisionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provision_duration_seconds",
		Help:      "Duration of provisioning requests.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"kind"})

	ReconfigureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconfigure_total",
		Help:      "Ledger reconfiguration requests by outcome.",
	}, []string{"outcome"})

	PaymentDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_denied_total",
		Help:      "Denied admissions by reason.",
	}, []string{"reason"})

	ModuleUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "module_updates_total",
		Help:      "Code module updates by kind and source.",
	}, []string{"kind", "source"})

	EventPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_publish_failures_total",
		Help:      "Instance events that could not be published.",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information of the running binary.",
	}, []string{"package", "version"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ProvisionTotal,
		ProvisionDuration,
		ReconfigureTotal,
		PaymentDenied,
		ModuleUpdates,
		EventPublishFailures,
		buildInfo,
	)
}

// MetricsServer serves /metrics on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the named package listening on addr.
func New(name, addr string) (*MetricsServer, error) {
	buildInfo.WithLabelValues(name, common.Version).Set(1)

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler returns the metrics endpoint handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}
