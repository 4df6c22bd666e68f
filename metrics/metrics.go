// Package metrics exposes the orchestrator's Prometheus metrics over HTTP.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server

	serverUp         prometheus.Gauge
	provisioningRuns *prometheus.CounterVec
	stopEscalations  *prometheus.CounterVec
}

// New creates a metrics server with its own registry. listenAddr may be empty when
// only Handler is used.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	m := &MetricsServer{
		registry: prometheus.NewRegistry(),
		serverUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_up",
			Help:      "1 if the managed server passed its last readiness probe",
		}),
		provisioningRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_runs_total",
			Help:      "Provisioning runs by mode",
		}, []string{"mode"}),
		stopEscalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_escalations_total",
			Help:      "Shutdown escalations by stage",
		}, []string{"stage"}),
	}

	for _, c := range []prometheus.Collector{
		m.serverUp,
		m.provisioningRuns,
		m.stopEscalations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}

	m.srv = &http.Server{
		Addr:              listenAddr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return m, nil
}

// Handler serves /metrics.
func (m *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	return mux
}

func (m *MetricsServer) Registry() *prometheus.Registry { return m.registry }

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// SetServerUp records the outcome of a readiness probe. All recorders accept a nil receiver.
func (m *MetricsServer) SetServerUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.serverUp.Set(1)
	} else {
		m.serverUp.Set(0)
	}
}

func (m *MetricsServer) ProvisioningRun(mode string) {
	if m == nil {
		return
	}
	m.provisioningRuns.WithLabelValues(mode).Inc()
}

func (m *MetricsServer) StopEscalation(stage string) {
	if m == nil {
		return
	}
	m.stopEscalations.WithLabelValues(stage).Inc()
}
