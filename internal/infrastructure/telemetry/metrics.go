// Package telemetry expone métricas Prometheus de la emisión de NF-e.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EmissionMetrics métricas del ciclo de emisión. Un *EmissionMetrics nil no registra nada.
type EmissionMetrics struct {
	registry *prometheus.Registry

	// Documentos por estado final alcanzado (AUTHORIZED, REJECTED, FAILED, PENDING)
	DocumentsByStatus *prometheus.CounterVec
	// Respuestas del canal por operación (submit, query) y resultado
	ChannelResponses *prometheus.CounterVec
	ChannelLatency   *prometheus.HistogramVec
	ChannelErrors    *prometheus.CounterVec
	Retries          prometheus.Counter
	// Errores locales antes de la red (composición, firma)
	LocalFailures *prometheus.CounterVec
}

// NewEmissionMetrics crea y registra las métricas en un registro propio.
func NewEmissionMetrics(namespace string) *EmissionMetrics {
	if namespace == "" {
		namespace = "nfe"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	subsystem := "emission"

	return &EmissionMetrics{
		registry: reg,
		DocumentsByStatus: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "documents_total",
				Help:      "Documentos fiscales por estado alcanzado",
			},
			[]string{"status"},
		),
		ChannelResponses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "channel_responses_total",
				Help:      "Respuestas de la SEFAZ por operación y resultado",
			},
			[]string{"operation", "outcome"},
		),
		ChannelLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "channel_duration_seconds",
				Help:      "Duración de las llamadas a la SEFAZ",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		ChannelErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "channel_errors_total",
				Help:      "Errores de transporte o timeout al llamar a la SEFAZ",
			},
			[]string{"operation"},
		),
		Retries: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "retries_total",
				Help:      "Reenvíos tras respuesta Pending",
			},
		),
		LocalFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "local_failures_total",
				Help:      "Fallos antes del envío por etapa (compose, sign, store)",
			},
			[]string{"stage"},
		),
	}
}

// ObserveChannel registra una llamada al canal.
func (m *EmissionMetrics) ObserveChannel(operation, outcome string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ChannelLatency.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.ChannelErrors.WithLabelValues(operation).Inc()
		return
	}
	m.ChannelResponses.WithLabelValues(operation, outcome).Inc()
}

// DocumentStatus cuenta un documento que alcanzó status.
func (m *EmissionMetrics) DocumentStatus(status string) {
	if m == nil {
		return
	}
	m.DocumentsByStatus.WithLabelValues(status).Inc()
}

// Retry cuenta un reenvío.
func (m *EmissionMetrics) Retry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// LocalFailure cuenta un fallo previo al envío.
func (m *EmissionMetrics) LocalFailure(stage string) {
	if m == nil {
		return
	}
	m.LocalFailures.WithLabelValues(stage).Inc()
}

// Registry registro subyacente (para tests o para agregar colectores).
func (m *EmissionMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler devuelve el handler HTTP de Prometheus para este registro.
func (m *EmissionMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
