// internal/metrics/metrics.go
//
// Package metrics exposes controller events as Prometheus metrics on a
// private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tamzrod/classic-monitor/internal/device"
)

const namespace = "classic_monitor"

// Sink records every event it receives. It implements events.Sink.
type Sink struct {
	registry *prometheus.Registry

	reading      *prometheus.GaugeVec
	lastReading  *prometheus.GaugeVec
	reachable    *prometheus.GaugeVec
	logEntries   *prometheus.GaugeVec
	logUpdated   *prometheus.GaugeVec
	toasts       *prometheus.CounterVec
	found        *prometheus.CounterVec
	reachability *prometheus.CounterVec
}

// New creates a sink with its own registry.
func New() *Sink {
	s := &Sink{
		registry: prometheus.NewRegistry(),

		reading: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reading",
				Help:      "Latest live value reported by a controller",
			},
			[]string{"controller", "reading", "unit"},
		),
		lastReading: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_reading_timestamp_seconds",
				Help:      "Unix timestamp of the latest readings snapshot",
			},
			[]string{"controller"},
		),
		reachable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reachable",
				Help:      "1 if the last poll cycle succeeded, 0 otherwise",
			},
			[]string{"controller"},
		),
		logEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "log_entries",
				Help:      "Number of samples per category in the latest log read",
			},
			[]string{"controller", "log", "category"},
		),
		logUpdated: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "log_updated_timestamp_seconds",
				Help:      "Unix timestamp of the latest log read",
			},
			[]string{"controller", "log"},
		),
		toasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "toasts_total",
				Help:      "User notifications raised, by message key",
			},
			[]string{"key"},
		),
		found: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "controllers_found_total",
				Help:      "Controllers reported by discovery",
			},
			[]string{"controller"},
		),
		reachability: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unreachable_total",
				Help:      "Poll cycles that failed",
			},
			[]string{"controller"},
		),
	}

	s.registry.MustRegister(
		s.reading,
		s.lastReading,
		s.reachable,
		s.logEntries,
		s.logUpdated,
		s.toasts,
		s.found,
		s.reachability,
	)
	return s
}

// Registry returns the private registry.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// RegisterDropped exposes a counter read from fn, e.g. dispatcher drops.
func (s *Sink) RegisterDropped(fn func() float64) error {
	return s.registry.Register(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded because the dispatch queue was full",
		},
		fn,
	))
}

func (s *Sink) OnReadings(ep device.Endpoint, r *device.Readings) {
	if r == nil {
		return
	}
	c := ep.String()
	for _, n := range r.Names() {
		v, _ := r.Get(n)
		s.reading.WithLabelValues(c, string(n), string(n.Unit())).Set(v.Float())
	}
	s.lastReading.WithLabelValues(c).Set(float64(r.At.Unix()))
}

func (s *Sink) OnLogs(ep device.Endpoint, kind device.LogKind, e *device.LogEntry) {
	if e == nil {
		return
	}
	c := ep.String()
	for cat, samples := range e.Samples {
		s.logEntries.WithLabelValues(c, kind.String(), cat.String()).Set(float64(len(samples)))
	}
	s.logUpdated.WithLabelValues(c, kind.String()).Set(float64(e.Date.Unix()))
}

func (s *Sink) OnToast(key string) {
	s.toasts.WithLabelValues(key).Inc()
}

func (s *Sink) OnControllerFound(ep device.Endpoint, _ string) {
	s.found.WithLabelValues(ep.String()).Inc()
}

func (s *Sink) OnReachable(ep device.Endpoint, ok bool) {
	c := ep.String()
	if ok {
		s.reachable.WithLabelValues(c).Set(1)
		return
	}
	s.reachable.WithLabelValues(c).Set(0)
	s.reachability.WithLabelValues(c).Inc()
}
