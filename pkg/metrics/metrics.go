// Package metrics counts what the agent does during bring-up and while the
// engine reports events. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "otaboot"

type Metrics struct {
	registry *prometheus.Registry

	connectAttempts *prometheus.CounterVec
	events          *prometheus.CounterVec
	directives      *prometheus.CounterVec
	steps           *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Network connection attempts by outcome.",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Lifecycle events received from the update engine by reason.",
		}, []string{"reason"}),
		directives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_total",
			Help:      "Directives returned to the update engine.",
		}, []string{"directive"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bringup_steps_total",
			Help:      "Bring-up steps run by outcome.",
		}, []string{"step", "outcome"}),
	}
	m.registry.MustRegister(m.connectAttempts, m.events, m.directives, m.steps)
	return m
}

// Registry returns the registry holding the counters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ConnectAttempt counts one network connection attempt.
func (m *Metrics) ConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(outcome(ok)).Inc()
}

// Event counts one lifecycle event by reason.
func (m *Metrics) Event(reason string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(reason).Inc()
}

// Directive counts one directive returned to the engine.
func (m *Metrics) Directive(directive string) {
	if m == nil {
		return
	}
	m.directives.WithLabelValues(directive).Inc()
}

// Step counts one bring-up step run.
func (m *Metrics) Step(name string, ok bool) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(name, outcome(ok)).Inc()
}

// Serve exposes the metrics on addr at /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return errors.Wrap(err, "metrics server")
	}
}
