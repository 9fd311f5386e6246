// Package metrics exposes Prometheus instrumentation for the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Command outcome label values.
const (
	OutcomeServed       = "served"
	OutcomeEmpty        = "empty"
	OutcomeDenied       = "denied"
	OutcomeRateLimited  = "rate_limited"
	OutcomeInvalid      = "invalid"
	OutcomeSendFailed   = "send_failed"
	OutcomeStoreFailure = "store_error"
)

// Recorder groups the bot collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	eventsTotal          *prometheus.CounterVec
	reconstructionsTotal *prometheus.CounterVec
	editsTotal           prometheus.Counter
	commandsTotal        *prometheus.CounterVec
	outboundErrorsTotal  *prometheus.CounterVec
}

// New creates a recorder backed by its own registry, which also carries the
// Go runtime and process collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snipebot_events_total",
			Help: "Inbound events handled by kind",
		}, []string{"kind"}),
		reconstructionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snipebot_reconstructions_total",
			Help: "Deleted messages reconstructed by resolution step",
		}, []string{"resolution"}),
		editsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "snipebot_edits_recorded_total",
			Help: "Text edits written to the edit ledger",
		}),
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snipebot_commands_total",
			Help: "Commands handled by name and outcome",
		}, []string{"command", "outcome"}),
		outboundErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snipebot_outbound_errors_total",
			Help: "Failed outbound operations by platform and kind",
		}, []string{"platform", "kind"}),
	}
}

// Registry returns the registry collecting every bot metric.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}

	return r.registry
}

// ObserveEvent counts one handled inbound event.
func (r *Recorder) ObserveEvent(kind string) {
	if r == nil {
		return
	}
	r.eventsTotal.WithLabelValues(kind).Inc()
}

// ObserveReconstruction counts one reconstruction by resolution step.
func (r *Recorder) ObserveReconstruction(resolution string) {
	if r == nil {
		return
	}
	r.reconstructionsTotal.WithLabelValues(resolution).Inc()
}

// ObserveEdit counts one recorded edit.
func (r *Recorder) ObserveEdit() {
	if r == nil {
		return
	}
	r.editsTotal.Inc()
}

// ObserveCommand counts one command outcome.
func (r *Recorder) ObserveCommand(command string, outcome string) {
	if r == nil {
		return
	}
	r.commandsTotal.WithLabelValues(command, outcome).Inc()
}

// ObserveOutboundError counts one failed outbound operation.
func (r *Recorder) ObserveOutboundError(platform string, kind string) {
	if r == nil {
		return
	}
	r.outboundErrorsTotal.WithLabelValues(platform, kind).Inc()
}

// RegisterGauge exposes value as a gauge sampled at scrape time.
func (r *Recorder) RegisterGauge(name string, help string, value func() float64) error {
	if r == nil {
		return nil
	}

	return r.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, value))
}
