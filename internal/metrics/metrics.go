// Package metrics holds the Prometheus collectors for the reply runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// RunOutcomes counts automated runs.
	// Labels: channel (internal|whatsapp), outcome (delivered|interrupted|skipped|failed)
	RunOutcomes *prometheus.CounterVec

	// FragmentsSent counts persisted reply fragments.
	// Labels: channel
	FragmentsSent *prometheus.CounterVec

	// DeliveryFailures counts best-effort failures after persistence.
	// Labels: channel, stage (send|activity|usage)
	DeliveryFailures *prometheus.CounterVec

	// ProviderDuration measures provider call latency in seconds.
	// Labels: provider, status (success|error)
	ProviderDuration *prometheus.HistogramVec

	// WebhookRequests counts webhook requests by result.
	// Labels: result (accepted|ignored|unauthorized|rate_limited|bad_request|error)
	WebhookRequests *prometheus.CounterVec

	// DispatchFailures counts detached runs that ended in error.
	DispatchFailures prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goinbox_agent_runs_total",
				Help: "Automated reply runs by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		FragmentsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goinbox_agent_fragments_total",
				Help: "Reply fragments persisted by channel",
			},
			[]string{"channel"},
		),
		DeliveryFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goinbox_delivery_failures_total",
				Help: "Best-effort failures after a fragment was persisted",
			},
			[]string{"channel", "stage"},
		),
		ProviderDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goinbox_provider_request_duration_seconds",
				Help:    "Duration of text-generation provider calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "status"},
		),
		WebhookRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goinbox_webhook_requests_total",
				Help: "Inbound webhook requests by result",
			},
			[]string{"result"},
		),
		DispatchFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "goinbox_dispatch_failures_total",
				Help: "Detached webhook-triggered runs that returned an error",
			},
		),
	}
}

func (m *Metrics) RunOutcome(channel, outcome string) {
	if m == nil {
		return
	}
	m.RunOutcomes.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) FragmentSent(channel string) {
	if m == nil {
		return
	}
	m.FragmentsSent.WithLabelValues(channel).Inc()
}

func (m *Metrics) DeliveryFailure(channel, stage string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(channel, stage).Inc()
}

func (m *Metrics) ObserveProvider(provider string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProviderDuration.WithLabelValues(provider, status).Observe(seconds)
}

func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.WebhookRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) DispatchFailed() {
	if m == nil {
		return
	}
	m.DispatchFailures.Inc()
}
