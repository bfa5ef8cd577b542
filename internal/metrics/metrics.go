// Package metrics exposes delivery counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts delivery outcomes. A nil *Recorder records nothing, so
// components can be built without metrics in tests.
type Recorder struct {
	registry      *prometheus.Registry
	pushResults   *prometheus.CounterVec
	pushPruned    prometheus.Counter
	hookResults   *prometheus.CounterVec
	pipelineItems *prometheus.CounterVec
}

// New registers the delivery collectors on a private registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pushResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "delivery",
			Name:      "push_results_total",
			Help:      "Web Push delivery attempts by result.",
		}, []string{"result"}),
		pushPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "delivery",
			Name:      "push_subscriptions_pruned_total",
			Help:      "Subscriptions removed after the push service reported them gone.",
		}),
		hookResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "delivery",
			Name:      "webhook_results_total",
			Help:      "Webhook delivery attempts by result.",
		}, []string{"result"}),
		pipelineItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "delivery",
			Name:      "pipeline_messages_total",
			Help:      "Delivery requests consumed from Pub/Sub by outcome.",
		}, []string{"outcome"}),
	}
	r.registry.MustRegister(
		r.pushResults, r.pushPruned, r.hookResults, r.pipelineItems,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PushFanout adds one fan-out's sent, failed and removed counts.
func (r *Recorder) PushFanout(sent, failed, removed int) {
	if r == nil {
		return
	}
	r.pushResults.WithLabelValues("sent").Add(float64(sent))
	r.pushResults.WithLabelValues("failed").Add(float64(failed))
	r.pushPruned.Add(float64(removed))
}

func (r *Recorder) WebhookResult(result string) {
	if r == nil {
		return
	}
	r.hookResults.WithLabelValues(result).Inc()
}

func (r *Recorder) PipelineMessage(outcome string) {
	if r == nil {
		return
	}
	r.pipelineItems.WithLabelValues(outcome).Inc()
}

// Handler serves the exposition format for this recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
