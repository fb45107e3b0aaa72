// Package metrics provides Prometheus instrumentation for the risk
// pipeline. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kestrel"

// Collector owns a private registry so tests can build as many as they need.
type Collector struct {
	registry *prometheus.Registry

	scored           prometheus.Counter
	riskScores       prometheus.Histogram
	alerts           *prometheus.CounterVec
	degraded         *prometheus.CounterVec
	ticks            *prometheus.CounterVec
	trainingExamples *prometheus.CounterVec
	modelAccuracy    prometheus.Gauge
	modelTrained     prometheus.Gauge
	httpRequests     *prometheus.CounterVec
}

// New registers the kestrel metrics plus the Go runtime collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		scored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_scored_total",
			Help:      "Transactions that went through the scoring pipeline.",
		}),
		riskScores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Distribution of final risk scores.",
			Buckets:   []float64{10, 25, 50, 70, 75, 90, 100},
		}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts created by severity.",
		}, []string{"severity"}),
		degraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_results_total",
			Help:      "Fallback results substituted by pipeline stage.",
		}, []string{"stage"}),
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulation_ticks_total",
			Help:      "Simulation ticks by outcome.",
		}, []string{"outcome"}),
		trainingExamples: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_examples_total",
			Help:      "Training examples recorded by label.",
		}, []string{"label"}),
		modelAccuracy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_accuracy",
			Help:      "Accuracy of the current model on its training set.",
		}),
		modelTrained: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_trained",
			Help:      "1 when the current model has been trained.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveScore counts one scored transaction.
func (c *Collector) ObserveScore(score int) {
	if c == nil {
		return
	}
	c.scored.Inc()
	c.riskScores.Observe(float64(score))
}

// AlertCreated counts an alert.
func (c *Collector) AlertCreated(severity string) {
	if c == nil {
		return
	}
	c.alerts.WithLabelValues(severity).Inc()
}

// Degraded counts a fallback at stage ("features", "scoring", "training").
func (c *Collector) Degraded(stage string) {
	if c == nil {
		return
	}
	c.degraded.WithLabelValues(stage).Inc()
}

// Tick counts a simulation tick outcome ("ok", "error").
func (c *Collector) Tick(outcome string) {
	if c == nil {
		return
	}
	c.ticks.WithLabelValues(outcome).Inc()
}

// TrainingExample counts a recorded example.
func (c *Collector) TrainingExample(label int) {
	if c == nil {
		return
	}
	if label == 1 {
		c.trainingExamples.WithLabelValues("1").Inc()
	} else {
		c.trainingExamples.WithLabelValues("0").Inc()
	}
}

// ModelState publishes the current model state.
func (c *Collector) ModelState(trained bool, accuracy *float64) {
	if c == nil {
		return
	}
	if trained {
		c.modelTrained.Set(1)
	} else {
		c.modelTrained.Set(0)
	}
	if accuracy != nil {
		c.modelAccuracy.Set(*accuracy)
	}
}

// HTTPRequest counts a served request.
func (c *Collector) HTTPRequest(method, route, status string) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, status).Inc()
}
