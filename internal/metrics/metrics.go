// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vidpipe"

// Set bundles the collectors registered for one process. A nil *Set is
// valid and records nothing, which keeps call sites free of nil checks.
type Set struct {
	registry *prometheus.Registry

	framesScored       prometheus.Counter
	classifierRetries  *prometheus.CounterVec
	moderationOutcomes *prometheus.CounterVec
	transcodeOutcomes  *prometheus.CounterVec
	encodeSeconds      *prometheus.HistogramVec
	runDuration        *prometheus.HistogramVec
	inFlight           *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Set{
		registry: reg,
		framesScored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_scored_total",
			Help:      "Frames submitted to the classifier and scored.",
		}),
		classifierRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_retries_total",
			Help:      "Classifier calls retried, by reason.",
		}, []string{"reason"}),
		moderationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_outcomes_total",
			Help:      "Moderation runs by resulting status.",
		}, []string{"status"}),
		transcodeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcode_outcomes_total",
			Help:      "Transcode runs by resulting status.",
		}, []string{"status"}),
		encodeSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rendition_encode_seconds",
			Help:      "Time spent encoding one HLS rendition.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}, []string{"preset"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_run_seconds",
			Help:      "Wall time of one worker invocation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"worker"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_in_flight",
			Help:      "Worker invocations currently running.",
		}, []string{"worker"}),
	}
}

// Registry returns the underlying registry.
func (s *Set) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	if s == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Set) FrameScored() {
	if s == nil {
		return
	}
	s.framesScored.Inc()
}

func (s *Set) ClassifierRetry(reason string) {
	if s == nil {
		return
	}
	s.classifierRetries.WithLabelValues(reason).Inc()
}

func (s *Set) ModerationOutcome(status string) {
	if s == nil {
		return
	}
	s.moderationOutcomes.WithLabelValues(status).Inc()
}

func (s *Set) TranscodeOutcome(status string) {
	if s == nil {
		return
	}
	s.transcodeOutcomes.WithLabelValues(status).Inc()
}

func (s *Set) ObserveEncode(preset string, d time.Duration) {
	if s == nil {
		return
	}
	s.encodeSeconds.WithLabelValues(preset).Observe(d.Seconds())
}

// TrackRun marks a worker invocation as started. The returned func records
// its duration and must be called exactly once.
func (s *Set) TrackRun(worker string) func() {
	if s == nil {
		return func() {}
	}
	start := time.Now()
	gauge := s.inFlight.WithLabelValues(worker)
	gauge.Inc()
	return func() {
		gauge.Dec()
		s.runDuration.WithLabelValues(worker).Observe(time.Since(start).Seconds())
	}
}
