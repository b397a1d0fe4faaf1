package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"SessionScan/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	items       *prometheus.CounterVec
	cache       *prometheus.CounterVec
	fetches     *prometheus.CounterVec
	fetchTime   *prometheus.HistogramVec
	sinkWrites  *prometheus.CounterVec
	stepTime    *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec
	queue       *prometheus.GaugeVec
}

// New registers the analyzer metrics on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		items: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionscan_items_processed_total",
				Help: "Queue items finished, by terminal status",
			},
			[]string{"status"},
		),
		cache: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionscan_cache_requests_total",
				Help: "Series cache lookups by result",
			},
			[]string{"result"},
		),
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionscan_provider_requests_total",
				Help: "Market-data requests by interval and outcome",
			},
			[]string{"interval", "outcome"},
		),
		fetchTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sessionscan_provider_request_duration_seconds",
				Help:    "Duration of market-data requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"interval"},
		),
		sinkWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionscan_sink_writes_total",
				Help: "Destination writes by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		stepTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sessionscan_step_duration_seconds",
				Help:    "Duration of step invocations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionscan_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"kind"},
		),
		queue: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sessionscan_queue_items",
				Help: "Queue items of the current run by status",
			},
			[]string{"status"},
		),
	}
}

// RecordItem counts a finished queue item.
func (r *Recorder) RecordItem(status models.ItemStatus) {
	r.items.WithLabelValues(string(status)).Inc()
}

// RecordCache counts a cache lookup ("hit", "miss" or "error").
func (r *Recorder) RecordCache(result string) {
	r.cache.WithLabelValues(result).Inc()
}

// RecordFetch records one provider request.
func (r *Recorder) RecordFetch(interval string, err error, seconds float64) {
	r.fetches.WithLabelValues(interval, outcome(err)).Inc()
	r.fetchTime.WithLabelValues(interval).Observe(seconds)
}

// RecordSinkWrite records one destination write.
func (r *Recorder) RecordSinkWrite(mode models.Mode, err error) {
	r.sinkWrites.WithLabelValues(string(mode), outcome(err)).Inc()
}

// RecordStep records a step invocation ("completed", "chained", "paused", "skipped", "failed").
func (r *Recorder) RecordStep(result string, seconds float64) {
	r.stepTime.WithLabelValues(result).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// SetProgress publishes queue counts.
func (r *Recorder) SetProgress(p models.Progress) {
	r.queue.WithLabelValues(string(models.ItemPending)).Set(float64(p.Pending))
	r.queue.WithLabelValues(string(models.ItemCompleted)).Set(float64(p.Completed))
	r.queue.WithLabelValues(string(models.ItemError)).Set(float64(p.Error))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordItem(models.ItemStatus) {}
func (Nop) RecordCache(string) {}
func (Nop) RecordFetch(string, error, float64) {}
func (Nop) RecordSinkWrite(models.Mode, error) {}
func (Nop) RecordStep(string, float64) {}
func (Nop) RecordError(string) {}
func (Nop) SetProgress(models.Progress) {}
