package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"feedharvest/pkg/collector"
	errs "feedharvest/pkg/errors"
)

// Collector exposes harvest events as Prometheus metrics. It implements
// collector.Observer and is safe for use by every worker at once.
type Collector struct {
	fragments     *prometheus.CounterVec
	admitted      *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	errors        *prometheus.CounterVec
	iterations    *prometheus.CounterVec
	contentSize   *prometheus.GaugeVec
	checkpointDur *prometheus.HistogramVec
	stopped       *prometheus.CounterVec
}

var _ collector.Observer = (*Collector)(nil)

// NewCollector creates the harvest metrics and registers them with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_fragments_seen_total",
			Help: "Fragments examined, counted on every pass",
		}, []string{"feed"}),
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_records_admitted_total",
			Help: "Records written to the sink",
		}, []string{"feed"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_records_rejected_total",
			Help: "Posts not admitted, by reason",
		}, []string{"feed", "reason"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_errors_total",
			Help: "Errors by kind",
		}, []string{"feed", "kind"}),
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_iterations_total",
			Help: "Collect passes over the feed",
		}, []string{"feed"}),
		contentSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvest_content_size_bytes",
			Help: "Reachable content size after the last pass",
		}, []string{"feed"}),
		checkpointDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_checkpoint_duration_seconds",
			Help:    "Time taken to write a checkpoint",
			Buckets: prometheus.DefBuckets,
		}, []string{"feed"}),
		stopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_jobs_stopped_total",
			Help: "Jobs stopped, by reason",
		}, []string{"feed", "reason"}),
	}

	if reg != nil {
		reg.MustRegister(
			c.fragments,
			c.admitted,
			c.rejected,
			c.errors,
			c.iterations,
			c.contentSize,
			c.checkpointDur,
			c.stopped,
		)
	}
	return c
}

// FragmentSeen counts one examined fragment
func (c *Collector) FragmentSeen(feed string) {
	c.fragments.WithLabelValues(feed).Inc()
}

// RecordAdmitted counts one record written to the sink
func (c *Collector) RecordAdmitted(feed string) {
	c.admitted.WithLabelValues(feed).Inc()
}

// RecordRejected counts one post that was not admitted
func (c *Collector) RecordRejected(feed, reason string) {
	c.rejected.WithLabelValues(feed, reason).Inc()
}

// ErrorCounted counts one error of the given kind
func (c *Collector) ErrorCounted(feed string, kind errs.Kind) {
	c.errors.WithLabelValues(feed, string(kind)).Inc()
}

// IterationDone counts a pass and records the content size it saw
func (c *Collector) IterationDone(feed string, size int64) {
	c.iterations.WithLabelValues(feed).Inc()
	c.contentSize.WithLabelValues(feed).Set(float64(size))
}

// CheckpointSaved records the duration of a successful checkpoint write
func (c *Collector) CheckpointSaved(feed string, elapsed time.Duration, err error) {
	if err != nil {
		return
	}
	c.checkpointDur.WithLabelValues(feed).Observe(elapsed.Seconds())
}

// Stopped counts a finished job
func (c *Collector) Stopped(feed string, reason collector.StopReason) {
	c.stopped.WithLabelValues(feed, string(reason)).Inc()
}
