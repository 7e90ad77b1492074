// Package metrics holds the Prometheus collectors of the bridge. Counters
// are fed by the ingest and process steps; the status gauge is refreshed
// from queue stats.
package metrics

import (
	"mailbridge/internal/domain"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mailbridge"

// Rejection reasons for inbound mail that produced no job.
const (
	ReasonWhitelist = "whitelist"
	ReasonEmpty     = "empty"
	ReasonParse     = "parse"
)

type Collector struct {
	mailsReceived prometheus.Counter
	mailsRejected *prometheus.CounterVec
	duplicates    prometheus.Counter
	events        *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	replies       *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
	jobs          *prometheus.GaugeVec
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		mailsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mails_received_total",
			Help:      "Inbound messages fetched from the mailbox.",
		}),
		mailsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mails_rejected_total",
			Help:      "Inbound messages dropped without creating a job.",
		}, []string{"reason"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_duplicate_total",
			Help:      "Inbound messages whose Message-ID was already queued.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Job lifecycle transitions by type.",
		}, []string{"type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Agent execution time per attempt.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 13),
		}, []string{"outcome"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Reply mails by delivery result.",
		}, []string{"result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by mail client and result.",
		}, []string{"client", "result"}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Jobs in the queue by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.mailsReceived,
		c.mailsRejected,
		c.duplicates,
		c.events,
		c.duration,
		c.replies,
		c.reconnects,
		c.jobs,
	)
	return c
}

func (c *Collector) MailReceived() { c.mailsReceived.Inc() }

func (c *Collector) MailRejected(reason string) { c.mailsRejected.WithLabelValues(reason).Inc() }

func (c *Collector) Duplicate() { c.duplicates.Inc() }

func (c *Collector) Event(t domain.EventType) { c.events.WithLabelValues(string(t)).Inc() }

func (c *Collector) ObserveExecution(d time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (c *Collector) Reply(sent bool) {
	result := "sent"
	if !sent {
		result = "failed"
	}
	c.replies.WithLabelValues(result).Inc()
}

func (c *Collector) Reconnect(client string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.reconnects.WithLabelValues(client, result).Inc()
}

// SetQueueStats overwrites the status gauge with a fresh snapshot.
func (c *Collector) SetQueueStats(stats map[domain.Status]int) {
	for _, s := range domain.Statuses {
		c.jobs.WithLabelValues(string(s)).Set(float64(stats[s]))
	}
}
