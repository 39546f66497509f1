package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	MailsClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mailer_claimed_total", Help: "Messages claimed for sending"},
	)
	MailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mailer_sent_total", Help: "Messages sent successfully"},
	)
	MailsErrored = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mailer_errored_total", Help: "Messages finished in error"},
	)
	MailsRequeued = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mailer_requeued_total", Help: "Messages returned to the queue"},
	)
	MailsDelayed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mailer_delayed_total", Help: "Messages delayed on campaign misconfiguration"},
	)
	MailsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mailer_cancelled_total", Help: "Messages cancelled"},
	)
	PortionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailer_portion_duration_seconds",
			Help:    "Time spent processing one claimed portion",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScheduleRuns = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mailer_schedule_runs_total", Help: "Scheduler passes over active campaigns"},
	)
	MailsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mailer_scheduled_total", Help: "Messages materialized into the queue"},
	)

	FunnelEventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mailer_funnel_events_published_total", Help: "Funnel events published to the statistics sink"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration,
		MailsClaimed, MailsSent, MailsErrored, MailsRequeued, MailsDelayed, MailsCancelled,
		PortionDuration, ScheduleRuns, MailsScheduled, FunnelEventsPublished,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
