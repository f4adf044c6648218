package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_tasks_enqueued_total",
			Help: "Total number of email tasks enqueued.",
		},
	)
	tasksRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_tasks_rate_limited_total",
			Help: "Total number of enqueue attempts rejected by the rate limiter.",
		},
	)
	tasksSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_tasks_sent_total",
			Help: "Total number of email tasks delivered successfully.",
		},
	)
	tasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_tasks_failed_total",
			Help: "Total number of email task delivery failures.",
		},
	)
	tasksRetried = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_tasks_retried_total",
			Help: "Total number of failed tasks reset to pending by the retry sweep.",
		},
	)
	tasksReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_tasks_reclaimed_total",
			Help: "Total number of expired leases reclaimed back to pending.",
		},
	)
	sendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "email_send_duration_seconds",
			Help:    "Duration of a single transport send.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			tasksEnqueued,
			tasksRateLimited,
			tasksSent,
			tasksFailed,
			tasksRetried,
			tasksReclaimed,
			sendDuration,
		)
	})
}

func Handler() http.Handler { return promhttp.Handler() }

func IncEnqueued()    { tasksEnqueued.Inc() }
func IncRateLimited() { tasksRateLimited.Inc() }
func IncSent()        { tasksSent.Inc() }
func IncFailed()      { tasksFailed.Inc() }

func AddRetried(n int64)   { tasksRetried.Add(float64(n)) }
func AddReclaimed(n int64) { tasksReclaimed.Add(float64(n)) }

func ObserveSendDuration(d time.Duration) { sendDuration.Observe(d.Seconds()) }
