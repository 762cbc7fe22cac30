package egta

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes client activity as Prometheus metrics. Attach one
// with WithCollector; a nil collector disables instrumentation.
type Collector struct {
	requests    *prometheus.CounterVec
	duration    prometheus.Histogram
	retries     prometheus.Counter
	rateLimited prometheus.Counter
	reauths     prometheus.Counter
	polls       prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "egta_requests_total",
			Help: "Transport round trips, labeled by HTTP status (0 = network error)",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "egta_request_duration_seconds",
			Help:    "Transport round trip latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "egta_retries_total",
			Help: "Retry attempts after retryable failures",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "egta_rate_limited_total",
			Help: "429 responses received from the server",
		}),
		reauths: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "egta_reauths_total",
			Help: "Session re-authentication attempts",
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "egta_job_polls_total",
			Help: "Job status polls issued",
		}),
	}
	reg.MustRegister(c.requests, c.duration, c.retries, c.rateLimited, c.reauths, c.polls)
	return c
}

func (c *Collector) observeRequest(status int, d time.Duration) {
	c.requests.WithLabelValues(strconv.Itoa(status)).Inc()
	c.duration.Observe(d.Seconds())
}

func (c *Collector) incRetry()       { c.retries.Inc() }
func (c *Collector) incRateLimited() { c.rateLimited.Inc() }
func (c *Collector) incReauth()      { c.reauths.Inc() }
func (c *Collector) incPoll()        { c.polls.Inc() }
