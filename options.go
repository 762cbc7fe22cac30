package egta

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the production EGTA Online API endpoint.
const DefaultBaseURL = "https://egtaonline.eecs.umich.edu/api/v3"

// Option configures a Client.
type Option func(*config)

type config struct {
	baseURL string
	email   string
	token   string

	quotaRequests int
	quotaWindow   time.Duration
	smoothRPS     float64
	smoothBurst   int

	maxAttempts      int
	initialBackoff   time.Duration
	maxBackoff       time.Duration
	adaptiveCooldown time.Duration

	pollInterval    time.Duration
	maxPollInterval time.Duration
	pollTimeout     time.Duration

	timeout         time.Duration
	maxResponseSize int64
	httpClient      *http.Client

	logger    *zap.Logger
	collector *Collector
}

func defaultConfig() *config {
	return &config{
		baseURL:          DefaultBaseURL,
		quotaRequests:    100,
		quotaWindow:      time.Minute,
		maxAttempts:      4,
		initialBackoff:   2 * time.Second,
		maxBackoff:       30 * time.Second,
		adaptiveCooldown: 5 * time.Minute,
		pollInterval:     5 * time.Second,
		maxPollInterval:  2 * time.Minute,
		pollTimeout:      0, // no overall timeout
		timeout:          30 * time.Second,
		maxResponseSize:  32 * 1024 * 1024, // observation payloads are large
		logger:           zap.NewNop(),
	}
}

// WithBaseURL sets the API endpoint prefix.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithCredentials sets the account email and authentication token used
// to establish and refresh the session.
func WithCredentials(email, token string) Option {
	return func(c *config) {
		c.email = email
		c.token = token
	}
}

// WithQuota sets the server-imposed request quota: at most requests per
// rolling window. Zero requests disables the window limiter.
func WithQuota(requests int, window time.Duration) Option {
	return func(c *config) {
		c.quotaRequests = requests
		c.quotaWindow = window
	}
}

// WithSmoothing adds a token-bucket limiter that spreads requests inside
// the quota window, in requests per second with the given burst. The
// smoothing rate is halved when the server answers 429 and restored
// after the adaptive cooldown.
func WithSmoothing(rps float64, burst int) Option {
	return func(c *config) {
		c.smoothRPS = rps
		c.smoothBurst = burst
	}
}

// WithRetry sets the attempt ceiling (total attempts, including the
// first) and the initial backoff duration. Backoff doubles each attempt
// with ±50% jitter, capped by WithBackoffCap.
func WithRetry(maxAttempts int, initialBackoff time.Duration) Option {
	return func(c *config) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		c.initialBackoff = initialBackoff
	}
}

// WithBackoffCap sets the maximum backoff between retry attempts.
func WithBackoffCap(d time.Duration) Option {
	return func(c *config) { c.maxBackoff = d }
}

// WithAdaptiveCooldown sets how long the smoothing rate stays reduced
// after a 429 before being restored.
func WithAdaptiveCooldown(d time.Duration) Option {
	return func(c *config) { c.adaptiveCooldown = d }
}

// WithPollInterval sets the initial and maximum interval between job
// status polls. The interval doubles after each non-terminal poll; it is
// deliberately coarser than the HTTP retry backoff.
func WithPollInterval(initial, max time.Duration) Option {
	return func(c *config) {
		c.pollInterval = initial
		c.maxPollInterval = max
	}
}

// WithPollTimeout bounds the total time a poller waits for a job to
// reach a terminal state. Zero means no overall timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(c *config) { c.pollTimeout = d }
}

// WithTimeout sets the per-request HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxResponseSize sets the maximum response body size in bytes.
func WithMaxResponseSize(n int64) Option {
	return func(c *config) { c.maxResponseSize = n }
}

// WithHTTPClient sets a custom underlying *http.Client. The timeout
// option is ignored when a custom client is provided.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCollector attaches a metrics collector that observes requests,
// retries, rate-limit hits, re-authentications, and polls.
func WithCollector(col *Collector) Option {
	return func(c *config) { c.collector = col }
}
