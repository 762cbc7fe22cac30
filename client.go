package egta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Stats holds atomic request counters.
type Stats struct {
	TotalRequests uint64
	TotalErrors   uint64
	RateLimited   uint64
	Retries       uint64
	Reauths       uint64
}

// StatsProvider exposes metrics for external collectors.
type StatsProvider interface {
	Stats() Stats
}

// Client is a resilient session to the EGTA Online API. It owns the
// authentication credential, the request quota, and the retry policy;
// typed resource operations are methods on it. A single Client is safe
// for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *windowLimiter
	cfg        *config
	log        *zap.Logger

	// The session token is the one shared credential. Concurrent 401s
	// coalesce into a single re-authentication via the singleflight group.
	authMu       sync.RWMutex
	sessionToken string
	reauth       singleflight.Group

	totalReqs   atomic.Uint64
	totalErrors atomic.Uint64
	rateLimited atomic.Uint64
	retries     atomic.Uint64
	reauths     atomic.Uint64
}

var _ StatsProvider = (*Client)(nil)

// New creates a Client with the given options.
func New(opts ...Option) *Client {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	return &Client{
		httpClient:   hc,
		limiter:      newWindowLimiter(cfg.quotaRequests, cfg.quotaWindow, cfg.smoothRPS, cfg.smoothBurst),
		cfg:          cfg,
		log:          cfg.logger,
		sessionToken: cfg.token,
	}
}

// Close releases resources held by the client.
func (c *Client) Close() {
	c.limiter.close()
}

// Stats returns a snapshot of request statistics.
func (c *Client) Stats() Stats {
	return Stats{
		TotalRequests: c.totalReqs.Load(),
		TotalErrors:   c.totalErrors.Load(),
		RateLimited:   c.rateLimited.Load(),
		Retries:       c.retries.Load(),
		Reauths:       c.reauths.Load(),
	}
}

// Do executes a request with rate limiting, retry, and idempotency-aware
// recovery. The outcome is classified as in the package documentation:
// 2xx succeeds; 429/503 retry with backoff regardless of idempotency;
// other 5xx and network failures retry only as the request's idempotency
// class allows, verifying unconfirmed side effects before re-issuing;
// other 4xx surface immediately as a *RequestError. Exhausting the
// attempt ceiling returns a *RetriesExhaustedError wrapping the last
// cause. A 401 triggers exactly one coalesced re-authentication before
// the request is replayed.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	c.totalReqs.Add(1)

	var (
		lastErr    error
		lastStatus int
		reauthed   bool
	)

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			c.retries.Add(1)
			if c.cfg.collector != nil {
				c.cfg.collector.incRetry()
			}
			backoff := c.backoff(attempt)
			c.log.Debug("backing off before retry",
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.acquire(ctx); err != nil {
			return nil, fmt.Errorf("egta: rate limit wait: %w", err)
		}

		resp, err := c.send(ctx, req)
		if err != nil {
			// Network failure: nothing was confirmed to have occurred, but
			// an unconfirmed create may still have landed server-side.
			c.totalErrors.Add(1)
			lastErr = fmt.Errorf("egta: %s %s: %w", req.Method, req.Path, err)
			lastStatus = 0
			if out, final, ferr := c.resolveUnconfirmed(ctx, req, lastErr); final {
				return out, ferr
			}
			if attempt < c.cfg.maxAttempts {
				continue
			}
			return nil, &RetriesExhaustedError{Attempts: attempt, Err: lastErr}
		}

		status := resp.StatusCode
		switch {
		case status >= 200 && status < 300:
			return resp, nil

		case status == http.StatusUnauthorized:
			if reauthed {
				return nil, &AuthError{Err: fmt.Errorf("HTTP 401 on %s %s after re-authentication", req.Method, req.Path)}
			}
			reauthed = true
			if err := c.reauthenticate(ctx); err != nil {
				return nil, &AuthError{Err: err}
			}
			// Replay without consuming a retry attempt.
			attempt--
			continue

		case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
			// Service overload is retryable regardless of idempotency: the
			// request was refused, not half-applied.
			c.totalErrors.Add(1)
			lastErr = httpError(req, resp)
			lastStatus = status
			if status == http.StatusTooManyRequests {
				c.rateLimited.Add(1)
				if c.cfg.collector != nil {
					c.cfg.collector.incRateLimited()
				}
				c.limiter.reduce(c.cfg.adaptiveCooldown)
			}
			if attempt < c.cfg.maxAttempts {
				continue
			}
			return nil, &RetriesExhaustedError{Attempts: attempt, LastStatus: status, Err: lastErr}

		case status >= 500:
			c.totalErrors.Add(1)
			lastErr = httpError(req, resp)
			lastStatus = status
			if req.Idempotency == IdempotentNever {
				return nil, lastErr
			}
			if out, final, ferr := c.resolveUnconfirmed(ctx, req, lastErr); final {
				return out, ferr
			}
			if attempt < c.cfg.maxAttempts {
				continue
			}
			return nil, &RetriesExhaustedError{Attempts: attempt, LastStatus: lastStatus, Err: lastErr}

		default:
			c.totalErrors.Add(1)
			return nil, &RequestError{
				StatusCode: status,
				Method:     req.Method,
				Path:       req.Path,
				Detail:     strings.TrimSpace(string(resp.Body)),
			}
		}
	}
}

// resolveUnconfirmed decides what to do after a failure that may have
// left an IdempotentUnconfirmed side effect behind. final=true means the
// returned response/error is the definitive outcome; final=false means
// the request is safe to re-issue.
func (c *Client) resolveUnconfirmed(ctx context.Context, req *Request, cause error) (resp *Response, final bool, err error) {
	if req.Idempotency != IdempotentUnconfirmed {
		return nil, false, nil
	}
	if req.Verify != nil {
		c.log.Debug("verifying unconfirmed request", zap.String("path", req.Path), zap.String("key", req.IdempotencyKey))
		found, verr := req.Verify(ctx)
		if verr != nil {
			return nil, true, &AmbiguousScheduleError{Key: req.IdempotencyKey, Err: errors.Join(cause, verr)}
		}
		if found != nil {
			found.Verified = true
			return found, true, nil
		}
		return nil, false, nil
	}
	if req.IdempotencyKey != "" {
		// The server dedupes on the key, so re-issuing is safe.
		return nil, false, nil
	}
	return nil, true, &AmbiguousScheduleError{Err: cause}
}

// send performs exactly one transport round trip.
func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.cfg.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, err
	}
	if req.Body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	hr.Header.Set("Accept", "application/json")
	if tok := c.currentToken(); tok != "" {
		hr.Header.Set("X-Auth-Token", tok)
	}
	if req.IdempotencyKey != "" {
		hr.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(hr)
	if err != nil {
		if c.cfg.collector != nil {
			c.cfg.collector.observeRequest(0, time.Since(start))
		}
		return nil, err
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.maxResponseSize))
	resp.Body.Close()
	if c.cfg.collector != nil {
		c.cfg.collector.observeRequest(resp.StatusCode, time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// reauthenticate exchanges the account credential for a fresh session
// token. Concurrent callers share one in-flight attempt.
func (c *Client) reauthenticate(ctx context.Context) error {
	_, err, _ := c.reauth.Do("session", func() (any, error) {
		c.reauths.Add(1)
		if c.cfg.collector != nil {
			c.cfg.collector.incReauth()
		}
		c.log.Debug("re-authenticating session", zap.String("email", c.cfg.email))

		if err := c.limiter.acquire(ctx); err != nil {
			return nil, err
		}
		resp, err := c.send(ctx, &Request{
			Method: http.MethodPost,
			Path:   "/sessions",
			Body: map[string]string{
				"email":      c.cfg.email,
				"auth_token": c.cfg.token,
			},
		})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return nil, fmt.Errorf("HTTP %d from POST /sessions", resp.StatusCode)
		}
		var session struct {
			Token string `json:"session_token"`
		}
		if err := resp.Decode(&session); err != nil {
			return nil, err
		}
		if session.Token == "" {
			return nil, errors.New("no session token in response")
		}
		c.authMu.Lock()
		c.sessionToken = session.Token
		c.authMu.Unlock()
		return nil, nil
	})
	return err
}

func (c *Client) currentToken() string {
	c.authMu.RLock()
	defer c.authMu.RUnlock()
	return c.sessionToken
}

// backoff computes the wait before the given attempt (attempt >= 2):
// the base doubles each attempt, capped, with ±50% jitter to avoid
// thundering-herd resynchronization.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.cfg.initialBackoff
	for i := 2; i < attempt; i++ {
		base *= 2
		if base >= c.cfg.maxBackoff {
			break
		}
	}
	if base > c.cfg.maxBackoff {
		base = c.cfg.maxBackoff
	}
	jitter := float64(base) * 0.5 * (rand.Float64()*2 - 1) //nolint:gosec
	d := time.Duration(float64(base) + jitter)
	if d < 0 {
		d = c.cfg.initialBackoff
	}
	return d
}

// do executes a request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, req *Request, out any) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := resp.Decode(out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func httpError(req *Request, resp *Response) error {
	return fmt.Errorf("egta: HTTP %d on %s %s", resp.StatusCode, req.Method, req.Path)
}
