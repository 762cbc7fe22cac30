package egta

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// windowLimiter enforces the server quota: at most `quota` requests
// issued within any rolling `window`. Admission is FIFO via a turnstile
// channel so earlier callers are never starved. An optional token-bucket
// smoother (golang.org/x/time/rate) spreads bursts inside the window and
// is halved adaptively when the server answers 429.
type windowLimiter struct {
	quota  int
	window time.Duration

	// turn serializes admission in arrival order. Waiters queue on the
	// channel send, so permits are granted FIFO.
	turn chan struct{}

	mu     sync.Mutex
	issued []time.Time // timestamps inside the window, oldest first

	smoother     *rate.Limiter
	originalRate rate.Limit
	restoreTimer *time.Timer
	closed       bool
}

func newWindowLimiter(quota int, window time.Duration, smoothRPS float64, burst int) *windowLimiter {
	l := &windowLimiter{
		quota:  quota,
		window: window,
		turn:   make(chan struct{}, 1),
	}
	if smoothRPS > 0 {
		if burst < 1 {
			burst = 1
		}
		l.smoother = rate.NewLimiter(rate.Limit(smoothRPS), burst)
		l.originalRate = rate.Limit(smoothRPS)
	}
	return l
}

// acquire blocks until issuing one more request keeps the quota
// invariant. When at capacity it sleeps exactly until the oldest
// timestamp exits the window, not a fixed poll interval. The only
// failure mode is context cancellation.
func (l *windowLimiter) acquire(ctx context.Context) error {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.turn }()

	if l.quota > 0 {
		for {
			l.mu.Lock()
			now := time.Now()
			l.prune(now)
			if len(l.issued) < l.quota {
				l.issued = append(l.issued, now)
				l.mu.Unlock()
				break
			}
			wait := l.issued[0].Add(l.window).Sub(now)
			l.mu.Unlock()
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
		}
	}

	l.mu.Lock()
	sm := l.smoother
	l.mu.Unlock()
	if sm != nil {
		return sm.Wait(ctx)
	}
	return nil
}

// prune drops timestamps that have left the window. Callers hold l.mu.
func (l *windowLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.issued) && !l.issued[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.issued = append(l.issued[:0], l.issued[i:]...)
	}
}

// reduce halves the smoothing rate after a 429 and schedules a restore.
func (l *windowLimiter) reduce(cooldown time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.smoother == nil || l.closed {
		return
	}

	reduced := l.smoother.Limit() / 2
	if reduced < 0.01 {
		reduced = 0.01
	}
	l.smoother.SetLimit(reduced)

	if l.restoreTimer != nil {
		l.restoreTimer.Stop()
	}
	l.restoreTimer = time.AfterFunc(cooldown, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.closed && l.smoother != nil {
			l.smoother.SetLimit(l.originalRate)
		}
	})
}

func (l *windowLimiter) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.restoreTimer != nil {
		l.restoreTimer.Stop()
		l.restoreTimer = nil
	}
}

// sleepCtx sleeps for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
