package egta

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// JobState is the client-side lifecycle state of a remote job.
type JobState int

const (
	// StateSubmitted: the submission was confirmed but no status has been
	// observed yet.
	StateSubmitted JobState = iota
	StateQueued
	StateRunning
	StateComplete
	StateFailed
	// StateUnknown: the server reported a status the client does not
	// recognize, or a submission could not be verified. Quasi-terminal:
	// polling stops and the caller decides whether to treat it as a
	// failure or re-verify.
	StateUnknown
)

func (s JobState) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends polling for good.
func (s JobState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// ParseJobState maps a server status string to a JobState. Unrecognized
// strings map to StateUnknown rather than being guessed at.
func ParseJobState(raw string) JobState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "pending":
		return StateQueued
	case "running", "processing":
		return StateRunning
	case "complete", "done":
		return StateComplete
	case "failed", "error":
		return StateFailed
	default:
		return StateUnknown
	}
}

// Poller drives repeated status checks for a submitted job until a
// terminal state. The interval between polls grows with bounded
// exponential backoff, deliberately coarser than the HTTP retry backoff,
// so long-running jobs don't hammer the status endpoint.
type Poller struct {
	client *Client

	interval    time.Duration
	maxInterval time.Duration
	timeout     time.Duration
	log         *zap.Logger
}

// NewPoller creates a Poller using the client's poll configuration.
func NewPoller(c *Client) *Poller {
	return &Poller{
		client:      c,
		interval:    c.cfg.pollInterval,
		maxInterval: c.cfg.maxPollInterval,
		timeout:     c.cfg.pollTimeout,
		log:         c.log,
	}
}

// Poll performs a single status check.
func (p *Poller) Poll(ctx context.Context, h JobHandle) (JobState, error) {
	st, err := p.poll(ctx, h)
	if err != nil {
		return StateUnknown, err
	}
	return st.State, nil
}

// Wait polls until the job reaches Complete, Failed, or the
// quasi-terminal Unknown state, or until the overall timeout trips. On
// timeout it returns a *PollTimeoutError; the remote job is left
// unresolved and may still complete server-side after the client gives
// up. Cancellation takes effect between polls, never mid-request.
func (p *Poller) Wait(ctx context.Context, h JobHandle) (*JobStatus, error) {
	start := time.Now()
	interval := p.interval
	polls := 0
	lastState := StateSubmitted

	for {
		if p.timeout > 0 && time.Since(start) >= p.timeout {
			return nil, &PollTimeoutError{
				Handle:    h,
				LastState: lastState,
				Polls:     polls,
				Elapsed:   time.Since(start),
			}
		}

		st, err := p.poll(ctx, h)
		if err != nil {
			return nil, err
		}
		polls++
		lastState = st.State
		p.log.Debug("polled job status",
			zap.Int64("simulation", h.SimulationID),
			zap.String("state", st.State.String()),
			zap.Int("polls", polls))

		if st.State.Terminal() || st.State == StateUnknown {
			return st, nil
		}

		wait := interval
		if p.timeout > 0 {
			if remaining := p.timeout - time.Since(start); wait > remaining {
				wait = remaining
			}
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
		interval *= 2
		if interval > p.maxInterval {
			interval = p.maxInterval
		}
	}
}

func (p *Poller) poll(ctx context.Context, h JobHandle) (*JobStatus, error) {
	if p.client.cfg.collector != nil {
		p.client.cfg.collector.incPoll()
	}
	return p.client.GetJobStatus(ctx, h)
}
