package egta

import (
	"errors"
	"fmt"
	"time"
)

// ErrCursorExpired is returned by a Pager when the server rejects its
// continuation cursor. The listing cannot resume mid-sequence; call
// Restart to begin again from the first page.
var ErrCursorExpired = errors.New("egta: listing cursor expired, restart from first page")

// RequestError is a non-retryable client error (4xx other than 429),
// surfaced immediately with whatever detail the server provided.
type RequestError struct {
	StatusCode int
	Method     string
	Path       string
	Detail     string
}

func (e *RequestError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("egta: HTTP %d on %s %s", e.StatusCode, e.Method, e.Path)
	}
	return fmt.Sprintf("egta: HTTP %d on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Detail)
}

// RetriesExhaustedError is returned when the retry ceiling is reached.
// It carries the attempt count, the last HTTP status observed (0 if the
// last failure was a network error), and wraps the last underlying cause.
type RetriesExhaustedError struct {
	Attempts   int
	LastStatus int
	Err        error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("egta: retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// AuthError is returned when the session credential is rejected and the
// single re-authentication attempt did not recover it.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "egta: authentication failed"
	}
	return fmt.Sprintf("egta: authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// AmbiguousScheduleError reports that a submission may or may not have
// taken effect remotely: the create call failed without confirmation and
// verification was inconclusive. It is never auto-resolved; the caller
// must re-list and recover manually, or resubmit under a fresh
// idempotency key.
type AmbiguousScheduleError struct {
	SchedulerID int64
	Key         string
	Err         error
}

func (e *AmbiguousScheduleError) Error() string {
	return fmt.Sprintf("egta: submission to scheduler %d with key %s is ambiguous: %v",
		e.SchedulerID, e.Key, e.Err)
}

func (e *AmbiguousScheduleError) Unwrap() error { return e.Err }

// PollTimeoutError is returned when the poller's overall timeout trips
// before the job reaches a terminal state. The remote job is left
// unresolved and may still complete server-side after the client gives
// up; only its last observed state is recorded here.
type PollTimeoutError struct {
	Handle    JobHandle
	LastState JobState
	Polls     int
	Elapsed   time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("egta: polling simulation %d timed out after %v (%d polls, last state %s)",
		e.Handle.SimulationID, e.Elapsed.Round(time.Millisecond), e.Polls, e.LastState)
}

// JobFailedError is returned when a job reaches a terminal or
// quasi-terminal state that is not Complete.
type JobFailedError struct {
	Handle  JobHandle
	State   JobState
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("egta: simulation %d finished in state %s", e.Handle.SimulationID, e.State)
	}
	return fmt.Sprintf("egta: simulation %d finished in state %s: %s",
		e.Handle.SimulationID, e.State, e.Message)
}
