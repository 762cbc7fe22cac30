package egta

import (
	"context"

	"go.uber.org/zap"
)

// Orchestrator composes submission, polling, and result retrieval into
// end-to-end workflows.
type Orchestrator struct {
	client *Client
	poller *Poller
	log    *zap.Logger
}

// NewOrchestrator creates an Orchestrator over the given client.
func NewOrchestrator(c *Client) *Orchestrator {
	return &Orchestrator{
		client: c,
		poller: NewPoller(c),
		log:    c.log,
	}
}

// RunSimulation submits a simulation, waits for it to finish, and
// fetches its results.
//
// An ambiguous submission is surfaced as an *AmbiguousScheduleError
// without polling: there is no confirmed handle to poll, and the caller
// must decide whether to re-list and recover manually or resubmit under
// a fresh idempotency key. A job that finishes in any state other than
// Complete returns a *JobFailedError; a poll timeout returns a
// *PollTimeoutError with the job left unresolved remotely.
func (o *Orchestrator) RunSimulation(ctx context.Context, spec SimulationSpec) (*Results, error) {
	out, err := o.client.ScheduleSimulation(ctx, spec)
	if err != nil {
		return nil, err
	}

	o.log.Debug("simulation submitted",
		zap.Int64("scheduler", out.Handle.SchedulerID),
		zap.Int64("simulation", out.Handle.SimulationID),
		zap.String("outcome", out.Status.String()))

	status, err := o.poller.Wait(ctx, *out.Handle)
	if err != nil {
		return nil, err
	}
	if status.State != StateComplete {
		return nil, &JobFailedError{
			Handle:  *out.Handle,
			State:   status.State,
			Message: status.Message,
		}
	}
	return o.client.FetchResults(ctx, *out.Handle)
}
