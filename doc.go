// Package egta provides a resilient client for the EGTA Online
// experiment-scheduling service: submit game-theoretic simulation jobs,
// poll their remote lifecycle, and retrieve structured results.
//
// The client layers the machinery needed to talk to a rate-limited,
// eventually-consistent remote API:
//   - Sliding-window request quota with FIFO admission, plus optional
//     token-bucket smoothing (golang.org/x/time/rate) with adaptive
//     rate reduction on 429 responses
//   - Retry with exponential backoff and jitter, classified by each
//     request's idempotency so create calls are never silently duplicated
//   - Verify-before-retry for unconfirmed submissions, with an explicit
//     ambiguous outcome when verification is inconclusive
//   - Single coalesced re-authentication when the session expires
//   - Cursor-based pagination as lazy, restartable sequences
//   - A job poller with its own coarser backoff and an overall timeout
//
// Configuration uses the functional options pattern:
//
//	client := egta.New(
//	    egta.WithBaseURL("https://egtaonline.eecs.umich.edu/api/v3"),
//	    egta.WithCredentials("user@example.com", token),
//	    egta.WithQuota(100, time.Minute),
//	    egta.WithRetry(4, 2*time.Second),
//	    egta.WithPollInterval(5*time.Second, 2*time.Minute),
//	)
//	defer client.Close()
//
//	orch := egta.NewOrchestrator(client)
//	results, err := orch.RunSimulation(ctx, spec)
//
// A single Client is safe for concurrent use; all blocking operations
// take a context.Context and suspend only while waiting for a rate
// permit, a retry backoff, or a poll interval.
package egta
