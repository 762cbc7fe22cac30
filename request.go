package egta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Idempotency classifies a request by whether repeating it is safe.
type Idempotency int

const (
	// IdempotentAlways marks requests with no side effects (GET, list).
	// They are retried freely on any retryable failure.
	IdempotentAlways Idempotency = iota

	// IdempotentUnconfirmed marks requests whose side effect may have
	// landed even though the response was lost (create calls). Before
	// re-issuing one, the session first verifies whether the original
	// attempt took effect.
	IdempotentUnconfirmed

	// IdempotentNever marks requests that must not be re-issued after an
	// unconfirmed server failure.
	IdempotentNever
)

// Request is an immutable description of a single API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values

	// Body is marshaled as JSON when non-nil.
	Body any

	Idempotency Idempotency

	// IdempotencyKey is sent as the Idempotency-Key header. Servers that
	// support it dedupe re-issued creates, which makes re-issuing safe
	// when verification finds no prior effect.
	IdempotencyKey string

	// Verify reports whether a previous attempt of an
	// IdempotentUnconfirmed request took effect. A non-nil response means
	// the effect was found and is returned to the caller in place of a
	// duplicate create. (nil, nil) means the effect definitely did not
	// happen and the request may be re-issued. A non-nil error means the
	// outcome is ambiguous and the session stops retrying.
	Verify func(ctx context.Context) (*Response, error)
}

// Response is the outcome of a successful API call.
type Response struct {
	StatusCode int
	Body       []byte

	// Verified is true when the response was recovered by the request's
	// Verify hook rather than produced by the request itself.
	Verified bool
}

// Decode unmarshals the JSON response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("egta: empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("egta: unmarshal response: %w", err)
	}
	return nil
}
