package egta

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// Page is a single page of a paginated listing.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// Pager is a lazy, pull-based sequence of T across a cursor-paginated
// listing. Pages are fetched on demand; the sequence is finite once the
// server reports no further cursor. A Pager is restartable from the
// first page but not resumable mid-sequence after a long pause: if the
// cursor expires server-side, Next returns ErrCursorExpired and the
// caller should Restart. Pagers are not safe for concurrent use.
type Pager[T any] struct {
	client *Client
	path   string
	query  url.Values

	buf    []T
	cursor string
	done   bool
}

func newPager[T any](c *Client, path string, query url.Values) *Pager[T] {
	return &Pager[T]{client: c, path: path, query: query}
}

// Next returns the next item in the sequence. ok is false when the
// sequence is exhausted or an error occurred.
func (p *Pager[T]) Next(ctx context.Context) (item T, ok bool, err error) {
	var zero T
	for len(p.buf) == 0 {
		if p.done {
			return zero, false, nil
		}
		if err := p.fetchPage(ctx); err != nil {
			return zero, false, err
		}
	}
	item = p.buf[0]
	p.buf = p.buf[1:]
	return item, true, nil
}

// Restart resets the pager to the first page. Previously returned items
// may be produced again.
func (p *Pager[T]) Restart() {
	p.buf = nil
	p.cursor = ""
	p.done = false
}

// Collect drains the remaining sequence into a slice.
func (p *Pager[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for {
		item, ok, err := p.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}

func (p *Pager[T]) fetchPage(ctx context.Context) error {
	q := url.Values{}
	for k, vs := range p.query {
		q[k] = vs
	}
	if p.cursor != "" {
		q.Set("cursor", p.cursor)
	}

	var page Page[T]
	_, err := p.client.do(ctx, &Request{
		Method:      http.MethodGet,
		Path:        p.path,
		Query:       q,
		Idempotency: IdempotentAlways,
	}, &page)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusGone {
			return ErrCursorExpired
		}
		return err
	}

	p.buf = page.Items
	p.cursor = page.NextCursor
	if page.NextCursor == "" {
		p.done = true
	}
	return nil
}
