package egta

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type widget struct {
	ID int64 `json:"id"`
}

func TestPagerLazyFetch(t *testing.T) {
	var fetches atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /widgets", func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, `{"items":[{"id":1},{"id":2}],"next_cursor":"c2"}`)
		case "c2":
			fmt.Fprint(w, `{"items":[{"id":3}],"next_cursor":""}`)
		default:
			w.WriteHeader(400)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	pager := newPager[widget](c, "/widgets", nil)
	ctx := context.Background()

	if n := fetches.Load(); n != 0 {
		t.Fatalf("pager fetched %d pages before first Next", n)
	}

	var got []int64
	for {
		item, ok, err := pager.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, item.ID)
		// Page two must not be fetched while page one still has items.
		if len(got) <= 2 && fetches.Load() != 1 {
			t.Fatalf("expected 1 fetch after %d items, got %d", len(got), fetches.Load())
		}
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected items: %v", got)
	}
	if n := fetches.Load(); n != 2 {
		t.Fatalf("expected 2 fetches, got %d", n)
	}

	// Exhausted pager stays exhausted.
	if _, ok, err := pager.Next(ctx); ok || err != nil {
		t.Fatalf("expected clean exhaustion, got ok=%v err=%v", ok, err)
	}
}

func TestPagerRestart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /widgets", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			fmt.Fprint(w, `{"items":[{"id":1}],"next_cursor":"c2"}`)
		} else {
			fmt.Fprint(w, `{"items":[{"id":2}],"next_cursor":""}`)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	pager := newPager[widget](c, "/widgets", nil)
	ctx := context.Background()

	first, err := pager.Collect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	pager.Restart()
	second, err := pager.Collect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 items in each pass, got %d and %d", len(first), len(second))
	}
	if second[0].ID != 1 {
		t.Fatalf("restart did not resume from the first page: %+v", second)
	}
}

func TestPagerCursorExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /widgets", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			fmt.Fprint(w, `{"items":[{"id":1}],"next_cursor":"stale"}`)
			return
		}
		w.WriteHeader(http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	pager := newPager[widget](c, "/widgets", nil)
	ctx := context.Background()

	if _, ok, err := pager.Next(ctx); !ok || err != nil {
		t.Fatalf("expected first item, got ok=%v err=%v", ok, err)
	}
	_, _, err := pager.Next(ctx)
	if !errors.Is(err, ErrCursorExpired) {
		t.Fatalf("expected ErrCursorExpired, got %v", err)
	}

	// Recovery path: restart from the first page.
	pager.Restart()
	item, ok, err := pager.Next(ctx)
	if err != nil || !ok || item.ID != 1 {
		t.Fatalf("restart after expiry failed: item=%+v ok=%v err=%v", item, ok, err)
	}
}
