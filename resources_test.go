package egta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleSimulationCreated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generic_schedulers/17/simulations", func(w http.ResponseWriter, r *http.Request) {
		var spec SimulationSpec
		json.NewDecoder(r.Body).Decode(&spec)
		if spec.Assignment != "all: 2 s0, 1 s1" {
			w.WriteHeader(400)
			return
		}
		w.WriteHeader(201)
		fmt.Fprintf(w, `{"folder_number":42,"scheduler_id":17,"state":"queued"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	out, err := c.ScheduleSimulation(context.Background(), SimulationSpec{
		SchedulerID:  17,
		Assignment:   "all: 2 s0, 1 s1",
		Observations: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != ScheduleCreated {
		t.Fatalf("expected ScheduleCreated, got %s", out.Status)
	}
	if out.Handle == nil || out.Handle.SimulationID != 42 || out.Handle.SchedulerID != 17 {
		t.Fatalf("unexpected handle: %+v", out.Handle)
	}
	if out.Key == "" {
		t.Fatal("expected an idempotency key to be attached")
	}
}

func TestScheduleSimulationRetriesOverload(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generic_schedulers/17/simulations", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(503)
			return
		}
		w.WriteHeader(201)
		fmt.Fprintf(w, `{"folder_number":42,"scheduler_id":17,"state":"queued"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	out, err := c.ScheduleSimulation(context.Background(), SimulationSpec{
		SchedulerID: 17,
		Assignment:  "all: 2 s0",
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("expected exactly 3 transport calls, got %d", n)
	}
	if out.Status != ScheduleCreated || out.Handle.SimulationID != 42 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

// The server creates the job but the response is lost (500). The retry
// must find the existing job through the listing instead of creating a
// duplicate.
func TestScheduleSimulationNoDuplicateAfterUnconfirmedCreate(t *testing.T) {
	var (
		mu      sync.Mutex
		jobs    []SimulationSummary
		creates int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generic_schedulers/17/simulations", func(w http.ResponseWriter, r *http.Request) {
		var spec SimulationSpec
		json.NewDecoder(r.Body).Decode(&spec)
		mu.Lock()
		creates++
		jobs = append(jobs, SimulationSummary{
			Folder:         77,
			SchedulerID:    17,
			Profile:        spec.Assignment,
			State:          "queued",
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		})
		mu.Unlock()
		// Effect landed, response lost.
		w.WriteHeader(500)
	})
	mux.HandleFunc("GET /simulations", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewEncoder(w).Encode(Page[SimulationSummary]{Items: jobs})
	})
	mux.HandleFunc("GET /simulations/77", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"folder_number":77,"scheduler_id":17,"state":"queued"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	out, err := c.ScheduleSimulation(context.Background(), SimulationSpec{
		SchedulerID: 17,
		Assignment:  "all: 2 s0",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != ScheduleFound {
		t.Fatalf("expected ScheduleFound, got %s", out.Status)
	}
	if out.Handle == nil || out.Handle.SimulationID != 77 {
		t.Fatalf("unexpected handle: %+v", out.Handle)
	}

	mu.Lock()
	defer mu.Unlock()
	if creates != 1 {
		t.Fatalf("expected exactly 1 create, got %d (duplicate job)", creates)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected exactly 1 job on the server, got %d", len(jobs))
	}
}

// When both the create and the verification listing fail, the outcome
// is ambiguous: never silently resolved to success or failure.
func TestScheduleSimulationAmbiguous(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generic_schedulers/17/simulations", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	})
	mux.HandleFunc("GET /simulations", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL, WithRetry(2, time.Millisecond))
	defer c.Close()

	out, err := c.ScheduleSimulation(context.Background(), SimulationSpec{
		SchedulerID: 17,
		Assignment:  "all: 2 s0",
	})
	var amb *AmbiguousScheduleError
	if !errors.As(err, &amb) {
		t.Fatalf("expected AmbiguousScheduleError, got %v", err)
	}
	if amb.SchedulerID != 17 {
		t.Fatalf("expected scheduler id on error, got %d", amb.SchedulerID)
	}
	if out == nil || out.Status != ScheduleAmbiguous {
		t.Fatalf("expected ScheduleAmbiguous outcome, got %+v", out)
	}
	if out.Handle != nil {
		t.Fatalf("ambiguous outcome must carry no handle, got %+v", out.Handle)
	}
	if out.Key != amb.Key {
		t.Fatalf("outcome key %q does not match error key %q", out.Key, amb.Key)
	}
}

func TestGetJobStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /simulations/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"folder_number":42,"state":"running","error_message":""}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	st, err := c.GetJobStatus(context.Background(), JobHandle{SchedulerID: 17, SimulationID: 42})
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StateRunning || st.RawState != "running" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestFetchResults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /simulations/42/results", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"profile": "all: 2 s0",
			"simulator_fullname": "market-sim-1.2",
			"observations": [
				{"symmetry_groups": [{"id": 3, "role": "all", "strategy": "s0", "count": 2, "payoff": 1.5}]}
			]
		}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	h := JobHandle{SchedulerID: 17, SimulationID: 42}
	res, err := c.FetchResults(context.Background(), h)
	if err != nil {
		t.Fatal(err)
	}
	if res.Handle != h {
		t.Fatalf("expected handle %+v, got %+v", h, res.Handle)
	}
	if len(res.Observations) != 1 || len(res.Observations[0].SymmetryGroups) != 1 {
		t.Fatalf("unexpected results: %+v", res)
	}
	grp := res.Observations[0].SymmetryGroups[0]
	if grp.Payoff == nil || *grp.Payoff != 1.5 {
		t.Fatalf("unexpected payoff: %+v", grp)
	}
}

func TestCreateGame(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /games", func(w http.ResponseWriter, r *http.Request) {
		var spec GameSpec
		json.NewDecoder(r.Body).Decode(&spec)
		w.WriteHeader(201)
		fmt.Fprintf(w, `{"id":5,"name":%q,"simulator_id":%d,"size":%d}`, spec.Name, spec.SimulatorID, spec.Size)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	game, err := c.CreateGame(context.Background(), GameSpec{SimulatorID: 2, Name: "test-game", Size: 3})
	if err != nil {
		t.Fatal(err)
	}
	if game.ID != 5 || game.Name != "test-game" {
		t.Fatalf("unexpected game: %+v", game)
	}
}

func TestAddAndRemoveProfile(t *testing.T) {
	var removed atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generic_schedulers/17/add_profile", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Assignment string `json:"assignment"`
			Count      int    `json:"count"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(201)
		fmt.Fprintf(w, `{"id":31,"assignment":%q,"observations_count":%d,"size":3}`, body.Assignment, body.Count)
	})
	mux.HandleFunc("POST /generic_schedulers/17/remove_profile", func(w http.ResponseWriter, r *http.Request) {
		removed.Add(1)
		w.WriteHeader(200)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	prof, err := c.AddProfile(context.Background(), 17, "all: 2 s0, 1 s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if prof.ID != 31 || prof.ObservationsCount != 10 {
		t.Fatalf("unexpected profile: %+v", prof)
	}
	if err := c.RemoveProfile(context.Background(), 17, prof.ID); err != nil {
		t.Fatal(err)
	}
	if removed.Load() != 1 {
		t.Fatal("expected one remove call")
	}
}

// A create whose effect landed is recovered by name when the response
// was lost.
func TestCreateSchedulerVerifiedByName(t *testing.T) {
	var creates atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generic_schedulers", func(w http.ResponseWriter, r *http.Request) {
		creates.Add(1)
		w.WriteHeader(500)
	})
	mux.HandleFunc("GET /generic_schedulers", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"id":9,"name":"sched-a"}],"next_cursor":""}`)
	})
	mux.HandleFunc("GET /generic_schedulers/9", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":9,"name":"sched-a","active":true,"simulator_id":2,"size":4}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv.URL)
	defer c.Close()

	sched, err := c.CreateScheduler(context.Background(), SchedulerSpec{
		SimulatorID: 2,
		Name:        "sched-a",
		Size:        4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sched.ID != 9 {
		t.Fatalf("unexpected scheduler: %+v", sched)
	}
	if n := creates.Load(); n != 1 {
		t.Fatalf("expected exactly 1 create attempt, got %d", n)
	}
}
