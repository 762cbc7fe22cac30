package egta

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Simulator describes a registered simulator binary.
type Simulator struct {
	ID                int64               `json:"id"`
	Name              string              `json:"name"`
	Version           string              `json:"version"`
	Email             string              `json:"email"`
	RoleConfiguration map[string][]string `json:"role_configuration"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Game is a named view over a simulator instance's profile space.
type Game struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	SimulatorID   int64             `json:"simulator_id"`
	Size          int               `json:"size"`
	Configuration map[string]string `json:"configuration,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// GameSpec describes a game to create.
type GameSpec struct {
	SimulatorID   int64             `json:"simulator_id"`
	Name          string            `json:"name"`
	Size          int               `json:"size"`
	Configuration map[string]string `json:"configuration,omitempty"`
}

// Scheduler is a generic scheduler controlling which profiles get
// simulated and how many observations each requires.
type Scheduler struct {
	ID                        int64             `json:"id"`
	Name                      string            `json:"name"`
	Active                    bool              `json:"active"`
	SimulatorID               int64             `json:"simulator_id"`
	Size                      int               `json:"size"`
	ProcessMemory             int               `json:"process_memory"`
	TimePerObservation        int               `json:"time_per_observation"`
	ObservationsPerSimulation int               `json:"observations_per_simulation"`
	Nodes                     int               `json:"nodes"`
	Configuration             map[string]string `json:"configuration,omitempty"`
	CreatedAt                 time.Time         `json:"created_at"`
	UpdatedAt                 time.Time         `json:"updated_at"`
}

// SchedulerSpec describes a generic scheduler to create.
type SchedulerSpec struct {
	SimulatorID               int64             `json:"simulator_id"`
	Name                      string            `json:"name"`
	Active                    bool              `json:"active"`
	Size                      int               `json:"size"`
	ProcessMemory             int               `json:"process_memory"`
	TimePerObservation        int               `json:"time_per_observation"`
	ObservationsPerSimulation int               `json:"observations_per_simulation"`
	Nodes                     int               `json:"nodes"`
	Configuration             map[string]string `json:"configuration,omitempty"`
}

// SimulationSpec describes a simulation job to schedule. The assignment
// string and parameters are opaque to the client; they are passed
// through to the simulator.
type SimulationSpec struct {
	SchedulerID  int64          `json:"-"`
	Assignment   string         `json:"assignment"`
	Observations int            `json:"observations,omitempty"`
	Parameters   map[string]any `json:"configuration,omitempty"`
}

// JobHandle identifies a submitted simulation job. Immutable once
// created.
type JobHandle struct {
	SchedulerID  int64 `json:"scheduler_id"`
	SimulationID int64 `json:"simulation_id"`
}

// Simulation is the server's view of a submitted simulation job.
type Simulation struct {
	Folder         int64  `json:"folder_number"`
	SchedulerID    int64  `json:"scheduler_id"`
	Profile        string `json:"profile"`
	Simulator      string `json:"simulator_fullname"`
	State          string `json:"state"`
	ErrorMessage   string `json:"error_message"`
	Size           int    `json:"size"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SimulationSummary is one row of the simulations listing.
type SimulationSummary struct {
	Folder         int64  `json:"folder"`
	SchedulerID    int64  `json:"scheduler_id"`
	Profile        string `json:"profile"`
	Simulator      string `json:"simulator"`
	State          string `json:"state"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// JobStatus is the client-side view of a job's lifecycle state.
type JobStatus struct {
	Handle   JobHandle
	State    JobState
	RawState string
	Message  string
}

// Observation is one recorded simulation run with per-group payoffs.
type Observation struct {
	SymmetryGroups []SymmetryGroup    `json:"symmetry_groups"`
	Features       map[string]float64 `json:"features,omitempty"`
}

// Results holds the structured output of a completed simulation job.
type Results struct {
	Handle       JobHandle     `json:"-"`
	Profile      string        `json:"profile"`
	Simulator    string        `json:"simulator_fullname"`
	Observations []Observation `json:"observations"`
}

// ScheduleStatus is the three-way outcome of ScheduleSimulation.
type ScheduleStatus int

const (
	// ScheduleCreated: exactly one new job was created.
	ScheduleCreated ScheduleStatus = iota
	// ScheduleFound: a retry discovered the job already existed from an
	// earlier unconfirmed attempt; no duplicate was created.
	ScheduleFound
	// ScheduleAmbiguous: it cannot be determined whether the job was
	// created. The caller must re-list and recover, or resubmit under a
	// fresh idempotency key.
	ScheduleAmbiguous
)

func (s ScheduleStatus) String() string {
	switch s {
	case ScheduleCreated:
		return "created"
	case ScheduleFound:
		return "found"
	case ScheduleAmbiguous:
		return "ambiguous"
	default:
		return fmt.Sprintf("ScheduleStatus(%d)", int(s))
	}
}

// ScheduleOutcome reports what happened to a submission. Handle is nil
// exactly when Status is ScheduleAmbiguous.
type ScheduleOutcome struct {
	Status ScheduleStatus
	Handle *JobHandle
	Key    string
}

// GetSimulator fetches a simulator by id.
func (c *Client) GetSimulator(ctx context.Context, id int64) (*Simulator, error) {
	var sim Simulator
	_, err := c.do(ctx, &Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/simulators/%d", id),
	}, &sim)
	if err != nil {
		return nil, err
	}
	return &sim, nil
}

// ListSimulators returns a lazy sequence of all simulators.
func (c *Client) ListSimulators() *Pager[Simulator] {
	return newPager[Simulator](c, "/simulators", nil)
}

// AddStrategy adds a strategy to a simulator role.
func (c *Client) AddStrategy(ctx context.Context, simulatorID int64, role, strategy string) error {
	_, err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/simulators/%d/add_strategy", simulatorID),
		Body:   map[string]string{"role": role, "strategy": strategy},
		// Adding an existing strategy is a server-side no-op.
		Idempotency: IdempotentAlways,
	})
	return err
}

// RemoveStrategy removes a strategy from a simulator role.
func (c *Client) RemoveStrategy(ctx context.Context, simulatorID int64, role, strategy string) error {
	_, err := c.Do(ctx, &Request{
		Method:      http.MethodPost,
		Path:        fmt.Sprintf("/simulators/%d/remove_strategy", simulatorID),
		Body:        map[string]string{"role": role, "strategy": strategy},
		Idempotency: IdempotentAlways,
	})
	return err
}

// CreateGame creates a game. Game names are unique, so a retry after an
// unconfirmed failure verifies by name before re-issuing.
func (c *Client) CreateGame(ctx context.Context, spec GameSpec) (*Game, error) {
	var game Game
	_, err := c.do(ctx, &Request{
		Method:         http.MethodPost,
		Path:           "/games",
		Body:           spec,
		Idempotency:    IdempotentUnconfirmed,
		IdempotencyKey: uuid.NewString(),
		Verify: func(ctx context.Context) (*Response, error) {
			return c.findByName(ctx, "/games", spec.Name)
		},
	}, &game)
	if err != nil {
		return nil, err
	}
	return &game, nil
}

// GetGame fetches a game by id.
func (c *Client) GetGame(ctx context.Context, id int64) (*Game, error) {
	var game Game
	_, err := c.do(ctx, &Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/games/%d", id),
	}, &game)
	if err != nil {
		return nil, err
	}
	return &game, nil
}

// ListGames returns a lazy sequence of all games.
func (c *Client) ListGames() *Pager[Game] {
	return newPager[Game](c, "/games", nil)
}

// CreateScheduler creates a generic scheduler. Names are unique; retries
// after unconfirmed failures verify by name.
func (c *Client) CreateScheduler(ctx context.Context, spec SchedulerSpec) (*Scheduler, error) {
	var sched Scheduler
	_, err := c.do(ctx, &Request{
		Method:         http.MethodPost,
		Path:           "/generic_schedulers",
		Body:           spec,
		Idempotency:    IdempotentUnconfirmed,
		IdempotencyKey: uuid.NewString(),
		Verify: func(ctx context.Context) (*Response, error) {
			return c.findByName(ctx, "/generic_schedulers", spec.Name)
		},
	}, &sched)
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// GetScheduler fetches a scheduler by id.
func (c *Client) GetScheduler(ctx context.Context, id int64) (*Scheduler, error) {
	var sched Scheduler
	_, err := c.do(ctx, &Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/generic_schedulers/%d", id),
	}, &sched)
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// ListSchedulers returns a lazy sequence of all generic schedulers.
func (c *Client) ListSchedulers() *Pager[Scheduler] {
	return newPager[Scheduler](c, "/generic_schedulers", nil)
}

// Profile is an assignment scheduled on a scheduler.
type Profile struct {
	ID                int64  `json:"id"`
	Assignment        string `json:"assignment"`
	ObservationsCount int    `json:"observations_count"`
	Size              int    `json:"size"`
}

// AddProfile schedules an assignment on a scheduler, requesting the
// given observation count. Re-adding an existing assignment updates its
// requested count server-side, so the call is safe to retry.
func (c *Client) AddProfile(ctx context.Context, schedulerID int64, assignment string, count int) (*Profile, error) {
	var prof Profile
	_, err := c.do(ctx, &Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/generic_schedulers/%d/add_profile", schedulerID),
		Body: map[string]any{
			"assignment": assignment,
			"count":      count,
		},
		Idempotency: IdempotentAlways,
	}, &prof)
	if err != nil {
		return nil, err
	}
	return &prof, nil
}

// RemoveProfile unschedules a profile from a scheduler. Removing an
// absent profile is a server-side no-op.
func (c *Client) RemoveProfile(ctx context.Context, schedulerID, profileID int64) error {
	_, err := c.Do(ctx, &Request{
		Method:      http.MethodPost,
		Path:        fmt.Sprintf("/generic_schedulers/%d/remove_profile", schedulerID),
		Body:        map[string]int64{"profile_id": profileID},
		Idempotency: IdempotentAlways,
	})
	return err
}

// SetSchedulerActive activates or deactivates a scheduler.
func (c *Client) SetSchedulerActive(ctx context.Context, id int64, active bool) error {
	_, err := c.Do(ctx, &Request{
		Method:      http.MethodPut,
		Path:        fmt.Sprintf("/generic_schedulers/%d", id),
		Body:        map[string]bool{"active": active},
		Idempotency: IdempotentAlways,
	})
	return err
}

// ScheduleSimulation submits a simulation job. Even across retries the
// result is exactly one of: one job created (ScheduleCreated), the job
// from an earlier unconfirmed attempt found (ScheduleFound, no
// duplicate), or a clearly reported ambiguous outcome
// (ScheduleAmbiguous, with the returned error an
// *AmbiguousScheduleError). Never a silent duplicate, never a silent
// loss. A fresh idempotency key is attached to every submission; the
// verification fallback matches the key, then the assignment, against
// the scheduler's recent simulations.
func (c *Client) ScheduleSimulation(ctx context.Context, spec SimulationSpec) (*ScheduleOutcome, error) {
	key := uuid.NewString()

	resp, err := c.Do(ctx, &Request{
		Method:         http.MethodPost,
		Path:           fmt.Sprintf("/generic_schedulers/%d/simulations", spec.SchedulerID),
		Body:           spec,
		Idempotency:    IdempotentUnconfirmed,
		IdempotencyKey: key,
		Verify: func(ctx context.Context) (*Response, error) {
			return c.findScheduledSimulation(ctx, spec.SchedulerID, key, spec.Assignment)
		},
	})
	if err != nil {
		var amb *AmbiguousScheduleError
		if errors.As(err, &amb) {
			amb.SchedulerID = spec.SchedulerID
			return &ScheduleOutcome{Status: ScheduleAmbiguous, Key: key}, err
		}
		return nil, err
	}

	var sim Simulation
	if derr := resp.Decode(&sim); derr != nil {
		return nil, derr
	}
	handle := &JobHandle{SchedulerID: spec.SchedulerID, SimulationID: sim.Folder}
	status := ScheduleCreated
	if resp.Verified {
		status = ScheduleFound
	}
	return &ScheduleOutcome{Status: status, Handle: handle, Key: key}, nil
}

// GetJobStatus fetches the current lifecycle state of a job.
func (c *Client) GetJobStatus(ctx context.Context, h JobHandle) (*JobStatus, error) {
	var sim Simulation
	_, err := c.do(ctx, &Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/simulations/%d", h.SimulationID),
	}, &sim)
	if err != nil {
		return nil, err
	}
	return &JobStatus{
		Handle:   h,
		State:    ParseJobState(sim.State),
		RawState: sim.State,
		Message:  sim.ErrorMessage,
	}, nil
}

// FetchResults retrieves the structured results of a completed job.
func (c *Client) FetchResults(ctx context.Context, h JobHandle) (*Results, error) {
	var res Results
	_, err := c.do(ctx, &Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/simulations/%d/results", h.SimulationID),
	}, &res)
	if err != nil {
		return nil, err
	}
	res.Handle = h
	return &res, nil
}

// ListSimulations returns a lazy sequence of simulations, optionally
// restricted to one scheduler (schedulerID > 0).
func (c *Client) ListSimulations(schedulerID int64) *Pager[SimulationSummary] {
	var q url.Values
	if schedulerID > 0 {
		q = url.Values{"scheduler": []string{strconv.FormatInt(schedulerID, 10)}}
	}
	return newPager[SimulationSummary](c, "/simulations", q)
}

// verifyPageLimit bounds how many listing pages a verification check
// walks before concluding. Unconfirmed submissions are recent, so they
// appear in the first pages of the newest-first listing.
const verifyPageLimit = 3

// findScheduledSimulation looks for a simulation created by an earlier
// unconfirmed submission: first by idempotency key, then by assignment.
// A listing failure makes the outcome ambiguous, so errors propagate.
func (c *Client) findScheduledSimulation(ctx context.Context, schedulerID int64, key, assignment string) (*Response, error) {
	match, err := findFirst[SimulationSummary](ctx, c, "/simulations",
		url.Values{"scheduler": []string{strconv.FormatInt(schedulerID, 10)}},
		func(sim *SimulationSummary) bool {
			if sim.IdempotencyKey != "" {
				return sim.IdempotencyKey == key
			}
			return sim.Profile == assignment
		})
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, nil
	}
	// Re-fetch the full object so the caller decodes the same shape a
	// create response would have had.
	resp, err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/simulations/%d", match.Folder),
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// findByName resolves a create-by-unique-name retry against the first
// pages of the listing.
func (c *Client) findByName(ctx context.Context, path, name string) (*Response, error) {
	type named struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	match, err := findFirst[named](ctx, c, path, url.Values{"name": []string{name}},
		func(item *named) bool { return item.Name == name })
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, nil
	}
	return c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("%s/%d", path, match.ID),
	})
}

func findFirst[T any](ctx context.Context, c *Client, path string, q url.Values, pred func(*T) bool) (*T, error) {
	cursor := ""
	for page := 0; page < verifyPageLimit; page++ {
		qq := url.Values{}
		for k, vs := range q {
			qq[k] = vs
		}
		if cursor != "" {
			qq.Set("cursor", cursor)
		}
		var pg Page[T]
		_, err := c.do(ctx, &Request{
			Method: http.MethodGet,
			Path:   path,
			Query:  qq,
		}, &pg)
		if err != nil {
			return nil, err
		}
		for i := range pg.Items {
			if pred(&pg.Items[i]) {
				return &pg.Items[i], nil
			}
		}
		if pg.NextCursor == "" {
			return nil, nil
		}
		cursor = pg.NextCursor
	}
	return nil, nil
}
