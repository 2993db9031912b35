// Package job tracks the lifecycle of podcast rendering jobs.
//
// A job moves queued → processing → completed | error | cancelled. Terminal
// states are final. The Tracker is the only writer of job state; everything
// else reads snapshots.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nadzzz/dialogcast/internal/audio"
	"github.com/nadzzz/dialogcast/internal/engine"
	"github.com/nadzzz/dialogcast/internal/metrics"
	"github.com/nadzzz/dialogcast/internal/scheduler"
	"github.com/nadzzz/dialogcast/internal/script"
	"github.com/nadzzz/dialogcast/internal/store"
	"github.com/nadzzz/dialogcast/internal/voice"
)

// State is a job lifecycle state.
type State string

const (
	Queued     State = "queued"
	Processing State = "processing"
	Completed  State = "completed"
	Error      State = "error"
	Cancelled  State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Completed || s == Error || s == Cancelled
}

// Kind classifies why a job failed.
type Kind string

const (
	KindParse      Kind = "parse"
	KindAllocation Kind = "allocation"
	KindSynthesis  Kind = "synthesis"
	KindAssembly   Kind = "assembly"
	KindTimeout    Kind = "timeout"
	KindInternal   Kind = "internal"
)

var (
	// ErrNotFound is returned for unknown or expired job ids.
	ErrNotFound = errors.New("job not found")

	// ErrTerminal is returned when a transition is attempted on a finished job.
	ErrTerminal = errors.New("job already finished")

	// ErrTimeout is the cancellation cause of a job stopped by the watchdog.
	ErrTimeout = errors.New("job exceeded max runtime")

	// ErrCancelled is the cancellation cause of a job cancelled by its client.
	ErrCancelled = errors.New("job cancelled")
)

// Failure describes why a job ended in the error state.
type Failure struct {
	Kind         Kind   `json:"kind"`
	Reason       string `json:"reason"`
	SegmentIndex *int   `json:"segment_index,omitempty"`
}

// Job is a snapshot of one job.
type Job struct {
	ID              string    `json:"id"`
	State           State     `json:"state"`
	Progress        int       `json:"progress"`
	Phase           string    `json:"phase,omitempty"`
	Message         string    `json:"message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	EngineRequested string    `json:"engine_requested,omitempty"`
	EnginesUsed     []string  `json:"engines_used,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
	Failure         *Failure  `json:"failure,omitempty"`
}

func (j Job) clone() Job {
	j.EnginesUsed = append([]string(nil), j.EnginesUsed...)
	j.Warnings = append([]string(nil), j.Warnings...)
	if j.Failure != nil {
		f := *j.Failure
		j.Failure = &f
	}
	return j
}

// Classify maps an error to a failure kind.
func Classify(err error) Kind {
	var segErr *scheduler.SegmentError
	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.As(err, &segErr), errors.Is(err, engine.ErrNoEngineAvailable):
		return KindSynthesis
	case errors.Is(err, script.ErrParse):
		return KindParse
	case errors.Is(err, voice.ErrAllocation):
		return KindAllocation
	case errors.Is(err, audio.ErrAssembly):
		return KindAssembly
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}

type entry struct {
	job     Job
	started bool
	cancel  context.CancelCauseFunc
	subs    []chan Job
}

// Tracker owns every job's state.
type Tracker struct {
	store      store.Store
	retention  time.Duration
	maxRuntime time.Duration

	mu       sync.Mutex
	jobs     map[string]*entry
	now      func() time.Time
	onExpire []func(id string)
}

// NewTracker creates a tracker. Terminal snapshots are persisted to st with
// the retention as TTL. A zero maxRuntime disables the watchdog.
func NewTracker(st store.Store, retention, maxRuntime time.Duration) *Tracker {
	return &Tracker{
		store:      st,
		retention:  retention,
		maxRuntime: maxRuntime,
		jobs:       make(map[string]*entry),
		now:        time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// OnExpire registers a hook called with the id of every job removed by Sweep.
func (t *Tracker) OnExpire(fn func(id string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = append(t.onExpire, fn)
}

// Create registers a new queued job.
func (t *Tracker) Create(engineRequested string) Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	e := &entry{job: Job{
		ID:              uuid.NewString(),
		State:           Queued,
		CreatedAt:       now,
		UpdatedAt:       now,
		EngineRequested: engineRequested,
		Message:         "queued",
	}}
	t.jobs[e.job.ID] = e
	return e.job.clone()
}

// Attach registers the function that cancels the job's work.
func (t *Tracker) Attach(id string, cancel context.CancelCauseFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[id]
	if !ok {
		return ErrNotFound
	}
	e.cancel = cancel
	return nil
}

// Start moves a queued job to processing.
func (t *Tracker) Start(id string) error {
	return t.update(id, func(e *entry) error {
		if e.job.State != Queued {
			return fmt.Errorf("cannot start job in state %s", e.job.State)
		}
		e.job.State = Processing
		e.started = true
		metrics.RecordJobStart()
		return nil
	})
}

// Progress updates a processing job. Progress never decreases; lower values
// keep the current percentage but still update phase and message.
func (t *Tracker) Progress(id, phase string, pct int, msg string) error {
	return t.update(id, func(e *entry) error {
		if e.job.State != Processing {
			return fmt.Errorf("cannot report progress in state %s", e.job.State)
		}
		pct = min(max(pct, 0), 100)
		e.job.Progress = max(e.job.Progress, pct)
		e.job.Phase = phase
		if msg != "" {
			e.job.Message = msg
		}
		return nil
	})
}

// Warn attaches a non-fatal warning to a job.
func (t *Tracker) Warn(id, msg string) error {
	return t.update(id, func(e *entry) error {
		e.job.Warnings = append(e.job.Warnings, msg)
		return nil
	})
}

// Complete marks a job completed.
func (t *Tracker) Complete(id string, enginesUsed []string, msg string) error {
	return t.finish(id, func(j *Job) {
		j.State = Completed
		j.Progress = 100
		j.Phase = "done"
		j.Message = msg
		j.EnginesUsed = append([]string(nil), enginesUsed...)
	})
}

// Fail marks a job failed. The error text becomes the job message. A job
// whose context was cancelled by its client ends cancelled instead.
func (t *Tracker) Fail(id string, err error) error {
	if errors.Is(err, ErrCancelled) {
		return t.Cancel(id)
	}
	f := &Failure{Kind: Classify(err), Reason: err.Error()}
	var segErr *scheduler.SegmentError
	if errors.As(err, &segErr) {
		idx := segErr.Index
		f.SegmentIndex = &idx
	}
	return t.finish(id, func(j *Job) {
		j.State = Error
		j.Message = err.Error()
		j.Failure = f
	})
}

// Cancel marks a job cancelled and stops its work.
func (t *Tracker) Cancel(id string) error {
	return t.finish(id, func(j *Job) {
		j.State = Cancelled
		j.Message = "cancelled by client"
	})
}

// Get returns a job snapshot, falling back to the persisted copy for jobs
// no longer held in memory.
func (t *Tracker) Get(ctx context.Context, id string) (Job, error) {
	t.mu.Lock()
	e, ok := t.jobs[id]
	var j Job
	if ok {
		j = e.job.clone()
	}
	t.mu.Unlock()
	if ok {
		return j, nil
	}

	data, err := t.store.Get(ctx, key(id))
	if errors.Is(err, store.ErrNotFound) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("decoding job %s: %w", id, err)
	}
	return j, nil
}

// List returns every in-memory job, oldest first.
func (t *Tracker) List() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Job, 0, len(t.jobs))
	for _, e := range t.jobs {
		out = append(out, e.job.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Subscribe returns a channel receiving the current snapshot followed by
// every update. The channel is closed after the terminal snapshot or when
// the returned stop function is called. Slow readers miss intermediate
// snapshots but always receive the latest one.
func (t *Tracker) Subscribe(id string) (<-chan Job, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	ch := make(chan Job, 8)
	ch <- e.job.clone()
	if e.job.State.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}
	e.subs = append(e.subs, ch)

	stop := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, c := range e.subs {
			if c == ch {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, stop, nil
}

// Watchdog fails every job that has not finished within the max runtime and
// cancels its work with ErrTimeout. It returns the number of jobs stopped.
func (t *Tracker) Watchdog() int {
	if t.maxRuntime <= 0 {
		return 0
	}
	t.mu.Lock()
	now := t.now()
	var expired []string
	for id, e := range t.jobs {
		if !e.job.State.Terminal() && now.Sub(e.job.CreatedAt) > t.maxRuntime {
			expired = append(expired, id)
		}
	}
	t.mu.Unlock()

	n := 0
	for _, id := range expired {
		reason := fmt.Errorf("%w of %s", ErrTimeout, t.maxRuntime)
		err := t.finish(id, func(j *Job) {
			j.State = Error
			j.Message = reason.Error()
			j.Failure = &Failure{Kind: KindTimeout, Reason: reason.Error()}
		}, ErrTimeout)
		if err == nil {
			slog.Warn("job timed out", "job_id", id, "max_runtime", t.maxRuntime)
			n++
		}
	}
	return n
}

// Sweep drops finished jobs created longer ago than the retention window,
// deletes their persisted snapshots and runs the expiry hooks for each. It
// returns the number of jobs removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	now := t.now()
	var expired []string
	for id, e := range t.jobs {
		if e.job.State.Terminal() && now.Sub(e.job.CreatedAt) > t.retention {
			expired = append(expired, id)
			delete(t.jobs, id)
		}
	}
	hooks := slices.Clone(t.onExpire)
	t.mu.Unlock()

	for _, id := range expired {
		slog.Debug("job expired", "job_id", id)
		t.forget(id)
		for _, fn := range hooks {
			fn(id)
		}
	}
	return len(expired)
}

// Run calls Watchdog and Sweep every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Watchdog()
			t.Sweep()
		}
	}
}

// update applies a non-terminal mutation and notifies subscribers.
func (t *Tracker) update(id string, fn func(e *entry) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if e.job.State.Terminal() {
		return ErrTerminal
	}
	if err := fn(e); err != nil {
		return err
	}
	e.job.UpdatedAt = t.now()
	e.publish(false)
	return nil
}

// finish applies a terminal transition, cancels the job's work, persists the
// snapshot and closes subscriptions. The cancel cause defaults to ErrCancelled.
func (t *Tracker) finish(id string, fn func(j *Job), cause ...error) error {
	t.mu.Lock()
	e, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	if e.job.State.Terminal() {
		t.mu.Unlock()
		return ErrTerminal
	}
	fn(&e.job)
	e.job.UpdatedAt = t.now()
	metrics.RecordJobEnd(string(e.job.State), e.started)
	e.publish(true)
	snapshot := e.job.clone()
	cancel := e.cancel
	t.mu.Unlock()

	if cancel != nil {
		c := ErrCancelled
		if len(cause) > 0 {
			c = cause[0]
		}
		cancel(c)
	}

	slog.Info("job finished", "job_id", id, "state", snapshot.State, "message", snapshot.Message)
	t.persist(snapshot)
	return nil
}

func (t *Tracker) persist(j Job) {
	data, err := json.Marshal(j)
	if err != nil {
		slog.Error("encoding job snapshot", "job_id", j.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.Set(ctx, key(j.ID), data, t.retention); err != nil {
		slog.Error("persisting job snapshot", "job_id", j.ID, "error", err)
	}
}

// publish sends the current snapshot to every subscriber, replacing a stale
// buffered snapshot when a reader lags. Callers hold t.mu.
func (e *entry) publish(final bool) {
	snap := e.job.clone()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
		if final {
			close(ch)
		}
	}
	if final {
		e.subs = nil
	}
}

func (t *Tracker) forget(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.Delete(ctx, key(id)); err != nil {
		slog.Warn("deleting job record", "job_id", id, "error", err)
	}
}

func key(id string) store.Key { return store.Key{"job", id} }
