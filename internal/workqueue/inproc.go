package workqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// UnitState is the lifecycle state of an enqueued unit.
type UnitState string

const (
	StatePending UnitState = "pending"
	StateRunning UnitState = "running"
	StateDone    UnitState = "done"
	StateFailed  UnitState = "failed"
)

// UnitStatus is a point-in-time view of one unit, exposed to the admin
// endpoint and the queue CLI command.
type UnitStatus struct {
	Handle    Handle    `json:"handle"`
	State     UnitState `json:"state"`
	Attempt   int       `json:"attempt"`
	NextRun   time.Time `json:"next_run,omitempty"`
	Failure   Payload   `json:"failure,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InProcConfig configures the in-process runtime.
type InProcConfig struct {
	// Workers is the number of concurrent executor goroutines.
	Workers int
	// Online reports network connectivity for the network constraint.
	// Nil means always online.
	Online func() bool
	// OfflineRecheck is how long a network-constrained unit waits before
	// re-checking connectivity. Offline waits do not consume attempts.
	OfflineRecheck time.Duration
}

// InProcRuntime is an in-process Runtime implementation. It honors the
// unique-key-replace policy, the network constraint, and per-unit backoff,
// but does not survive process death; production deployments bind Runtime
// to an external durable scheduler instead.
type InProcRuntime struct {
	config   InProcConfig
	executor Executor
	logger   *slog.Logger

	mu    sync.Mutex
	units map[string]*unit

	ready   chan readyItem
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// Ensure InProcRuntime implements the Runtime interface
var _ Runtime = (*InProcRuntime)(nil)

type unit struct {
	handle     Handle
	spec       WorkSpec
	attempt    int
	state      UnitState
	failure    Payload
	timer      *time.Timer
	generation int
	// replacement holds a spec enqueued with ReplaceExisting while this
	// unit was running; it starts fresh once the running attempt finishes.
	replacement *WorkSpec
	nextRun     time.Time
	updatedAt   time.Time
}

type readyItem struct {
	u   *unit
	gen int
}

// NewInProcRuntime creates the runtime. Call Start before enqueuing.
func NewInProcRuntime(config InProcConfig, executor Executor, logger *slog.Logger) *InProcRuntime {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.OfflineRecheck <= 0 {
		config.OfflineRecheck = 5 * time.Second
	}

	return &InProcRuntime{
		config:   config,
		executor: executor,
		logger:   logger.With("component", "workqueue"),
		units:    make(map[string]*unit),
		ready:    make(chan readyItem, 1024),
	}
}

// Start launches the worker goroutines.
func (r *InProcRuntime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("runtime already started")
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.group, _ = errgroup.WithContext(r.ctx)

	for i := 0; i < r.config.Workers; i++ {
		r.group.Go(r.worker)
	}

	r.started = true
	r.logger.Info("work runtime started", "workers", r.config.Workers)
	return nil
}

// Stop cancels the workers and waits for in-flight attempts to finish.
func (r *InProcRuntime) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	for _, u := range r.units {
		if u.timer != nil {
			u.timer.Stop()
		}
	}
	r.cancel()
	r.mu.Unlock()

	err := r.group.Wait()
	r.logger.Info("work runtime stopped")
	return err
}

// EnqueueUnique schedules one unit of work keyed by spec.UniqueKey.
func (r *InProcRuntime) EnqueueUnique(ctx context.Context, spec WorkSpec) (Handle, error) {
	if spec.UniqueKey == "" {
		return Handle{}, fmt.Errorf("work spec has no unique key")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return Handle{}, fmt.Errorf("runtime not started")
	}

	existing, ok := r.units[spec.UniqueKey]
	if ok && (existing.state == StatePending || existing.state == StateRunning) {
		if spec.Policy == KeepExisting {
			return existing.handle, nil
		}
		return r.replaceLocked(existing, spec)
	}

	u := &unit{
		handle:    Handle{ID: uuid.New().String(), UniqueKey: spec.UniqueKey},
		spec:      spec,
		state:     StatePending,
		updatedAt: time.Now(),
	}
	r.units[spec.UniqueKey] = u

	if err := r.pushLocked(u); err != nil {
		delete(r.units, spec.UniqueKey)
		return Handle{}, err
	}

	r.logger.Debug("work enqueued", "unique_key", spec.UniqueKey, "id", u.handle.ID)
	return u.handle, nil
}

// replaceLocked supersedes a pending or running unit with a fresh spec.
func (r *InProcRuntime) replaceLocked(u *unit, spec WorkSpec) (Handle, error) {
	newHandle := Handle{ID: uuid.New().String(), UniqueKey: spec.UniqueKey}

	if u.state == StateRunning {
		// Let the in-flight attempt finish; the replacement starts fresh
		// afterwards. At most one attempt per key runs at a time.
		u.replacement = &spec
		u.handle = newHandle
		u.updatedAt = time.Now()
		return newHandle, nil
	}

	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	u.generation++
	u.spec = spec
	u.attempt = 0
	u.failure = nil
	u.handle = newHandle
	u.state = StatePending
	u.updatedAt = time.Now()

	if err := r.pushLocked(u); err != nil {
		return Handle{}, err
	}

	r.logger.Debug("pending work replaced", "unique_key", spec.UniqueKey, "id", newHandle.ID)
	return newHandle, nil
}

// pushLocked queues the unit for a worker.
func (r *InProcRuntime) pushLocked(u *unit) error {
	u.nextRun = time.Now()
	select {
	case r.ready <- readyItem{u: u, gen: u.generation}:
		return nil
	default:
		return fmt.Errorf("work queue full")
	}
}

// scheduleLocked re-queues the unit after the given delay.
func (r *InProcRuntime) scheduleLocked(u *unit, delay time.Duration) {
	gen := u.generation
	u.nextRun = time.Now().Add(delay)
	u.timer = time.AfterFunc(delay, func() {
		select {
		case r.ready <- readyItem{u: u, gen: gen}:
		case <-r.ctx.Done():
		}
	})
}

// worker consumes ready units until the runtime stops.
func (r *InProcRuntime) worker() error {
	for {
		select {
		case <-r.ctx.Done():
			return nil
		case item := <-r.ready:
			r.run(item)
		}
	}
}

// run executes one attempt of a unit.
func (r *InProcRuntime) run(item readyItem) {
	u := item.u

	r.mu.Lock()
	if u.generation != item.gen || u.state != StatePending {
		// Superseded or already picked up.
		r.mu.Unlock()
		return
	}

	if u.spec.RequiresNetwork() && r.config.Online != nil && !r.config.Online() {
		// Offline waits do not consume attempts.
		r.scheduleLocked(u, r.config.OfflineRecheck)
		r.mu.Unlock()
		return
	}

	u.state = StateRunning
	u.updatedAt = time.Now()
	attempt := u.attempt
	payload := u.spec.Payload.Clone()
	backoff := u.spec.Backoff
	key := u.spec.UniqueKey
	r.mu.Unlock()

	result := r.executor.Execute(r.ctx, payload, attempt)

	r.mu.Lock()
	defer r.mu.Unlock()

	if u.replacement != nil {
		// Superseded while running; the replacement starts fresh.
		spec := *u.replacement
		u.replacement = nil
		u.generation++
		u.spec = spec
		u.attempt = 0
		u.failure = nil
		u.state = StatePending
		u.updatedAt = time.Now()
		if err := r.pushLocked(u); err != nil {
			r.logger.Error("failed to queue replacement work", "unique_key", key, "error", err)
			u.state = StateFailed
		}
		return
	}

	switch result.Kind {
	case ResultDone:
		u.state = StateDone
		u.updatedAt = time.Now()
		r.logger.Debug("work completed", "unique_key", key, "attempts", attempt+1)
	case ResultRetry:
		u.attempt++
		u.state = StatePending
		u.updatedAt = time.Now()
		delay := NextDelay(backoff, u.attempt)
		r.scheduleLocked(u, delay)
		r.logger.Debug("work retry scheduled", "unique_key", key, "attempt", u.attempt, "delay", delay)
	case ResultFailed:
		u.state = StateFailed
		u.failure = result.Failure
		u.updatedAt = time.Now()
		r.logger.Warn("work failed terminally", "unique_key", key, "attempts", attempt+1, "failure", result.Failure)
	}
}

// Snapshot returns the status of every known unit.
func (r *InProcRuntime) Snapshot() []UnitStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]UnitStatus, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, UnitStatus{
			Handle:    u.handle,
			State:     u.state,
			Attempt:   u.attempt,
			NextRun:   u.nextRun,
			Failure:   u.failure,
			UpdatedAt: u.updatedAt,
		})
	}
	return out
}

// Stats returns unit counts by state.
func (r *InProcRuntime) Stats() map[UnitState]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[UnitState]int)
	for _, u := range r.units {
		stats[u.state]++
	}
	return stats
}
