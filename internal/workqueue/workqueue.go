// Package workqueue defines the durable work-execution facility the
// pipeline is scheduled on. The production deployment binds these
// interfaces to an external durable runtime; this package ships an
// in-process runtime for local runs and tests.
package workqueue

import (
	"context"
	"time"
)

// Constraint gates execution of a work unit on an environmental condition.
type Constraint string

const (
	// ConstraintNetwork requires network connectivity before an attempt runs.
	ConstraintNetwork Constraint = "network"
)

// ExistingWorkPolicy decides what happens when a unit with the same unique
// key is already enqueued.
type ExistingWorkPolicy string

const (
	// ReplaceExisting supersedes any pending unit with the same key.
	ReplaceExisting ExistingWorkPolicy = "replace"
	// KeepExisting leaves the pending unit in place and drops the new one.
	KeepExisting ExistingWorkPolicy = "keep"
)

// BackoffKind selects the retry delay curve.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
)

// BackoffPolicy configures automatic retry delays for a work unit.
type BackoffPolicy struct {
	Kind      BackoffKind
	BaseDelay time.Duration
}

// DefaultBackoff is the pipeline's policy: exponential with a 20 second base.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Kind: BackoffExponential, BaseDelay: 20 * time.Second}
}

// WorkSpec describes one schedulable unit of work.
type WorkSpec struct {
	// UniqueKey identifies the unit; at most one unit per key is pending
	// or running at a time.
	UniqueKey   string
	Policy      ExistingWorkPolicy
	Constraints []Constraint
	Backoff     BackoffPolicy
	Payload     Payload
}

// RequiresNetwork reports whether the spec carries the network constraint.
func (s WorkSpec) RequiresNetwork() bool {
	for _, c := range s.Constraints {
		if c == ConstraintNetwork {
			return true
		}
	}
	return false
}

// Handle identifies an enqueued unit.
type Handle struct {
	ID        string
	UniqueKey string
}

// ResultKind tags the outcome of one execution attempt.
type ResultKind int

const (
	// ResultDone means the unit completed and must not run again.
	ResultDone ResultKind = iota
	// ResultRetry asks the runtime to re-run the unit later with backoff.
	ResultRetry
	// ResultFailed means the unit terminally failed; Failure carries the
	// structured failure payload for the caller.
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultDone:
		return "done"
	case ResultRetry:
		return "retry"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one execution attempt.
type Result struct {
	Kind    ResultKind
	Failure Payload
}

// Done reports successful completion.
func Done() Result {
	return Result{Kind: ResultDone}
}

// RetryLater asks for a re-run with backoff. It carries no failure payload.
func RetryLater() Result {
	return Result{Kind: ResultRetry}
}

// Failed reports terminal failure with a structured payload.
func Failed(failure Payload) Result {
	return Result{Kind: ResultFailed, Failure: failure}
}

// Executor is the work body invoked by the runtime. The attempt count is
// the number of prior executions of the same unit, starting at 0.
type Executor interface {
	Execute(ctx context.Context, payload Payload, attempt int) Result
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, payload Payload, attempt int) Result

func (f ExecutorFunc) Execute(ctx context.Context, payload Payload, attempt int) Result {
	return f(ctx, payload, attempt)
}

// Runtime is the scheduling facility consumed by the enqueuer. The runtime
// guarantees at-most-one concurrently running unit per unique key, and
// at-least-once execution overall; executors must therefore be idempotent.
type Runtime interface {
	EnqueueUnique(ctx context.Context, spec WorkSpec) (Handle, error)
}
