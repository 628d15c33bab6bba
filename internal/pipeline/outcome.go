// Package pipeline implements the outgoing-message workflow: persist the
// draft remotely, resolve how each recipient must receive the message,
// build the encrypted send packages, and issue the final send call. The
// pipeline runs as one unit of work on a durable runtime and is safe to
// re-run from the start after any interruption.
package pipeline

import (
	"fmt"

	"github.com/outpostmail/outpost/internal/workqueue"
)

// FailureReason is the stable failure name reported to the work runtime.
// These strings are consumed for user-visible error reporting and must not
// change.
type FailureReason string

const (
	FailureMessageNotFound            FailureReason = "MessageNotFound"
	FailureDraftCreationFailed        FailureReason = "DraftCreationFailed"
	FailureFetchSendPreferencesFailed FailureReason = "FetchSendPreferencesFailed"
	FailureMessageSendFailed          FailureReason = "MessageSendFailed"
)

// FailureKey is the payload key carrying the failure reason.
const FailureKey = "pipeline_error"

// MaxRetryAttempts is the retry ceiling shared by every retryable step: an
// attempt index of 5 or below may still request a retry; the 6th and later
// attempts convert to the step's terminal failure.
const MaxRetryAttempts = 5

// CanRetry reports whether the given attempt index is under the ceiling.
func CanRetry(attempt int) bool {
	return attempt <= MaxRetryAttempts
}

// OutcomeKind tags a pipeline outcome.
type OutcomeKind int

const (
	// OutcomeDone means the message was sent.
	OutcomeDone OutcomeKind = iota
	// OutcomeRetry asks the runtime to re-run the pipeline with backoff.
	OutcomeRetry
	// OutcomeFailed is a terminal failure with a stable reason.
	OutcomeFailed
)

// Outcome is the terminal result of one pipeline execution attempt.
// Success carries no payload; a retry request carries only the re-run
// directive; a failure carries the stable reason plus the underlying error
// for logging.
type Outcome struct {
	Kind   OutcomeKind
	Reason FailureReason
	Err    error
}

// Succeeded is the sent outcome.
func Succeeded() Outcome {
	return Outcome{Kind: OutcomeDone}
}

// RetryRequested asks for a later re-run.
func RetryRequested() Outcome {
	return Outcome{Kind: OutcomeRetry}
}

// Aborted is a terminal failure.
func Aborted(reason FailureReason, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Err: err}
}

// String describes the outcome for logging and metrics labels.
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeDone:
		return "done"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return string(o.Reason)
	default:
		return fmt.Sprintf("outcome(%d)", int(o.Kind))
	}
}

// Result converts the outcome to the work runtime's result encoding.
func (o Outcome) Result() workqueue.Result {
	switch o.Kind {
	case OutcomeDone:
		return workqueue.Done()
	case OutcomeRetry:
		return workqueue.RetryLater()
	default:
		return workqueue.Failed(workqueue.Payload{FailureKey: string(o.Reason)})
	}
}
