package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outpostmail/outpost/internal/api"
	"github.com/outpostmail/outpost/internal/message"
	"github.com/outpostmail/outpost/internal/metrics"
	"github.com/outpostmail/outpost/internal/store"
	"github.com/outpostmail/outpost/internal/workqueue"
)

// Enqueuer persists a draft locally and schedules its send. One unit per
// message: re-sending the same draft replaces any still-pending unit, so
// the latest composition wins.
type Enqueuer struct {
	store   store.Store
	runtime workqueue.Runtime
	logger  *slog.Logger
}

func NewEnqueuer(st store.Store, runtime workqueue.Runtime, logger *slog.Logger) *Enqueuer {
	return &Enqueuer{
		store:   st,
		runtime: runtime,
		logger:  logger.With("component", "enqueuer"),
	}
}

// UniqueKeyFor is the work unique key for a message.
func UniqueKeyFor(localID string) string {
	return "send-" + localID
}

// Enqueue saves the draft to the local store (assigning its row id if
// new) and schedules the send. The unit requires network connectivity and
// retries on the default exponential backoff.
func (e *Enqueuer) Enqueue(ctx context.Context, user api.Identity, draft *message.Draft) (workqueue.Handle, error) {
	if err := e.store.SaveDraft(ctx, draft); err != nil {
		return workqueue.Handle{}, fmt.Errorf("failed to persist draft: %w", err)
	}

	params := TaskParams{
		User:                    user,
		MessageDBID:             draft.DBID,
		MessageLocalID:          draft.LocalID,
		AttachmentIDs:           draft.AttachmentIDs,
		ParentID:                draft.ParentID,
		ActionType:              draft.Action,
		PreviousSenderAddressID: draft.SenderAddressID,
		Security:                draft.Security,
	}
	payload, err := params.Encode()
	if err != nil {
		return workqueue.Handle{}, fmt.Errorf("failed to encode send task: %w", err)
	}

	handle, err := e.runtime.EnqueueUnique(ctx, workqueue.WorkSpec{
		UniqueKey:   UniqueKeyFor(draft.LocalID),
		Policy:      workqueue.ReplaceExisting,
		Constraints: []workqueue.Constraint{workqueue.ConstraintNetwork},
		Backoff:     workqueue.DefaultBackoff(),
		Payload:     payload,
	})
	if err != nil {
		return workqueue.Handle{}, fmt.Errorf("failed to enqueue send: %w", err)
	}

	metrics.RecordEnqueued()
	e.logger.Info("send enqueued",
		"user_id", user.UserID,
		"local_id", draft.LocalID,
		"db_id", draft.DBID,
		"unit_id", handle.ID,
	)
	return handle, nil
}
