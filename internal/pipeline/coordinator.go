package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/outpostmail/outpost/internal/api"
	"github.com/outpostmail/outpost/internal/message"
	"github.com/outpostmail/outpost/internal/metrics"
	"github.com/outpostmail/outpost/internal/store"
	"github.com/outpostmail/outpost/internal/workqueue"
)

// SendCoordinator drives one attempt of the outgoing-message workflow:
// load the draft, save it remotely, resolve recipient preferences, build
// the send packages, and issue the send call. Every attempt starts from
// the load step; no state survives between attempts except what the store
// and the remote mailbox hold.
type SendCoordinator struct {
	store    store.Store
	client   api.Client
	saver    *DraftSaver
	resolver *Resolver
	builder  *PackageBuilder
	logger   *slog.Logger
}

// NewSendCoordinator wires a coordinator from its collaborators.
func NewSendCoordinator(st store.Store, client api.Client, saver *DraftSaver, resolver *Resolver, builder *PackageBuilder, logger *slog.Logger) *SendCoordinator {
	return &SendCoordinator{
		store:    st,
		client:   client,
		saver:    saver,
		resolver: resolver,
		builder:  builder,
		logger:   logger.With("component", "send-coordinator"),
	}
}

// Execute runs one attempt. attempt is the number of prior executions of
// the same unit, starting at 0.
func (c *SendCoordinator) Execute(ctx context.Context, params TaskParams, attempt int) Outcome {
	done := metrics.ExecutionStarted()
	defer done()

	logger := c.logger.With(
		"user_id", params.User.UserID,
		"local_id", params.MessageLocalID,
		"attempt", attempt,
	)
	logger.Info("send execution started")

	outcome := c.run(ctx, logger, params, attempt)

	metrics.RecordOutcome(outcome.String())
	switch outcome.Kind {
	case OutcomeDone:
		logger.Info("message sent")
	case OutcomeRetry:
		logger.Warn("send attempt failed, retrying", "error", outcome.Err)
	default:
		logger.Error("send aborted", "reason", string(outcome.Reason), "error", outcome.Err)
	}
	return outcome
}

func (c *SendCoordinator) run(ctx context.Context, logger *slog.Logger, params TaskParams, attempt int) Outcome {
	draft, outcome := c.loadDraft(ctx, params)
	if draft == nil {
		return outcome
	}
	applyParams(draft, params)

	saved, outcome := c.saveDraft(ctx, params.User, draft, attempt)
	if saved == nil {
		return outcome
	}
	draft = saved

	// A draft with no recipients still goes out, with zero encryption
	// packages; the resolver is only consulted when there is someone to
	// resolve.
	var packages []*api.SendPackage
	if emails := draft.Recipients(); len(emails) > 0 {
		prefs, outcome := c.resolvePreferences(ctx, params.User, emails, attempt)
		if prefs == nil {
			return outcome
		}

		var err error
		packages, err = c.timedBuild(draft, prefs)
		if err != nil {
			if errors.Is(err, ErrMissingPreference) {
				return Aborted(FailureFetchSendPreferencesFailed, err)
			}
			return Aborted(FailureMessageSendFailed, err)
		}
	}

	return c.send(ctx, logger, params, draft, packages, attempt)
}

// loadDraft returns the draft or, via the outcome, the reason it could
// not be produced. A missing draft is terminal on the first attempt: the
// row will not appear later, so the attempt count is never consulted.
func (c *SendCoordinator) loadDraft(ctx context.Context, params TaskParams) (*message.Draft, Outcome) {
	start := time.Now()
	draft, err := c.store.FindByRowID(ctx, params.MessageDBID)
	metrics.ObserveStep("load_draft", time.Since(start))

	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, Aborted(FailureMessageNotFound, fmt.Errorf("draft row %d: %w", params.MessageDBID, err))
		}
		return nil, Aborted(FailureMessageNotFound, fmt.Errorf("draft load failed: %w", err))
	}
	if draft.LocalID != params.MessageLocalID {
		return nil, Aborted(FailureMessageNotFound,
			fmt.Errorf("draft row %d has local id %s, task expects %s", params.MessageDBID, draft.LocalID, params.MessageLocalID))
	}
	return draft, Outcome{}
}

// applyParams folds the composition-time parameters into the loaded
// draft. The stored row may predate them when the enqueue superseded an
// older unit for the same message.
func applyParams(draft *message.Draft, params TaskParams) {
	if params.AttachmentIDs != nil {
		draft.AttachmentIDs = params.AttachmentIDs
	}
	if params.ParentID != "" {
		draft.ParentID = params.ParentID
	}
	draft.Action = params.ActionType
	draft.Security = params.Security
	if draft.SenderAddressID == "" {
		draft.SenderAddressID = params.PreviousSenderAddressID
	}
}

func (c *SendCoordinator) saveDraft(ctx context.Context, user api.Identity, draft *message.Draft, attempt int) (*message.Draft, Outcome) {
	start := time.Now()
	saved, err := c.saver.Save(ctx, user, draft)
	metrics.ObserveStep("save_draft", time.Since(start))

	if err != nil {
		if errors.Is(err, ErrDraftVanished) {
			if CanRetry(attempt) {
				return nil, RetryRequested()
			}
			return nil, Aborted(FailureMessageNotFound, err)
		}
		return nil, Aborted(FailureDraftCreationFailed, err)
	}
	return saved, Outcome{}
}

func (c *SendCoordinator) resolvePreferences(ctx context.Context, user api.Identity, emails []string, attempt int) (map[string]SendPreference, Outcome) {
	start := time.Now()
	prefs, err := c.resolver.Resolve(ctx, user, emails)
	metrics.ObserveStep("resolve_preferences", time.Since(start))

	if err != nil {
		if CanRetry(attempt) {
			return nil, RetryRequested()
		}
		return nil, Aborted(FailureFetchSendPreferencesFailed, err)
	}
	return prefs, Outcome{}
}

func (c *SendCoordinator) timedBuild(draft *message.Draft, prefs map[string]SendPreference) ([]*api.SendPackage, error) {
	start := time.Now()
	packages, err := c.builder.Build(draft, prefs)
	metrics.ObserveStep("build_packages", time.Since(start))
	return packages, err
}

func (c *SendCoordinator) send(ctx context.Context, logger *slog.Logger, params TaskParams, draft *message.Draft, packages []*api.SendPackage, attempt int) Outcome {
	autoSave := c.autoSaveContacts(ctx, logger, params.User)

	var expires int64
	if draft.Security.HasPassword() {
		expires = draft.Security.ExpiresAfterSeconds
	}
	body := api.SendRequestBody{
		Packages:            packages,
		ExpiresAfterSeconds: expires,
		AutoSaveContacts:    autoSave,
	}

	start := time.Now()
	err := c.client.SendMessage(ctx, params.User, draft.ServerID, body, draft.SenderAddressID)
	metrics.ObserveStep("send_message", time.Since(start))

	if err != nil {
		if api.IsPermanent(err) || !CanRetry(attempt) {
			return Aborted(FailureMessageSendFailed, err)
		}
		return RetryRequested()
	}
	return Succeeded()
}

// autoSaveContacts reads the user's setting best-effort. The send must
// not fail over a settings lookup, so errors fall back to disabled.
func (c *SendCoordinator) autoSaveContacts(ctx context.Context, logger *slog.Logger, user api.Identity) int {
	settings, err := c.client.GetMailSettings(ctx, user)
	if err != nil {
		logger.Warn("mail settings lookup failed, auto-save-contacts disabled", "error", err)
		return 0
	}
	return settings.AutoSaveContacts
}

// Executor adapts the coordinator to the work runtime. Payloads that do
// not decode are a producer bug and fail terminally with a plain error,
// outside the stable failure-reason vocabulary.
type Executor struct {
	coordinator *SendCoordinator
	logger      *slog.Logger
}

var _ workqueue.Executor = (*Executor)(nil)

func NewExecutor(coordinator *SendCoordinator, logger *slog.Logger) *Executor {
	return &Executor{
		coordinator: coordinator,
		logger:      logger.With("component", "send-executor"),
	}
}

// Execute implements workqueue.Executor.
func (e *Executor) Execute(ctx context.Context, payload workqueue.Payload, attempt int) workqueue.Result {
	params, err := DecodeTaskParams(payload)
	if err != nil {
		e.logger.Error("send task payload does not decode", "error", err)
		return workqueue.Failed(workqueue.Payload{"error": err.Error()})
	}
	return e.coordinator.Execute(ctx, params, attempt).Result()
}
