package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/outpostmail/outpost/internal/api"
	"github.com/outpostmail/outpost/internal/message"
	"github.com/outpostmail/outpost/internal/store"
)

// ErrDraftVanished means the remote upsert succeeded but the draft could
// not be re-fetched from the local store afterwards. The save may have
// raced with a concurrent local delete or a replication delay, so this is
// retryable, unlike a failed upsert.
var ErrDraftVanished = errors.New("draft vanished after save")

// DraftSaver persists a local draft to the remote mailbox, producing the
// canonical server-assigned identifier.
type DraftSaver struct {
	store  store.Store
	client api.Client
	logger *slog.Logger
}

// NewDraftSaver creates a draft saver.
func NewDraftSaver(st store.Store, client api.Client, logger *slog.Logger) *DraftSaver {
	return &DraftSaver{
		store:  st,
		client: client,
		logger: logger.With("component", "draft-saver"),
	}
}

// Save upserts the draft remotely, records the server id locally, and
// re-fetches the draft from the local store by that id. The re-fetch is
// what guarantees later steps observe any server-side mutations the save
// applied; callers must continue with the returned draft, not the input.
//
// A failed upsert is returned as-is and is not retryable. A post-save
// re-fetch miss is returned as ErrDraftVanished and is retryable.
func (s *DraftSaver) Save(ctx context.Context, user api.Identity, draft *message.Draft) (*message.Draft, error) {
	req := api.SaveDraftRequest{
		LocalID:         draft.LocalID,
		Subject:         draft.Subject,
		Body:            draft.Body,
		AttachmentIDs:   draft.AttachmentIDs,
		ParentID:        draft.ParentID,
		Action:          string(draft.Action),
		SenderAddressID: draft.SenderAddressID,
	}

	resp, err := s.client.SaveDraft(ctx, user, req)
	if err != nil {
		return nil, fmt.Errorf("remote draft upsert failed: %w", err)
	}

	s.logger.Debug("draft saved remotely",
		"local_id", draft.LocalID,
		"server_id", resp.ServerID,
	)

	if err := s.store.SetServerID(ctx, draft.DBID, resp.ServerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: local row %d gone", ErrDraftVanished, draft.DBID)
		}
		return nil, fmt.Errorf("failed to record server id locally: %w", err)
	}

	saved, err := s.store.FindByServerID(ctx, resp.ServerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: server id %s", ErrDraftVanished, resp.ServerID)
		}
		return nil, fmt.Errorf("post-save re-fetch failed: %w", err)
	}

	return saved, nil
}
