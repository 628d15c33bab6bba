package pipeline

import (
	"errors"
	"fmt"

	"github.com/outpostmail/outpost/internal/api"
	"github.com/outpostmail/outpost/internal/message"
	"github.com/outpostmail/outpost/internal/workqueue"
)

// Payload keys for a send task. These cross the durable enqueue/execute
// boundary and must stay stable across versions.
const (
	keyUserID                  = "user_id"
	keyUsername                = "username"
	keyMessageDBID             = "message_db_id"
	keyMessageLocalID          = "message_local_id"
	keyAttachmentIDs           = "attachment_ids"
	keyParentID                = "parent_id"
	keyActionType              = "action_type"
	keyPreviousSenderAddressID = "previous_sender_address_id"
	keySecurityOptions         = "security_options"
)

// TaskParams is everything a send execution needs beyond what the stored
// draft carries. The draft itself never crosses the boundary; only its
// identifiers do, and the execution re-loads it fresh from the store.
type TaskParams struct {
	User                    api.Identity
	MessageDBID             int64
	MessageLocalID          string
	AttachmentIDs           []string
	ParentID                string
	ActionType              message.DraftAction
	PreviousSenderAddressID string
	Security                message.SecurityOptions
}

// Validate checks the fields the execution cannot proceed without.
func (p TaskParams) Validate() error {
	if p.User.UserID == "" {
		return errors.New("task params missing user id")
	}
	if p.MessageDBID <= 0 {
		return errors.New("task params missing message db id")
	}
	if p.MessageLocalID == "" {
		return errors.New("task params missing message local id")
	}
	return nil
}

// Encode serializes the params into a work payload.
func (p TaskParams) Encode() (workqueue.Payload, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	payload := workqueue.NewPayload()
	payload.SetString(keyUserID, p.User.UserID)
	payload.SetString(keyUsername, p.User.Username)
	payload.SetInt64(keyMessageDBID, p.MessageDBID)
	payload.SetString(keyMessageLocalID, p.MessageLocalID)
	if len(p.AttachmentIDs) > 0 {
		payload.SetStringSlice(keyAttachmentIDs, p.AttachmentIDs)
	}
	if p.ParentID != "" {
		payload.SetString(keyParentID, p.ParentID)
	}
	payload.SetString(keyActionType, string(p.ActionType))
	if p.PreviousSenderAddressID != "" {
		payload.SetString(keyPreviousSenderAddressID, p.PreviousSenderAddressID)
	}
	if err := payload.SetJSON(keySecurityOptions, p.Security); err != nil {
		return nil, err
	}
	return payload, nil
}

// DecodeTaskParams reads the params back out of a work payload. A decode
// failure means the producer enqueued garbage; the caller must fail the
// unit terminally rather than retry it.
func DecodeTaskParams(payload workqueue.Payload) (TaskParams, error) {
	var p TaskParams
	var err error

	if p.User.UserID, err = payload.String(keyUserID); err != nil {
		return TaskParams{}, err
	}
	p.User.Username = payload.StringOr(keyUsername, "")

	if p.MessageDBID, err = payload.Int64(keyMessageDBID); err != nil {
		return TaskParams{}, err
	}
	if p.MessageLocalID, err = payload.String(keyMessageLocalID); err != nil {
		return TaskParams{}, err
	}
	if p.AttachmentIDs, err = payload.StringSlice(keyAttachmentIDs); err != nil {
		return TaskParams{}, err
	}
	p.ParentID = payload.StringOr(keyParentID, "")
	p.ActionType = message.ParseDraftAction(payload.StringOr(keyActionType, ""))
	p.PreviousSenderAddressID = payload.StringOr(keyPreviousSenderAddressID, "")
	if err = payload.JSON(keySecurityOptions, &p.Security); err != nil {
		return TaskParams{}, err
	}

	if err = p.Validate(); err != nil {
		return TaskParams{}, fmt.Errorf("decoded task params invalid: %w", err)
	}
	return p, nil
}
