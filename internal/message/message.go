// Package message defines the draft message model carried through the
// outgoing-message pipeline.
package message

import (
	"time"

	"github.com/google/uuid"
)

// DraftAction describes how the draft was composed.
type DraftAction string

const (
	ActionNew      DraftAction = "new"
	ActionReply    DraftAction = "reply"
	ActionReplyAll DraftAction = "reply_all"
	ActionForward  DraftAction = "forward"
)

// ParseDraftAction converts a serialized action back to its typed form,
// defaulting to ActionNew for unknown values.
func ParseDraftAction(s string) DraftAction {
	switch DraftAction(s) {
	case ActionReply, ActionReplyAll, ActionForward:
		return DraftAction(s)
	default:
		return ActionNew
	}
}

// RecipientAddress is a display name + email address pair.
type RecipientAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// SecurityOptions holds the password-protection settings for external
// recipients. ExpiresAfterSeconds is only meaningful when Password is set.
type SecurityOptions struct {
	Password            string `json:"password,omitempty"`
	PasswordHint        string `json:"password_hint,omitempty"`
	ExpiresAfterSeconds int64  `json:"expires_after_seconds,omitempty"`
}

// HasPassword reports whether the draft requires the password-protected
// external sending path.
func (s SecurityOptions) HasPassword() bool {
	return s.Password != ""
}

// Draft is a composed, not-yet-delivered message. A draft is owned
// exclusively by the pipeline invocation currently processing it and is
// mutated in place as it is persisted remotely.
type Draft struct {
	DBID            int64              `json:"db_id"`
	LocalID         string             `json:"local_id"`
	ServerID        string             `json:"server_id,omitempty"`
	Subject         string             `json:"subject"`
	Body            string             `json:"body"`
	AttachmentIDs   []string           `json:"attachment_ids,omitempty"`
	ToList          []RecipientAddress `json:"to_list"`
	CCList          []RecipientAddress `json:"cc_list,omitempty"`
	BCCList         []RecipientAddress `json:"bcc_list,omitempty"`
	Action          DraftAction        `json:"action"`
	SenderAddressID string             `json:"sender_address_id"`
	ParentID        string             `json:"parent_id,omitempty"`
	Security        SecurityOptions    `json:"security,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// NewDraft creates a draft with a fresh local identifier.
func NewDraft() *Draft {
	now := time.Now()
	return &Draft{
		LocalID:   uuid.New().String(),
		Action:    ActionNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsSaved reports whether the draft has been persisted remotely.
func (d *Draft) IsSaved() bool {
	return d.ServerID != ""
}

// Recipients returns the deduplicated union of the to, cc, and bcc lists.
// Deduplication is by email address, case-sensitive as stored, with empty
// addresses excluded. Order is first-seen across to, then cc, then bcc.
func (d *Draft) Recipients() []string {
	seen := make(map[string]struct{})
	var out []string

	for _, list := range [][]RecipientAddress{d.ToList, d.CCList, d.BCCList} {
		for _, r := range list {
			if r.Address == "" {
				continue
			}
			if _, ok := seen[r.Address]; ok {
				continue
			}
			seen[r.Address] = struct{}{}
			out = append(out, r.Address)
		}
	}

	return out
}
