package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outpostmail/outpost/internal/message"
)

// draftColumns is the canonical column order shared by every SQL backend.
const draftColumns = `id, local_id, server_id, subject, body, attachment_ids,
	to_list, cc_list, bcc_list, action, sender_address_id, parent_id,
	password, password_hint, expires_after_seconds, created_at, updated_at`

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func marshalList(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list column: %w", err)
	}
	return string(b), nil
}

// draftArgs returns the insert/update argument list for a draft, matching
// draftColumns minus the id.
func draftArgs(d *message.Draft, now time.Time) ([]interface{}, error) {
	attachments, err := marshalList(d.AttachmentIDs)
	if err != nil {
		return nil, err
	}
	toList, err := marshalList(d.ToList)
	if err != nil {
		return nil, err
	}
	ccList, err := marshalList(d.CCList)
	if err != nil {
		return nil, err
	}
	bccList, err := marshalList(d.BCCList)
	if err != nil {
		return nil, err
	}

	created := d.CreatedAt
	if created.IsZero() {
		created = now
	}

	return []interface{}{
		d.LocalID, d.ServerID, d.Subject, d.Body, attachments,
		toList, ccList, bccList, string(d.Action), d.SenderAddressID, d.ParentID,
		d.Security.Password, d.Security.PasswordHint, d.Security.ExpiresAfterSeconds,
		created.Unix(), now.Unix(),
	}, nil
}

// scanDraft reads one draft row in draftColumns order.
func scanDraft(row rowScanner) (*message.Draft, error) {
	var d message.Draft
	var serverID, parentID, password, passwordHint sql.NullString
	var attachments, toList, ccList, bccList, action string
	var createdAt, updatedAt int64

	err := row.Scan(
		&d.DBID, &d.LocalID, &serverID, &d.Subject, &d.Body, &attachments,
		&toList, &ccList, &bccList, &action, &d.SenderAddressID, &parentID,
		&password, &passwordHint, &d.Security.ExpiresAfterSeconds,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan draft row: %w", err)
	}

	d.ServerID = serverID.String
	d.ParentID = parentID.String
	d.Security.Password = password.String
	d.Security.PasswordHint = passwordHint.String
	d.Action = message.ParseDraftAction(action)
	d.CreatedAt = time.Unix(createdAt, 0)
	d.UpdatedAt = time.Unix(updatedAt, 0)

	lists := []struct {
		col  string
		dest interface{}
	}{
		{attachments, &d.AttachmentIDs},
		{toList, &d.ToList},
		{ccList, &d.CCList},
		{bccList, &d.BCCList},
	}
	for _, l := range lists {
		if l.col == "" {
			continue
		}
		if err := json.Unmarshal([]byte(l.col), l.dest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal list column: %w", err)
		}
	}

	return &d, nil
}
