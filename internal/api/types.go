// Package api provides the client for the remote mail API: draft upsert,
// recipient key lookup, and the final send call.
package api

import (
	"errors"
	"fmt"
)

// Identity is the acting user for a remote call. It is always passed
// explicitly; nothing in this codebase resolves the current user from
// ambient state.
type Identity struct {
	UserID   string
	Username string
}

// Key usage flag bits carried in the recipient key lookup response.
const (
	KeyFlagVerification = 1 << 0
	KeyFlagEncryption   = 1 << 1
)

// PublicKey is one key entry from the recipient key lookup.
type PublicKey struct {
	Flags     int    `json:"flags"`
	PublicKey string `json:"public_key"`
}

// AllowedForSending reports whether the key may be used to encrypt to the
// recipient.
func (k PublicKey) AllowedForSending() bool {
	return k.Flags&KeyFlagEncryption != 0
}

// AllowedForVerification reports whether the key may be used to verify
// signatures from the recipient.
func (k PublicKey) AllowedForVerification() bool {
	return k.Flags&KeyFlagVerification != 0
}

// RecipientKeys is the per-address result of the key lookup.
type RecipientKeys struct {
	// Internal marks an address hosted on the same service, where
	// end-to-end encryption is always available.
	Internal bool        `json:"internal"`
	Keys     []PublicKey `json:"keys"`
	MIMEType string      `json:"mime_type,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

// SendingKey returns the first key usable for encryption, or nil if the
// recipient has none (external recipient).
func (r RecipientKeys) SendingKey() *PublicKey {
	for i := range r.Keys {
		if r.Keys[i].AllowedForSending() {
			return &r.Keys[i]
		}
	}
	return nil
}

// PackageScheme identifies the transport/encryption scheme of a send
// package. Values are a bitmask so a single package covering several
// compatible schemes can advertise all of them.
type PackageScheme int

const (
	SchemeInternal         PackageScheme = 1
	SchemeEncryptedOutside PackageScheme = 2
	SchemeCleartext        PackageScheme = 4
	SchemePGPInline        PackageScheme = 8
	SchemePGPMIME          PackageScheme = 16
)

func (s PackageScheme) String() string {
	switch s {
	case SchemeInternal:
		return "internal"
	case SchemeEncryptedOutside:
		return "encrypted-outside"
	case SchemeCleartext:
		return "cleartext"
	case SchemePGPInline:
		return "pgp-inline"
	case SchemePGPMIME:
		return "pgp-mime"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// MIME types used in send preferences and packages.
const (
	MIMETypePlainText = "text/plain"
	MIMETypeHTML      = "text/html"
	MIMETypePGPMIME   = "multipart/mixed"
)

// PasswordAuth carries the password-protection material for one recipient
// on the encrypted-outside path.
type PasswordAuth struct {
	KeyPacket    []byte `json:"key_packet"`
	PasswordHint string `json:"password_hint,omitempty"`
}

// PackageRecipient is the per-recipient portion of a send package.
type PackageRecipient struct {
	Scheme       PackageScheme `json:"scheme"`
	SessionKey   []byte        `json:"session_key,omitempty"`
	Signed       bool          `json:"signed"`
	PasswordAuth *PasswordAuth `json:"password_auth,omitempty"`
}

// SendPackage is one encrypted payload covering every recipient that shares
// an encryption scheme bucket. Packages are built fresh per pipeline
// execution and never persisted.
type SendPackage struct {
	MIMEType   string                      `json:"mime_type"`
	Scheme     PackageScheme               `json:"scheme"`
	Body       []byte                      `json:"body"`
	Recipients map[string]PackageRecipient `json:"recipients"`

	// BodyKey is the cleartext session key, present only on packages whose
	// recipients receive the message unencrypted (the server needs the key
	// to render the body).
	BodyKey []byte `json:"body_key,omitempty"`
}

// SaveDraftRequest is the upsert body for a draft. The upsert is keyed by
// the message's local ID so replaying a save never creates a second draft.
type SaveDraftRequest struct {
	LocalID         string   `json:"local_id"`
	Subject         string   `json:"subject"`
	Body            string   `json:"body"`
	AttachmentIDs   []string `json:"attachment_ids,omitempty"`
	ParentID        string   `json:"parent_id,omitempty"`
	Action          string   `json:"action"`
	SenderAddressID string   `json:"sender_address_id"`
}

// SaveDraftResponse carries the server-assigned message identifier.
type SaveDraftResponse struct {
	ServerID string `json:"server_id"`
}

// SendRequestBody is the final send call body.
type SendRequestBody struct {
	Packages            []*SendPackage `json:"packages"`
	ExpiresAfterSeconds int64          `json:"expires_after_seconds"`
	AutoSaveContacts    int            `json:"auto_save_contacts"`
}

// MailSettings is the subset of the user's mail settings the pipeline needs.
type MailSettings struct {
	AutoSaveContacts int `json:"auto_save_contacts"`
}

// Error is a structured remote API error.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error: %s (status code %d)", e.Message, e.StatusCode)
}

// IsPermanent reports whether err is a remote rejection that will not
// succeed on retry. Transport-level errors and 5xx/408/429 responses are
// considered transient.
func IsPermanent(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case 408, 429:
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}
