// Package crypto defines the encryption capability consumed by the
// outgoing-message pipeline. The pipeline treats encryption as opaque:
// it asks for session keys and encrypted payloads and never inspects the
// algorithm behind them.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// SessionKeySize is the size in bytes of a package session key.
const SessionKeySize = 32

var (
	ErrInvalidKey        = errors.New("invalid key material")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrInvalidCiphertext = errors.New("ciphertext too short or malformed")
)

// Cryptographer is the opaque encryption capability. One session key is
// generated per send package; the body is encrypted once with it, and the
// session key is then encrypted separately for each recipient.
type Cryptographer interface {
	// NewSessionKey generates a fresh symmetric session key.
	NewSessionKey() ([]byte, error)

	// EncryptPackageBody encrypts a package body with the session key.
	EncryptPackageBody(body, sessionKey []byte) ([]byte, error)

	// EncryptSessionKey encrypts the session key to a recipient's public key.
	EncryptSessionKey(sessionKey, recipientPublicKey []byte) ([]byte, error)

	// EncryptSessionKeyWithPassword encrypts the session key under a
	// password-derived key for the password-protected external path.
	EncryptSessionKeyWithPassword(sessionKey []byte, password string) ([]byte, error)
}

// NewSessionKey returns SessionKeySize bytes from the system CSPRNG.
func NewSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return key, nil
}
