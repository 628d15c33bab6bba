package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// BoxCryptographer is the reference Cryptographer implementation built on
// NaCl box/secretbox with scrypt password derivation. Recipient public keys
// are 32-byte Curve25519 keys.
type BoxCryptographer struct{}

// Ensure BoxCryptographer implements the Cryptographer interface
var _ Cryptographer = (*BoxCryptographer)(nil)

// scrypt parameters for password-derived keys
const (
	scryptN       = 32768
	scryptR       = 8
	scryptP       = 1
	scryptSaltLen = 16
	nonceLen      = 24
	keyLen        = 32
)

// NewBoxCryptographer creates the reference cryptographer.
func NewBoxCryptographer() *BoxCryptographer {
	return &BoxCryptographer{}
}

// NewSessionKey generates a fresh symmetric session key.
func (c *BoxCryptographer) NewSessionKey() ([]byte, error) {
	return NewSessionKey()
}

// EncryptPackageBody encrypts the body with the session key using secretbox.
// Output layout: nonce || ciphertext.
func (c *BoxCryptographer) EncryptPackageBody(body, sessionKey []byte) ([]byte, error) {
	if len(sessionKey) != keyLen {
		return nil, ErrInvalidKey
	}

	var key [keyLen]byte
	copy(key[:], sessionKey)

	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], body, &nonce, &key), nil
}

// DecryptPackageBody reverses EncryptPackageBody. Used by tests and by the
// local preview path; the pipeline itself never decrypts.
func (c *BoxCryptographer) DecryptPackageBody(ciphertext, sessionKey []byte) ([]byte, error) {
	if len(sessionKey) != keyLen {
		return nil, ErrInvalidKey
	}
	if len(ciphertext) < nonceLen {
		return nil, ErrInvalidCiphertext
	}

	var key [keyLen]byte
	copy(key[:], sessionKey)

	var nonce [nonceLen]byte
	copy(nonce[:], ciphertext[:nonceLen])

	plain, ok := secretbox.Open(nil, ciphertext[nonceLen:], &nonce, &key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

// EncryptSessionKey seals the session key to a recipient Curve25519 public
// key using an anonymous (ephemeral-sender) box.
func (c *BoxCryptographer) EncryptSessionKey(sessionKey, recipientPublicKey []byte) ([]byte, error) {
	if len(recipientPublicKey) != keyLen {
		return nil, ErrInvalidKey
	}

	var pub [keyLen]byte
	copy(pub[:], recipientPublicKey)

	sealed, err := box.SealAnonymous(nil, sessionKey, &pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to seal session key: %w", err)
	}
	return sealed, nil
}

// EncryptSessionKeyWithPassword derives a key from the password with scrypt
// and seals the session key with secretbox.
// Output layout: salt || nonce || ciphertext.
func (c *BoxCryptographer) EncryptSessionKeyWithPassword(sessionKey []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrInvalidKey
	}

	salt := make([]byte, scryptSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	derived, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	var key [keyLen]byte
	copy(key[:], derived)

	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, scryptSaltLen+nonceLen+len(sessionKey)+secretbox.Overhead)
	out = append(out, salt...)
	return secretbox.Seal(append(out, nonce[:]...), sessionKey, &nonce, &key), nil
}

// DecryptSessionKeyWithPassword reverses EncryptSessionKeyWithPassword.
func (c *BoxCryptographer) DecryptSessionKeyWithPassword(sealed []byte, password string) ([]byte, error) {
	if len(sealed) < scryptSaltLen+nonceLen {
		return nil, ErrInvalidCiphertext
	}

	salt := sealed[:scryptSaltLen]
	derived, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	var key [keyLen]byte
	copy(key[:], derived)

	var nonce [nonceLen]byte
	copy(nonce[:], sealed[scryptSaltLen:scryptSaltLen+nonceLen])

	plain, ok := secretbox.Open(nil, sealed[scryptSaltLen+nonceLen:], &nonce, &key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}
