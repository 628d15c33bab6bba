package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"
)

func TestNewSessionKey(t *testing.T) {
	key, err := NewSessionKey()
	require.NoError(t, err)
	assert.Len(t, key, SessionKeySize)

	other, err := NewSessionKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other, "session keys must be unique")
}

func TestPackageBodyRoundTrip(t *testing.T) {
	c := NewBoxCryptographer()

	key, err := c.NewSessionKey()
	require.NoError(t, err)

	body := []byte("the quick brown fox")
	sealed, err := c.EncryptPackageBody(body, key)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), string(body))

	plain, err := c.DecryptPackageBody(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, body, plain)

	t.Run("WrongKey", func(t *testing.T) {
		wrong, err := c.NewSessionKey()
		require.NoError(t, err)

		_, err = c.DecryptPackageBody(sealed, wrong)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("ShortKey", func(t *testing.T) {
		_, err := c.EncryptPackageBody(body, []byte("short"))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestEncryptSessionKey(t *testing.T) {
	c := NewBoxCryptographer()

	recipientPub, recipientPriv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)

	key, err := c.NewSessionKey()
	require.NoError(t, err)

	sealed, err := c.EncryptSessionKey(key, recipientPub[:])
	require.NoError(t, err)

	opened, ok := box.OpenAnonymous(nil, sealed, recipientPub, recipientPriv)
	require.True(t, ok, "recipient must be able to open the sealed session key")
	assert.Equal(t, key, opened)

	t.Run("BadPublicKey", func(t *testing.T) {
		_, err := c.EncryptSessionKey(key, []byte{0x01})
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestPasswordSessionKeyRoundTrip(t *testing.T) {
	c := NewBoxCryptographer()

	key, err := c.NewSessionKey()
	require.NoError(t, err)

	sealed, err := c.EncryptSessionKeyWithPassword(key, "correct horse battery staple")
	require.NoError(t, err)

	plain, err := c.DecryptSessionKeyWithPassword(sealed, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, key, plain)

	t.Run("WrongPassword", func(t *testing.T) {
		_, err := c.DecryptSessionKeyWithPassword(sealed, "wrong")
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("EmptyPassword", func(t *testing.T) {
		_, err := c.EncryptSessionKeyWithPassword(key, "")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}
