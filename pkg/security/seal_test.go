package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttlehq/shuttle/pkg/types"
)

// TestNewSealerKeyValidation tests key and passphrase requirements
func TestNewSealerKeyValidation(t *testing.T) {
	_, err := NewSealer(make([]byte, 16))
	assert.Error(t, err)

	_, err = NewSealer(make([]byte, 32))
	assert.NoError(t, err)

	_, err = NewSealerFromPassphrase("")
	assert.Error(t, err)

	_, err = NewSealerFromPassphrase("correct horse")
	assert.NoError(t, err)
}

// TestSealOpenRoundTrip tests encrypt/decrypt symmetry
func TestSealOpenRoundTrip(t *testing.T) {
	s, err := NewSealerFromPassphrase("test-passphrase")
	require.NoError(t, err)

	plaintext := []byte("sensitive token material")
	sealed, err := s.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	// Each seal uses a fresh nonce.
	sealed2, err := s.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, sealed2)

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	_, err = s.Seal(nil)
	assert.Error(t, err)
	_, err = s.Open(nil)
	assert.Error(t, err)
	_, err = s.Open([]byte("short"))
	assert.Error(t, err)
}

// TestOpenRejectsWrongKey tests that a rotated passphrase cannot read old data
func TestOpenRejectsWrongKey(t *testing.T) {
	a, err := NewSealerFromPassphrase("passphrase-a")
	require.NoError(t, err)
	b, err := NewSealerFromPassphrase("passphrase-b")
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.Error(t, err)
}

// TestOpenRejectsTamperedCiphertext tests GCM authentication
func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	s, err := NewSealerFromPassphrase("test-passphrase")
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("secret"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01

	_, err = s.Open(sealed)
	assert.Error(t, err)
}

// TestCredentialsRoundTrip tests the typed credential wrappers
func TestCredentialsRoundTrip(t *testing.T) {
	s, err := NewSealerFromPassphrase("test-passphrase")
	require.NoError(t, err)

	set := types.CredentialSet{
		Provider: "acme",
		AuthType: types.AuthTypeOAuth,
		Values:   map[string]string{"access_token": "tok-123"},
	}

	sealed, err := s.SealCredentials(set)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "tok-123")

	got, err := s.OpenCredentials(sealed)
	require.NoError(t, err)
	assert.Equal(t, set, got)
}
