package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/proxvault/internal/crypto"
)

func TestCipherKeyPrefersAdoptedFileKey(t *testing.T) {
	salt := []byte("salt")
	s := New("alice", []byte("pw"))

	derived, err := s.CipherKey(salt)
	require.NoError(t, err)
	assert.Equal(t, crypto.DeriveFileKey([]byte("pw"), salt), derived)

	fileKey := make([]byte, crypto.KeySize)
	fileKey[0] = 42
	s.AdoptFileKey(fileKey)
	assert.True(t, s.HasFileKey())

	got, err := s.CipherKey(salt)
	require.NoError(t, err)
	assert.Equal(t, fileKey, got)
}

func TestPasswordIsCopied(t *testing.T) {
	pw := []byte("pw")
	s := New("alice", pw)
	pw[0] = 'x'
	assert.Equal(t, []byte("pw"), s.Password())

	out := s.Password()
	out[0] = 'y'
	assert.Equal(t, []byte("pw"), s.Password())
}

func TestClear(t *testing.T) {
	s := New("alice", []byte("pw"))
	s.SetSessionKey([]byte("session"))
	s.AdoptFileKey([]byte("file"))
	require.True(t, s.Active())

	s.Clear()

	assert.False(t, s.Active())
	assert.Empty(t, s.Username())
	assert.Empty(t, s.Password())
	assert.Empty(t, s.SessionKey())
	assert.False(t, s.HasFileKey())

	_, err := s.CipherKey([]byte("salt"))
	assert.ErrorIs(t, err, ErrNoKeyMaterial)
}
