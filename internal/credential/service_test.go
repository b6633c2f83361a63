package credential

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/proxvault/internal/crypto"
	"github.com/illarion/proxvault/internal/storage"
)

func newService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil), db
}

func TestRegisterThenAuthenticate(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	record, err := svc.Register(ctx, "alice", []byte("hunter2"))
	require.NoError(t, err)
	assert.Len(t, record.Salt, crypto.SaltSize)
	assert.Len(t, record.IV, crypto.IVSize)
	assert.True(t, record.Locked)
	assert.Empty(t, record.Files)
	assert.Empty(t, record.Devices)

	stored, err := db.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, crypto.DeriveVerifier([]byte("hunter2"), stored.Salt), stored.PasswordVerifier)
	assert.NotContains(t, string(stored.PasswordVerifier), "hunter2")

	_, err = svc.Authenticate(ctx, "alice", []byte("hunter2"))
	assert.NoError(t, err)

	for _, wrong := range []string{"hunter3", "", "Hunter2", "hunter2 "} {
		_, err = svc.Authenticate(ctx, "alice", []byte(wrong))
		assert.ErrorIs(t, err, ErrInvalidCredential, "password %q", wrong)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob", []byte("pw"))
	require.NoError(t, err)

	_, err = svc.Register(ctx, "bob", []byte("other"))
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Authenticate(context.Background(), "nobody", []byte("pw"))
	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, ErrInvalidCredential.Error(), err.Error())
}

func TestSaltsAreUniquePerUser(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Register(ctx, "a", []byte("same"))
	require.NoError(t, err)
	b, err := svc.Register(ctx, "b", []byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.PasswordVerifier, b.PasswordVerifier)
}

func TestRegisterValidatesInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "", []byte("pw"))
	assert.ErrorIs(t, err, ErrInvalidUsername)

	_, err = svc.Register(ctx, "two words", []byte("pw"))
	assert.ErrorIs(t, err, ErrInvalidUsername)

	_, err = svc.Register(ctx, "carol", nil)
	assert.ErrorIs(t, err, ErrEmptyPassword)
}
