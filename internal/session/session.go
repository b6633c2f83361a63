// Package session holds the secrets of the one authenticated session a
// proxvault process runs at a time.
package session

import (
	"slices"
	"sync"

	"github.com/illarion/proxvault/internal/crypto"
)

// Session is owned by the authenticated-session controller and passed to
// every component that needs key material. Clear destroys it.
type Session struct {
	mu         sync.RWMutex
	username   string
	password   []byte
	sessionKey []byte
	fileKey    []byte
}

// New starts a session for username, taking a copy of password.
func New(username string, password []byte) *Session {
	return &Session{
		username: username,
		password: slices.Clone(password),
	}
}

// Username returns the session owner, or "" once cleared.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Active reports whether the session still holds a password or file key.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username != "" && (len(s.password) > 0 || len(s.fileKey) > 0)
}

// Password returns a copy of the in-memory password.
func (s *Session) Password() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.password)
}

// CipherKey returns the file-cipher key: the device-supplied file key when
// one has been adopted, otherwise the key derived from (password, salt).
// The caller owns the returned slice.
func (s *Session) CipherKey(salt []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.fileKey) > 0 {
		return slices.Clone(s.fileKey), nil
	}
	if len(s.password) == 0 {
		return nil, ErrNoKeyMaterial
	}
	return crypto.DeriveFileKey(s.password, salt), nil
}

// SessionKey returns a copy of the negotiated session key, if any.
func (s *Session) SessionKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sessionKey)
}

// SetSessionKey stores the ephemeral key negotiated with a paired device.
func (s *Session) SetSessionKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	crypto.ClearBytes(s.sessionKey)
	s.sessionKey = slices.Clone(key)
}

// AdoptFileKey makes key the active file-cipher key.
func (s *Session) AdoptFileKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	crypto.ClearBytes(s.fileKey)
	s.fileKey = slices.Clone(key)
}

// HasFileKey reports whether a device-supplied file key is in use.
func (s *Session) HasFileKey() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fileKey) > 0
}

// Clear zeroes every secret. The session is unusable afterwards.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	crypto.ClearBytes(s.password)
	crypto.ClearBytes(s.sessionKey)
	crypto.ClearBytes(s.fileKey)
	s.password = nil
	s.sessionKey = nil
	s.fileKey = nil
	s.username = ""
}
