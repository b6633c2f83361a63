// Package credential binds a user's password to a stored verifier and
// validates login attempts.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/illarion/proxvault/internal/crypto"
	"github.com/illarion/proxvault/internal/logging"
	"github.com/illarion/proxvault/internal/storage"
)

var (
	ErrDuplicateUser     = errors.New("user already exists")
	ErrUnknownUser       = errors.New("unknown user")
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrInvalidUsername   = errors.New("username must be non-empty and contain no whitespace")
	ErrEmptyPassword     = errors.New("password must not be empty")
)

// maxSaltAttempts bounds the retries when a fresh salt collides with one
// already in the store.
const maxSaltAttempts = 8

// saltChecker is implemented by stores that can enforce salt uniqueness.
type saltChecker interface {
	SaltInUse(salt []byte) (bool, error)
}

// Service registers and authenticates vault users.
type Service struct {
	store storage.RecordStore
	log   logging.Logger
}

// New creates a credential service over store.
func New(store storage.RecordStore, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{store: store, log: log}
}

// Register creates and persists a locked record for username.
func (s *Service) Register(ctx context.Context, username string, password []byte) (*storage.UserRecord, error) {
	if err := validate(username, password); err != nil {
		return nil, err
	}

	exists, err := s.store.Exists(username)
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if exists {
		return nil, ErrDuplicateUser
	}

	salt, err := s.uniqueSalt()
	if err != nil {
		return nil, err
	}
	iv, err := crypto.NewIV()
	if err != nil {
		return nil, err
	}

	record := storage.NewUserRecord(crypto.DeriveVerifier(password, salt), salt, iv)
	if err := s.store.Put(username, record); err != nil {
		return nil, fmt.Errorf("failed to store user: %w", err)
	}

	s.log.Info(ctx, "user registered", "user", username)
	return record, nil
}

// Authenticate checks password against the stored verifier. Unknown users
// fail with ErrUnknownUser, wrong passwords with ErrInvalidCredential; both
// match ErrInvalidCredential under errors.Is so callers need not tell them
// apart.
func (s *Service) Authenticate(ctx context.Context, username string, password []byte) (*storage.UserRecord, error) {
	record, err := s.store.Get(username)
	if errors.Is(err, storage.ErrUserNotFound) {
		s.log.Warn(ctx, "login for unknown user", "user", username)
		return nil, unknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	verifier := crypto.DeriveVerifier(password, record.Salt)
	defer crypto.ClearBytes(verifier)
	if !crypto.ConstantTimeCompare(verifier, record.PasswordVerifier) {
		s.log.Warn(ctx, "wrong password", "user", username)
		return nil, ErrInvalidCredential
	}

	s.log.Debug(ctx, "user authenticated", "user", username)
	return record, nil
}

func (s *Service) uniqueSalt() ([]byte, error) {
	checker, ok := s.store.(saltChecker)
	for range maxSaltAttempts {
		salt, err := crypto.NewSalt()
		if err != nil {
			return nil, err
		}
		if !ok {
			return salt, nil
		}
		used, err := checker.SaltInUse(salt)
		if err != nil {
			return nil, fmt.Errorf("failed to check salt: %w", err)
		}
		if !used {
			return salt, nil
		}
	}
	return nil, errors.New("failed to generate a unique salt")
}

func validate(username string, password []byte) error {
	if strings.TrimSpace(username) == "" || strings.ContainsAny(username, " \t\r\n") {
		return ErrInvalidUsername
	}
	if len(password) == 0 {
		return ErrEmptyPassword
	}
	return nil
}

// unknownUser matches both ErrUnknownUser and ErrInvalidCredential.
var unknownUser = &authError{cause: ErrUnknownUser}

type authError struct {
	cause error
}

func (e *authError) Error() string { return ErrInvalidCredential.Error() }

func (e *authError) Is(target error) bool {
	return target == ErrUnknownUser || target == ErrInvalidCredential
}

func (e *authError) Unwrap() error { return e.cause }
