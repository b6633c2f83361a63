package vault

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/illarion/proxvault/internal/crypto"
	"github.com/illarion/proxvault/internal/logging"
	"github.com/illarion/proxvault/internal/security"
	"github.com/illarion/proxvault/internal/session"
	"github.com/illarion/proxvault/internal/storage"
)

var (
	ErrAlreadyLocked   = errors.New("vault is already locked")
	ErrAlreadyUnlocked = errors.New("vault is already unlocked")
	ErrVaultLocked     = errors.New("vault is locked")
	ErrDecryptFailure  = errors.New("failed to decrypt tracked file")
	ErrNoSession       = errors.New("no active session")
)

// State is the lock state of a user's vault.
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	if s == Locked {
		return "locked"
	}
	return "unlocked"
}

// Result summarises one Lock or Unlock run.
type Result struct {
	Processed []string // files rewritten
	Removed   []string // tracked files that had vanished and were untracked
}

// Engine encrypts and decrypts the tracked file set of a user.
type Engine struct {
	store     storage.RecordStore
	validator *security.PathValidator
	log       logging.Logger
	workers   int
	rename    func(oldpath, newpath string) error

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithValidator sets the validator applied to tracked paths.
func WithValidator(v *security.PathValidator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithWorkers bounds how many files are ciphered in parallel.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New creates an engine over store.
func New(store storage.RecordStore, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		log:     logging.Nop(),
		workers: runtime.GOMAXPROCS(0),
		rename:  os.Rename,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.validator == nil {
		e.validator, _ = security.New()
	}
	return e
}

// State returns the lock state recorded for username.
func (e *Engine) State(username string) (State, error) {
	record, err := e.store.Get(username)
	if err != nil {
		return Locked, err
	}
	if record.Locked {
		return Locked, nil
	}
	return Unlocked, nil
}

// Files returns the tracked paths of username in insertion order.
func (e *Engine) Files(username string) ([]string, error) {
	record, err := e.store.Get(username)
	if err != nil {
		return nil, err
	}
	return record.Files, nil
}

// Track places path under vault protection. The vault must be unlocked so
// that the file joins the plaintext set. Tracking an already tracked path
// reports false and changes nothing.
func (e *Engine) Track(ctx context.Context, username, path string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	validPath, err := e.validator.ValidateAndNormalize(path)
	if err != nil {
		return false, err
	}

	record, err := e.store.Get(username)
	if err != nil {
		return false, err
	}
	if record.Locked {
		return false, ErrVaultLocked
	}
	if !record.AddFile(validPath) {
		return false, nil
	}
	if err := e.store.Put(username, record); err != nil {
		return false, fmt.Errorf("failed to store record: %w", err)
	}

	e.log.Info(ctx, "file tracked", "user", username, "path", validPath)
	return true, nil
}

// Untrack removes path from vault protection, leaving the plaintext file in
// place. Untracking from a locked vault is refused because the file would
// stay ciphered with no record of its key.
func (e *Engine) Untrack(ctx context.Context, username, path string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("failed to get absolute path: %w", err)
	}

	record, err := e.store.Get(username)
	if err != nil {
		return false, err
	}
	if record.Locked {
		return false, ErrVaultLocked
	}
	if !record.RemoveFile(filepath.Clean(absPath)) {
		return false, nil
	}
	if err := e.store.Put(username, record); err != nil {
		return false, fmt.Errorf("failed to store record: %w", err)
	}

	e.log.Info(ctx, "file untracked", "user", username, "path", absPath)
	return true, nil
}

// Lock encrypts every tracked file of the session's user.
func (e *Engine) Lock(ctx context.Context, sess *session.Session) (*Result, error) {
	return e.run(ctx, sess, true)
}

// Unlock decrypts every tracked file of the session's user.
func (e *Engine) Unlock(ctx context.Context, sess *session.Session) (*Result, error) {
	return e.run(ctx, sess, false)
}

func (e *Engine) run(ctx context.Context, sess *session.Session, lock bool) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sess == nil || sess.Username() == "" {
		return nil, ErrNoSession
	}
	username := sess.Username()

	record, err := e.store.Get(username)
	if err != nil {
		return nil, err
	}

	key, err := sess.CipherKey(record.Salt)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(key)

	if record.Pending != nil {
		res, err := e.resume(ctx, username, record, key)
		if err != nil {
			return nil, err
		}
		if record.Locked == lock {
			return res, nil
		}
	}

	switch {
	case lock && record.Locked:
		return nil, ErrAlreadyLocked
	case !lock && !record.Locked:
		return nil, ErrAlreadyUnlocked
	}

	// The rotated IV and the pending marker must be durable before any
	// file is rewritten.
	if lock {
		iv, err := crypto.NewIV()
		if err != nil {
			return nil, err
		}
		record.IV = iv
	}
	iv := slices.Clone(record.IV)
	check, err := keyCheck(key, iv)
	if err != nil {
		return nil, err
	}
	record.Pending = &storage.Transition{Locked: lock, IV: iv, Check: check, Started: time.Now()}
	record.Modified = time.Now()
	if err := e.store.Put(username, record); err != nil {
		return nil, fmt.Errorf("failed to store pending %s: %w", stateOf(lock), err)
	}

	result := &Result{}
	present, err := e.heal(ctx, username, record, result)
	if err != nil {
		e.clearPending(ctx, username, record)
		return nil, err
	}

	temps := make([]string, len(present))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, path := range present {
		g.Go(func() error {
			tmp, err := cipherToTemp(gctx, path, key, iv, lock)
			temps[i] = tmp
			return err
		})
	}
	if err := g.Wait(); err != nil {
		removeTemps(temps)
		e.clearPending(ctx, username, record)
		e.log.Error(ctx, "vault operation aborted", "user", username, "lock", lock, "error", err)
		return nil, err
	}

	for i, path := range present {
		if err := e.rename(temps[i], path); err != nil {
			removeTemps(temps[i:])
			err = fmt.Errorf("failed to replace %s: %w", path, err)
			e.rollback(ctx, username, record, present[:i], key, iv, lock)
			return nil, err
		}
		result.Processed = append(result.Processed, path)
	}

	record.Locked = lock
	record.Pending = nil
	record.Modified = time.Now()
	if err := e.store.Put(username, record); err != nil {
		// The marker stays in the store; the next run completes the transition.
		return nil, fmt.Errorf("failed to store vault state: %w", err)
	}

	e.log.Info(ctx, "vault "+stateOf(lock).String(), "user", username,
		"files", len(result.Processed), "untracked", len(result.Removed))
	return result, nil
}

// rollback returns the files already replaced to their previous form. The
// pending marker is cleared only when every one of them was restored.
func (e *Engine) rollback(ctx context.Context, username string, record *storage.UserRecord, replaced []string, key, iv []byte, lock bool) {
	ctx = context.WithoutCancel(ctx)
	restored, err := e.converge(ctx, replaced, key, iv, !lock)
	if err != nil {
		e.log.Error(ctx, "rollback failed, vault left pending", "user", username,
			"restored", len(restored), "replaced", len(replaced), "error", err)
		return
	}
	e.log.Warn(ctx, "replace failed, files restored", "user", username, "restored", len(restored))
	e.clearPending(ctx, username, record)
}

func (e *Engine) clearPending(ctx context.Context, username string, record *storage.UserRecord) {
	record.Pending = nil
	record.Modified = time.Now()
	if err := e.store.Put(username, record); err != nil {
		e.log.Error(ctx, "failed to clear pending marker", "user", username, "error", err)
	}
}

// resume completes a transition that was interrupted after some files were
// rewritten. Each file is probed and brought to the target form, so files
// already converted are never ciphered twice.
func (e *Engine) resume(ctx context.Context, username string, record *storage.UserRecord, key []byte) (*Result, error) {
	p := record.Pending
	if err := verifyKeyCheck(key, p.IV, p.Check); err != nil {
		return nil, err
	}
	e.log.Warn(ctx, "completing interrupted vault operation", "user", username,
		"target", stateOf(p.Locked).String(), "started", p.Started)

	result := &Result{}
	present, err := e.heal(ctx, username, record, result)
	if err != nil {
		return nil, err
	}
	result.Processed, err = e.converge(ctx, present, key, p.IV, p.Locked)
	if err != nil {
		return nil, err
	}

	record.IV = slices.Clone(p.IV)
	record.Locked = p.Locked
	record.Pending = nil
	record.Modified = time.Now()
	if err := e.store.Put(username, record); err != nil {
		return nil, fmt.Errorf("failed to store vault state: %w", err)
	}
	return result, nil
}

// converge rewrites, one at a time, every path not yet in the target form
// and returns the rewritten paths.
func (e *Engine) converge(ctx context.Context, paths []string, key, iv []byte, encrypt bool) ([]string, error) {
	var done []string
	for _, path := range paths {
		ciphered, err := isCiphered(path, key, iv)
		if err != nil {
			return done, err
		}
		if ciphered == encrypt {
			continue
		}
		tmp, err := cipherToTemp(ctx, path, key, iv, encrypt)
		if err != nil {
			return done, err
		}
		if err := e.rename(tmp, path); err != nil {
			os.Remove(tmp)
			return done, fmt.Errorf("failed to replace %s: %w", path, err)
		}
		done = append(done, path)
	}
	return done, nil
}

// isCiphered reports whether path authenticates as a stream under key and
// iv. Plaintext never does.
func isCiphered(path string, key, iv []byte) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	err = crypto.DecryptStream(io.Discard, f, key, iv, path)
	if err == nil {
		return true, nil
	}
	if isCipherError(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to read %s: %w", path, err)
}

const checkLabel = "proxvault/pending-check"

func keyCheck(key, iv []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := crypto.EncryptStream(&buf, bytes.NewReader(nil), key, iv, checkLabel); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// verifyKeyCheck refuses to resume under a key other than the one the
// interrupted run used.
func verifyKeyCheck(key, iv, check []byte) error {
	if err := crypto.DecryptStream(io.Discard, bytes.NewReader(check), key, iv, checkLabel); err != nil {
		return fmt.Errorf("%w: key does not match the interrupted operation", ErrDecryptFailure)
	}
	return nil
}

// heal drops tracked files that no longer exist, persisting the record once
// per dropped path, and returns the paths still present.
func (e *Engine) heal(ctx context.Context, username string, record *storage.UserRecord, result *Result) ([]string, error) {
	var present []string
	for _, path := range slices.Clone(record.Files) {
		if _, err := e.validator.ValidateExistingPath(path); err != nil {
			return nil, fmt.Errorf("corrupt record for %s: %w", username, err)
		}

		_, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			record.RemoveFile(path)
			if err := e.store.Put(username, record); err != nil {
				return nil, fmt.Errorf("failed to store record: %w", err)
			}
			result.Removed = append(result.Removed, path)
			e.log.Warn(ctx, "tracked file vanished, untracking", "user", username, "path", path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", path, err)
		}
		present = append(present, path)
	}
	return present, nil
}

// cipherToTemp writes the transformed content of path into a sibling temp
// file and returns its name. On failure no temp file is left behind.
func cipherToTemp(ctx context.Context, path string, key, iv []byte, encrypt bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*"+security.TempSuffix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	fail := func(err error) (string, error) {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}

	w := bufio.NewWriter(tmp)
	r := &ctxReader{ctx: ctx, r: src}
	if encrypt {
		err = crypto.EncryptStream(w, r, key, iv, path)
	} else {
		err = crypto.DecryptStream(w, r, key, iv, path)
	}
	if err != nil {
		if isCipherError(err) {
			return fail(fmt.Errorf("%w: %s: %w", ErrDecryptFailure, path, err))
		}
		return fail(fmt.Errorf("failed to cipher %s: %w", path, err))
	}

	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("failed to write %s: %w", tmp.Name(), err))
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return fail(fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync %s: %w", tmp.Name(), err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	return tmp.Name(), nil
}

func isCipherError(err error) bool {
	return errors.Is(err, crypto.ErrAuthFailed) ||
		errors.Is(err, crypto.ErrTruncated) ||
		errors.Is(err, crypto.ErrInvalidCiphertext)
}

func removeTemps(temps []string) {
	for _, t := range temps {
		if t != "" {
			os.Remove(t)
		}
	}
}

func stateOf(locked bool) State {
	if locked {
		return Locked
	}
	return Unlocked
}

// ctxReader stops a long stream as soon as ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
