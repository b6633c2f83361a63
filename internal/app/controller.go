// Package app owns the authenticated session and routes every way a session
// can end (logout, lost heartbeat, interruption) through one lock-then-clear
// path.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/illarion/proxvault/internal/config"
	"github.com/illarion/proxvault/internal/credential"
	"github.com/illarion/proxvault/internal/crypto"
	"github.com/illarion/proxvault/internal/heartbeat"
	"github.com/illarion/proxvault/internal/keyring"
	"github.com/illarion/proxvault/internal/logging"
	"github.com/illarion/proxvault/internal/netx"
	"github.com/illarion/proxvault/internal/pairing"
	"github.com/illarion/proxvault/internal/protocol"
	"github.com/illarion/proxvault/internal/security"
	"github.com/illarion/proxvault/internal/session"
	"github.com/illarion/proxvault/internal/storage"
	"github.com/illarion/proxvault/internal/vault"
)

var (
	ErrSessionActive    = errors.New("a session is already active")
	ErrAlreadyConnected = errors.New("a device is already connected")
)

// Controller runs at most one authenticated session at a time.
type Controller struct {
	cfg    *config.Config
	store  storage.RecordStore
	creds  *credential.Service
	engine *vault.Engine
	log    logging.Logger

	clock      heartbeat.Clock
	identity   func(username string) (*crypto.KeyPair, error)
	externalIP func() string

	mu        sync.Mutex
	sess      *session.Session
	done      chan struct{}
	link      *pairing.Link
	monitor   *heartbeat.Monitor
	stopWatch context.CancelFunc
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l logging.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithClock sets the clock driving the heartbeat deadline.
func WithClock(clock heartbeat.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithIdentity replaces the keyring lookup of the primary device key.
func WithIdentity(fn func(username string) (*crypto.KeyPair, error)) Option {
	return func(c *Controller) { c.identity = fn }
}

// WithExternalIP replaces the address advertised in pairing payloads.
func WithExternalIP(fn func() string) Option {
	return func(c *Controller) { c.externalIP = fn }
}

// New wires a controller over store.
func New(cfg *config.Config, store storage.RecordStore, opts ...Option) *Controller {
	c := &Controller{
		cfg:        cfg,
		store:      store,
		log:        logging.Nop(),
		clock:      heartbeat.SystemClock(),
		identity:   keyring.LoadOrCreateIdentity,
		externalIP: netx.ExternalIPv4,
	}
	for _, opt := range opts {
		opt(c)
	}

	validator, err := security.New(cfg.Database())
	if err != nil {
		c.log.Warn(context.Background(), "store path not protected", "error", err)
		validator, _ = security.New()
	}
	c.creds = credential.New(store, c.log)
	c.engine = vault.New(store, vault.WithLogger(c.log), vault.WithValidator(validator))
	return c
}

// Register creates a new vault user.
func (c *Controller) Register(ctx context.Context, username string, password []byte) error {
	_, err := c.creds.Register(ctx, username, password)
	return err
}

// Authenticate checks the credentials and starts a session without touching
// the vault.
func (c *Controller) Authenticate(ctx context.Context, username string, password []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return ErrSessionActive
	}

	if _, err := c.creds.Authenticate(ctx, username, password); err != nil {
		return err
	}
	c.sess = session.New(username, password)
	c.done = make(chan struct{})
	c.log.Info(ctx, "session started", "user", username)
	return nil
}

// Login authenticates and unlocks the vault.
func (c *Controller) Login(ctx context.Context, username string, password []byte) (*vault.Result, error) {
	if err := c.Authenticate(ctx, username, password); err != nil {
		return nil, err
	}
	res, err := c.Unlock(ctx)
	if err != nil {
		// The vault is untouched after a failed unlock; drop the session.
		c.mu.Lock()
		c.clearLocked()
		c.mu.Unlock()
		return nil, err
	}
	return res, nil
}

// Unlock decrypts the vault of the active session. A vault found already
// unlocked, as after a crash, is left as is.
func (c *Controller) Unlock(ctx context.Context) (*vault.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unlockLocked(ctx)
}

func (c *Controller) unlockLocked(ctx context.Context) (*vault.Result, error) {
	if c.sess == nil {
		return nil, vault.ErrNoSession
	}
	res, err := c.engine.Unlock(ctx, c.sess)
	if errors.Is(err, vault.ErrAlreadyUnlocked) {
		c.log.Warn(ctx, "vault was already unlocked, keeping plaintext files", "user", c.sess.Username())
		return &vault.Result{}, nil
	}
	return res, err
}

// Logout locks the vault and destroys the session.
func (c *Controller) Logout(ctx context.Context) (*vault.Result, error) {
	return c.endSession(ctx, "logout")
}

// Shutdown is Logout for process exit: it is a no-op without a session.
func (c *Controller) Shutdown(ctx context.Context) error {
	_, err := c.endSession(ctx, "shutdown")
	if errors.Is(err, vault.ErrNoSession) {
		return nil
	}
	return err
}

// endSession is the single exit path of a session: drop the device link,
// lock the vault, clear every secret.
func (c *Controller) endSession(ctx context.Context, reason string) (*vault.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endSessionLocked(ctx, reason)
}

func (c *Controller) endSessionLocked(ctx context.Context, reason string) (*vault.Result, error) {
	if c.sess == nil {
		return nil, vault.ErrNoSession
	}
	username := c.sess.Username()

	c.disconnectLocked()
	res, err := c.engine.Lock(context.WithoutCancel(ctx), c.sess)
	if errors.Is(err, vault.ErrAlreadyLocked) {
		res, err = &vault.Result{}, nil
	}
	c.clearLocked()

	if err != nil {
		c.log.Error(ctx, "session ended but vault lock failed", "user", username, "reason", reason, "error", err)
		return nil, err
	}
	c.log.Info(ctx, "session ended", "user", username, "reason", reason)
	return res, nil
}

func (c *Controller) clearLocked() {
	if c.sess == nil {
		return
	}
	c.sess.Clear()
	c.sess = nil
	close(c.done)
}

func (c *Controller) disconnectLocked() {
	if c.monitor != nil {
		c.monitor.Stop()
		c.monitor = nil
	}
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
	if c.link != nil {
		c.link.Close()
		c.link = nil
	}
}

// Active reports whether a session is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Connected reports whether a paired device link is up.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Done is closed when the most recent session ends. It is nil before the
// first session starts.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Status reports lock state and tracked files of username. No session is
// needed.
func (c *Controller) Status(username string) (vault.State, []string, error) {
	state, err := c.engine.State(username)
	if err != nil {
		return state, nil, err
	}
	files, err := c.engine.Files(username)
	return state, files, err
}

// Track adds path to the session user's vault.
func (c *Controller) Track(ctx context.Context, path string) (bool, error) {
	username, err := c.username()
	if err != nil {
		return false, err
	}
	return c.engine.Track(ctx, username, path)
}

// Untrack removes path from the session user's vault.
func (c *Controller) Untrack(ctx context.Context, path string) (bool, error) {
	username, err := c.username()
	if err != nil {
		return false, err
	}
	return c.engine.Untrack(ctx, username, path)
}

func (c *Controller) username() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return "", vault.ErrNoSession
	}
	return c.sess.Username(), nil
}

// Devices lists the devices paired with username.
func (c *Controller) Devices(username string) ([]storage.Device, error) {
	record, err := c.store.Get(username)
	if err != nil {
		return nil, err
	}
	return record.Devices, nil
}

// RevokeDevice removes a paired device. A live link to it is closed; the
// session itself continues.
func (c *Controller) RevokeDevice(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return vault.ErrNoSession
	}
	username := c.sess.Username()

	record, err := c.store.Get(username)
	if err != nil {
		return err
	}
	if !record.RemoveDevice(id) {
		return fmt.Errorf("%w: %s", pairing.ErrUnknownDevice, id)
	}
	if err := c.store.Put(username, record); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}

	if c.link != nil && c.link.DeviceID == id {
		c.disconnectLocked()
	}
	c.log.Info(ctx, "device revoked", "user", username, "device", id)
	return nil
}

// Pair publishes a bootstrap payload through present and waits for one
// device to register. The vault must be unlocked.
func (c *Controller) Pair(ctx context.Context, present func(payload string, addr net.Addr)) (*storage.Device, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil, vault.ErrNoSession
	}
	username := sess.Username()

	record, err := c.store.Get(username)
	if err != nil {
		return nil, err
	}
	if record.Locked {
		return nil, vault.ErrVaultLocked
	}

	identity, err := c.identity(username)
	if err != nil {
		return nil, fmt.Errorf("failed to load device identity: %w", err)
	}
	defer identity.Destroy()

	boot, err := pairing.NewBootstrap(username, record, identity.Public[:], c.externalIP())
	if err != nil {
		return nil, err
	}
	key, err := sess.CipherKey(record.Salt)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(key)

	reg, err := pairing.NewRegistrar(c.store, boot, key,
		pairing.WithLogger(c.log),
		pairing.WithTimeout(c.cfg.PairTimeout),
		pairing.WithRegisterRate(float64(c.cfg.RegisterRate)),
	)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", c.cfg.RegisterAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for registration: %w", err)
	}
	present(boot.Payload(), ln.Addr())
	return reg.Serve(ctx, ln)
}

// Discover waits for a beacon from one of the session user's devices.
func (c *Controller) Discover(ctx context.Context) (*protocol.Beacon, error) {
	username, err := c.username()
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenPacket("udp", c.cfg.DiscoveryAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for beacons: %w", err)
	}
	defer pc.Close()
	return pairing.ListenBeacon(ctx, pc, username, c.log)
}

// Connect establishes a session with the device announced by beacon,
// unlocks the vault with the device's file key if it is still locked and
// starts heartbeat monitoring. The handshake runs without holding the
// controller, so a concurrent Logout is never blocked by a slow device.
func (c *Controller) Connect(ctx context.Context, beacon *protocol.Beacon) error {
	c.mu.Lock()
	sess, connected := c.sess, c.link != nil
	c.mu.Unlock()
	if sess == nil {
		return vault.ErrNoSession
	}
	if connected {
		return ErrAlreadyConnected
	}

	record, err := c.store.Get(sess.Username())
	if err != nil {
		return err
	}
	link, err := pairing.Establish(ctx, sess, record, beacon,
		pairing.WithLogger(c.log),
		pairing.WithFreshness(c.cfg.FreshnessWindow),
		pairing.WithCompanionPort(c.cfg.CompanionPort),
	)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		// The session ended during the handshake; drop what it adopted.
		link.Close()
		sess.Clear()
		return vault.ErrNoSession
	}
	if c.link != nil {
		link.Close()
		return ErrAlreadyConnected
	}

	state, err := c.engine.State(sess.Username())
	if err != nil {
		link.Close()
		return err
	}
	if state == vault.Locked {
		if _, err := c.unlockLocked(ctx); err != nil {
			link.Close()
			return err
		}
	}

	monitor := heartbeat.NewMonitor(c.cfg.HeartbeatTimeout(), func() { c.proximityLost(sess) }, c.clock)
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.link, c.monitor, c.stopWatch = link, monitor, cancel
	monitor.Start()

	log := c.log.With("device", link.DeviceID)
	go heartbeat.Watch(watchCtx, link, monitor, c.cfg.FreshnessWindow, log)
	return nil
}

// proximityLost ends sess when its heartbeat deadline passes. A callback
// that lost the race against Logout finds another session, or none, and
// leaves it alone.
func (c *Controller) proximityLost(sess *session.Session) {
	ctx := context.Background()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}

	c.log.Warn(ctx, "heartbeat deadline passed, locking vault")
	if _, err := c.endSessionLocked(ctx, "proximity lost"); err != nil {
		c.log.Error(ctx, "proximity lock failed", "error", err)
	}
}
