package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/illarion/proxvault/internal/crypto"
	"github.com/illarion/proxvault/internal/protocol"
)

// Companion is the device side of pairing: it answers a bootstrap with
// REGISTER, announces itself with beacons and keeps sessions alive with
// heartbeats.
type Companion struct {
	ID   string
	Name string

	keys     *crypto.KeyPair
	username string
	salt     []byte
	fileKey  []byte
	opts     options
}

// NewCompanion creates a device with a fresh identity.
func NewCompanion(name string, opts ...Option) (*Companion, error) {
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Companion{
		ID:   uuid.NewString(),
		Name: name,
		keys: keys,
		opts: applyOptions(opts),
	}, nil
}

type companionState struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Private  []byte `json:"private"`
	Username string `json:"username"`
	Salt     []byte `json:"salt"`
	FileKey  []byte `json:"fileKey"`
}

// Export serialises the device identity and pairing secrets so a later
// process can resume with RestoreCompanion.
func (c *Companion) Export() ([]byte, error) {
	if len(c.fileKey) == 0 {
		return nil, errors.New("companion is not registered")
	}
	return json.Marshal(companionState{
		ID:       c.ID,
		Name:     c.Name,
		Private:  c.keys.Private[:],
		Username: c.username,
		Salt:     c.salt,
		FileKey:  c.fileKey,
	})
}

// RestoreCompanion rebuilds a device from Export output.
func RestoreCompanion(data []byte, opts ...Option) (*Companion, error) {
	var st companionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("corrupt companion state: %w", err)
	}
	keys, err := crypto.KeyPairFromPrivate(st.Private)
	crypto.ClearBytes(st.Private)
	if err != nil {
		return nil, err
	}
	if st.ID == "" || st.Username == "" || len(st.FileKey) != crypto.KeySize {
		return nil, errors.New("corrupt companion state")
	}
	return &Companion{
		ID:       st.ID,
		Name:     st.Name,
		keys:     keys,
		username: st.Username,
		salt:     st.Salt,
		fileKey:  st.FileKey,
		opts:     applyOptions(opts),
	}, nil
}

// Username returns the vault owner this device is paired with.
func (c *Companion) Username() string {
	return c.username
}

// PublicKey returns the device public key.
func (c *Companion) PublicKey() []byte {
	return append([]byte(nil), c.keys.Public[:]...)
}

// Register answers boot by sending REGISTER to the primary at addr. The
// password typed on the device must match the verifier in the payload; the
// file key it derives is what the device hands back in later sessions.
func (c *Companion) Register(ctx context.Context, addr string, boot *Bootstrap, password []byte) error {
	if !crypto.ConstantTimeCompare(crypto.DeriveVerifier(password, boot.Salt), boot.Verifier) {
		return ErrWrongPassword
	}
	key := crypto.DeriveFileKey(password, boot.Salt)
	enc, err := crypto.NewEncryptor(key)
	if err != nil {
		crypto.ClearBytes(key)
		return err
	}
	defer enc.Destroy()

	msg := &protocol.Register{
		DeviceName: c.Name,
		DeviceID:   c.ID,
		PublicKey:  c.PublicKey(),
		Nonce:      boot.Nonce,
	}
	frame, err := enc.Encrypt(msg.Marshal(), boot.IV)
	if err != nil {
		crypto.ClearBytes(key)
		return err
	}

	if err := c.roundTrip(ctx, addr, frame, boot.Nonce); err != nil {
		crypto.ClearBytes(key)
		return err
	}

	crypto.ClearBytes(c.fileKey)
	c.fileKey = key
	c.username = boot.Username
	c.salt = append([]byte(nil), boot.Salt...)
	c.opts.log.Info(ctx, "registered with primary", "user", boot.Username, "device", c.ID)
	return nil
}

func (c *Companion) roundTrip(ctx context.Context, addr string, frame, nonce []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial primary at %s: %w", addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	if err := protocol.WriteFrame(conn, frame); err != nil {
		return fmt.Errorf("failed to send register message: %w", err)
	}
	reply, err := protocol.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("registration not acknowledged: %w", err)
	}
	plain, err := c.keys.Open(reply)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecryptFailure, err)
	}
	ack, err := protocol.ParseAck(plain)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecryptFailure, err)
	}
	if !crypto.ConstantTimeCompare(ack.Nonce, nonce) {
		return ErrNonceMismatch
	}
	return nil
}

// Beacon returns the announcement for this device, advertising addr.
func (c *Companion) Beacon(addr string) *protocol.Beacon {
	return &protocol.Beacon{Addr: addr, DeviceID: c.ID, Username: c.username}
}

// ServeSession answers the primary's session offer on conn and then sends a
// heartbeat every interval until ctx is done or the connection fails.
func (c *Companion) ServeSession(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	if len(c.fileKey) == 0 {
		return errors.New("companion is not registered")
	}

	conn.SetReadDeadline(time.Now().Add(ioTimeout))
	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("failed to read session offer: %w", err)
	}
	plain, err := c.keys.Open(frame)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecryptFailure, err)
	}
	defer crypto.ClearBytes(plain)
	offer, err := protocol.ParseSessionOffer(plain)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecryptFailure, err)
	}
	if !crypto.ConstantTimeCompare(offer.Salt, c.salt) {
		return fmt.Errorf("%w: offer for another vault", ErrUnknownDevice)
	}
	if !fresh(offer.Timestamp, c.opts.now(), c.opts.freshness) {
		return ErrStaleHandshake
	}

	enc, err := crypto.NewEncryptor(offer.SessionKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecryptFailure, err)
	}
	defer enc.Destroy()

	answer, err := enc.Encrypt((&protocol.SessionAnswer{Timestamp: offer.Timestamp, FileKey: c.fileKey}).Marshal(), nil)
	if err != nil {
		return err
	}
	if err := protocol.WriteFrame(conn, answer); err != nil {
		return fmt.Errorf("failed to send session answer: %w", err)
	}
	c.opts.log.Info(ctx, "session answered", "user", c.username, "device", c.ID)

	ticker := time.NewTicker(c.opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			hb, err := enc.Encrypt((&protocol.Heartbeat{Timestamp: c.opts.now()}).Marshal(), nil)
			if err != nil {
				return err
			}
			conn.SetWriteDeadline(time.Now().Add(ioTimeout))
			if err := protocol.WriteFrame(conn, hb); err != nil {
				return fmt.Errorf("heartbeat failed: %w", err)
			}
		}
	}
}

// Destroy clears the device's secrets.
func (c *Companion) Destroy() {
	c.keys.Destroy()
	crypto.ClearBytes(c.fileKey)
	c.fileKey = nil
}
