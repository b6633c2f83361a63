package pairing

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/illarion/proxvault/internal/crypto"
	"github.com/illarion/proxvault/internal/protocol"
	"github.com/illarion/proxvault/internal/session"
	"github.com/illarion/proxvault/internal/storage"
)

// Link is the established connection to a paired device.
type Link struct {
	DeviceID string

	conn      net.Conn
	enc       *crypto.Encryptor
	closeOnce sync.Once
}

// ReadHeartbeat blocks until the next heartbeat and returns its timestamp.
func (l *Link) ReadHeartbeat() (time.Time, error) {
	frame, err := protocol.ReadFrame(l.conn)
	if err != nil {
		return time.Time{}, err
	}
	plain, err := l.enc.Decrypt(frame, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrDecryptFailure, err)
	}
	hb, err := protocol.ParseHeartbeat(plain)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrDecryptFailure, err)
	}
	return hb.Timestamp, nil
}

// Close closes the connection and destroys the session key. It is safe to
// call more than once.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
		l.enc.Destroy()
	})
	return err
}

// Establish opens a session with the device announced by beacon. On
// success the device's file key is adopted into sess and the returned link
// carries heartbeats.
func Establish(ctx context.Context, sess *session.Session, record *storage.UserRecord, beacon *protocol.Beacon, opts ...Option) (*Link, error) {
	o := applyOptions(opts)

	if beacon.Username != sess.Username() {
		return nil, fmt.Errorf("%w: beacon for user %q", ErrUnknownDevice, beacon.Username)
	}
	device := record.FindDevice(beacon.DeviceID)
	if device == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, beacon.DeviceID)
	}

	sessionKey, err := crypto.GenerateRandom(crypto.KeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(sessionKey)
	enc, err := crypto.NewEncryptor(sessionKey)
	if err != nil {
		return nil, err
	}

	sent := o.now()
	offer := &protocol.SessionOffer{Timestamp: sent, SessionKey: sessionKey, Salt: record.Salt}
	sealed, err := crypto.SealTo(device.PublicKey, offer.Marshal())
	if err != nil {
		enc.Destroy()
		return nil, err
	}

	addr := beacon.DialAddr(o.port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		enc.Destroy()
		return nil, fmt.Errorf("failed to dial device at %s: %w", addr, err)
	}
	link := &Link{DeviceID: device.ID, conn: conn, enc: enc}

	fileKey, err := link.exchange(ctx, sealed, sent, o)
	if err != nil {
		link.Close()
		return nil, err
	}
	defer crypto.ClearBytes(fileKey)

	// A wrong key would lock the vault under a key the password cannot derive.
	if want, err := sess.CipherKey(record.Salt); err == nil {
		match := crypto.ConstantTimeCompare(want, fileKey)
		crypto.ClearBytes(want)
		if !match {
			link.Close()
			return nil, ErrFileKeyMismatch
		}
	}

	sess.SetSessionKey(sessionKey)
	sess.AdoptFileKey(fileKey)
	o.log.Info(ctx, "session established", "user", beacon.Username, "device", device.ID, "remote", addr)
	return link, nil
}

func (l *Link) exchange(ctx context.Context, sealed []byte, sent time.Time, o options) ([]byte, error) {
	deadline := time.Now().Add(ioTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	l.conn.SetDeadline(deadline)
	defer l.conn.SetDeadline(time.Time{})

	if err := protocol.WriteFrame(l.conn, sealed); err != nil {
		return nil, fmt.Errorf("failed to send session offer: %w", err)
	}
	frame, err := protocol.ReadFrame(l.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read session answer: %w", err)
	}
	plain, err := l.enc.Decrypt(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptFailure, err)
	}
	defer crypto.ClearBytes(plain)
	answer, err := protocol.ParseSessionAnswer(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptFailure, err)
	}

	if !fresh(answer.Timestamp, o.now(), o.freshness) {
		return nil, fmt.Errorf("%w: answer timestamp %s", ErrStaleHandshake, answer.Timestamp.Format(time.RFC3339))
	}
	if answer.Timestamp.UnixMilli() != sent.UnixMilli() {
		return nil, fmt.Errorf("%w: timestamp not echoed", ErrStaleHandshake)
	}
	if len(answer.FileKey) != crypto.KeySize {
		return nil, fmt.Errorf("%w: bad file key", ErrDecryptFailure)
	}
	return append([]byte(nil), answer.FileKey...), nil
}

// fresh reports whether ts lies within window of now, in either direction.
func fresh(ts, now time.Time, window time.Duration) bool {
	d := now.Sub(ts)
	if d < 0 {
		d = -d
	}
	return d <= window
}
