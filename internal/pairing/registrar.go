package pairing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/illarion/proxvault/internal/crypto"
	"github.com/illarion/proxvault/internal/protocol"
	"github.com/illarion/proxvault/internal/storage"
)

// Registrar accepts the REGISTER message answering one Bootstrap. The
// bootstrap nonce is single use: Serve returns after the first device is
// registered.
type Registrar struct {
	store    storage.RecordStore
	username string
	boot     *Bootstrap
	enc      *crypto.Encryptor
	limiter  *hostLimiter
	opts     options
	served   atomic.Bool
}

// NewRegistrar prepares a registrar for boot. transportKey is the key
// derived from the user's password and salt; the bootstrap IV is bound to
// every message as associated data.
func NewRegistrar(store storage.RecordStore, boot *Bootstrap, transportKey []byte, opts ...Option) (*Registrar, error) {
	enc, err := crypto.NewEncryptor(transportKey)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return &Registrar{
		store:    store,
		username: boot.Username,
		boot:     boot,
		enc:      enc,
		limiter:  newHostLimiter(o.rate, 3),
		opts:     o,
	}, nil
}

// Serve accepts connections on ln until a device registers, ctx is done or
// the registrar timeout elapses. Rejected attempts are logged and the
// listener keeps accepting. ln is closed on return.
func (r *Registrar) Serve(ctx context.Context, ln net.Listener) (*storage.Device, error) {
	if !r.served.CompareAndSwap(false, true) {
		return nil, ErrRegistrarFinished
	}
	defer r.enc.Destroy()

	if r.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.timeout)
		defer cancel()
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	log := r.opts.log.With("user", r.username)
	log.Info(ctx, "waiting for device registration", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil, err
			}
			log.Warn(ctx, "accept failed", "error", err)
			continue
		}

		remote := remoteHost(conn.RemoteAddr())
		device, err := r.handle(ctx, conn)
		conn.Close()
		if err != nil {
			log.Warn(ctx, "registration rejected", "remote", remote, "error", err)
			continue
		}

		log.Info(ctx, "device registered", "remote", remote, "device", device.ID, "name", device.Name)
		return device, nil
	}
}

func (r *Registrar) handle(ctx context.Context, conn net.Conn) (*storage.Device, error) {
	if !r.limiter.allow(remoteHost(conn.RemoteAddr())) {
		return nil, ErrRateLimited
	}
	conn.SetDeadline(time.Now().Add(ioTimeout))

	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read register message: %w", err)
	}
	plain, err := r.enc.Decrypt(frame, r.boot.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptFailure, err)
	}
	msg, err := protocol.ParseRegister(plain)
	crypto.ClearBytes(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptFailure, err)
	}
	if !crypto.ConstantTimeCompare(msg.Nonce, r.boot.Nonce) {
		return nil, ErrNonceMismatch
	}
	if len(msg.PublicKey) != crypto.PublicKeySize || msg.DeviceID == "" {
		return nil, fmt.Errorf("%w: bad device identity", ErrDecryptFailure)
	}

	// Seal the ack first so a bad key never reaches the record.
	ack, err := crypto.SealTo(msg.PublicKey, (&protocol.Ack{Nonce: msg.Nonce}).Marshal())
	if err != nil {
		return nil, err
	}

	record, err := r.store.Get(r.username)
	if err != nil {
		return nil, err
	}
	device := storage.Device{
		ID:        msg.DeviceID,
		Name:      msg.DeviceName,
		PublicKey: msg.PublicKey,
		Paired:    r.opts.now(),
	}
	if !record.AddDevice(device) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, device.ID)
	}
	if err := r.store.Put(r.username, record); err != nil {
		return nil, fmt.Errorf("failed to store device: %w", err)
	}

	if err := protocol.WriteFrame(conn, ack); err != nil {
		// The device is stored; it can still open a session.
		r.opts.log.Warn(ctx, "failed to send ack", "device", device.ID, "error", err)
	}
	return &device, nil
}
