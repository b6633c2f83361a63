package pairing

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/proxvault/internal/credential"
	"github.com/illarion/proxvault/internal/crypto"
	"github.com/illarion/proxvault/internal/logging"
	"github.com/illarion/proxvault/internal/protocol"
	"github.com/illarion/proxvault/internal/session"
	"github.com/illarion/proxvault/internal/storage"
)

const (
	testUser     = "alice"
	testPassword = "correct horse battery staple"
)

type fixture struct {
	store    *storage.Store
	identity *crypto.KeyPair
	boot     *Bootstrap
	key      []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	record, err := credential.New(store, logging.Nop()).Register(context.Background(), testUser, []byte(testPassword))
	require.NoError(t, err)

	identity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	boot, err := NewBootstrap(testUser, record, identity.Public[:], "127.0.0.1")
	require.NoError(t, err)

	return &fixture{
		store:    store,
		identity: identity,
		boot:     boot,
		key:      crypto.DeriveFileKey([]byte(testPassword), record.Salt),
	}
}

func (f *fixture) devices(t *testing.T) []storage.Device {
	t.Helper()
	record, err := f.store.Get(testUser)
	require.NoError(t, err)
	return record.Devices
}

type serveResult struct {
	device *storage.Device
	err    error
}

// serve runs a registrar on a loopback listener and returns its address.
func (f *fixture) serve(t *testing.T, ctx context.Context, opts ...Option) (string, <-chan serveResult) {
	t.Helper()
	reg, err := NewRegistrar(f.store, f.boot, f.key, opts...)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan serveResult, 1)
	go func() {
		d, err := reg.Serve(ctx, ln)
		done <- serveResult{d, err}
	}()
	return ln.Addr().String(), done
}

// register pairs a new companion through a registrar and returns it.
func (f *fixture) register(t *testing.T, opts ...Option) *Companion {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr, done := f.serve(t, ctx)
	comp, err := NewCompanion("phone", opts...)
	require.NoError(t, err)
	require.NoError(t, comp.Register(ctx, addr, f.boot, []byte(testPassword)))

	res := <-done
	require.NoError(t, res.err)
	return comp
}

func TestPayloadRoundTrip(t *testing.T) {
	f := newFixture(t)

	got, err := ParsePayload(f.boot.Payload())
	require.NoError(t, err)
	assert.Equal(t, f.boot, got)

	_, err = ParsePayload("not a payload")
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestBootstrapNonceIsFresh(t *testing.T) {
	f := newFixture(t)
	record, err := f.store.Get(testUser)
	require.NoError(t, err)

	again, err := NewBootstrap(testUser, record, f.identity.Public[:], "")
	require.NoError(t, err)
	assert.NotEqual(t, f.boot.Nonce, again.Nonce)
	assert.NotEqual(t, f.boot.IV, again.IV)
}

func TestRegisterNonceMismatchLeavesDevicesUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr, done := f.serve(t, ctx)

	stale := *f.boot
	stale.Nonce = make([]byte, NonceSize)
	intruder, err := NewCompanion("old qr")
	require.NoError(t, err)
	require.Error(t, intruder.Register(ctx, addr, &stale, []byte(testPassword)))
	assert.Empty(t, f.devices(t))

	// The listener keeps running after a rejected attempt.
	comp, err := NewCompanion("phone")
	require.NoError(t, err)
	require.NoError(t, comp.Register(ctx, addr, f.boot, []byte(testPassword)))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, comp.ID, res.device.ID)

	devices := f.devices(t)
	require.Len(t, devices, 1)
	assert.Equal(t, comp.ID, devices[0].ID)
	assert.Equal(t, "phone", devices[0].Name)
	assert.Equal(t, comp.PublicKey(), devices[0].PublicKey)
}

func TestRegisterDropsGarbage(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr, done := f.serve(t, ctx)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteFrame(conn, []byte("definitely not ciphertext")))
	_, err = protocol.ReadFrame(conn)
	assert.Error(t, err, "no ack expected")
	conn.Close()

	comp, err := NewCompanion("phone")
	require.NoError(t, err)
	require.NoError(t, comp.Register(ctx, addr, f.boot, []byte(testPassword)))
	require.NoError(t, (<-done).err)
	assert.Len(t, f.devices(t), 1)
}

func TestRegisterWrongPassword(t *testing.T) {
	f := newFixture(t)
	comp, err := NewCompanion("phone")
	require.NoError(t, err)

	err = comp.Register(context.Background(), "127.0.0.1:1", f.boot, []byte("wrong"))
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestRegisterRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr, _ := f.serve(t, ctx, WithRegisterRate(0.001))

	for range 3 {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		require.NoError(t, protocol.WriteFrame(conn, []byte("junk")))
		protocol.ReadFrame(conn)
		conn.Close()
	}

	comp, err := NewCompanion("phone")
	require.NoError(t, err)
	assert.Error(t, comp.Register(ctx, addr, f.boot, []byte(testPassword)))
	assert.Empty(t, f.devices(t))
}

func TestRegistrarTimeout(t *testing.T) {
	f := newFixture(t)
	_, done := f.serve(t, context.Background(), WithTimeout(50*time.Millisecond))

	select {
	case res := <-done:
		assert.ErrorIs(t, res.err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("registrar did not time out")
	}
}

// companionListener serves sessions for comp on a loopback port.
func companionListener(t *testing.T, ctx context.Context, comp *Companion) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		comp.ServeSession(ctx, conn)
	}()
	return ln.Addr().String()
}

func TestEstablishAdoptsFileKey(t *testing.T) {
	f := newFixture(t)
	comp := f.register(t, WithInterval(20*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	beacon := comp.Beacon(companionListener(t, ctx, comp))
	record, err := f.store.Get(testUser)
	require.NoError(t, err)

	sess := session.New(testUser, []byte(testPassword))
	link, err := Establish(ctx, sess, record, beacon)
	require.NoError(t, err)
	defer link.Close()

	assert.True(t, sess.HasFileKey())
	assert.Len(t, sess.SessionKey(), crypto.KeySize)
	assert.Equal(t, comp.ID, link.DeviceID)

	ts, err := link.ReadHeartbeat()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)
}

func TestEstablishUnknownDevice(t *testing.T) {
	f := newFixture(t)
	record, err := f.store.Get(testUser)
	require.NoError(t, err)

	sess := session.New(testUser, []byte(testPassword))
	beacon := &protocol.Beacon{Addr: "127.0.0.1", DeviceID: "nope", Username: testUser}
	_, err = Establish(context.Background(), sess, record, beacon)
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.False(t, sess.HasFileKey())
}

// fakeDevice answers session offers with a chosen timestamp and file key.
func fakeDevice(t *testing.T, f *fixture, answer func(offer *protocol.SessionOffer) *protocol.SessionAnswer) *protocol.Beacon {
	t.Helper()
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	record, err := f.store.Get(testUser)
	require.NoError(t, err)
	record.AddDevice(storage.Device{ID: "fake", PublicKey: keys.Public[:]})
	require.NoError(t, f.store.Put(testUser, record))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}
		plain, err := keys.Open(frame)
		if err != nil {
			return
		}
		offer, err := protocol.ParseSessionOffer(plain)
		if err != nil {
			return
		}
		enc, err := crypto.NewEncryptor(offer.SessionKey)
		if err != nil {
			return
		}
		reply, _ := enc.Encrypt(answer(offer).Marshal(), nil)
		protocol.WriteFrame(conn, reply)
		protocol.ReadFrame(conn)
	}()

	return &protocol.Beacon{Addr: ln.Addr().String(), DeviceID: "fake", Username: testUser}
}

func TestEstablishRejectsStaleAnswer(t *testing.T) {
	f := newFixture(t)
	beacon := fakeDevice(t, f, func(offer *protocol.SessionOffer) *protocol.SessionAnswer {
		return &protocol.SessionAnswer{Timestamp: offer.Timestamp.Add(-61 * time.Second), FileKey: f.key}
	})
	record, err := f.store.Get(testUser)
	require.NoError(t, err)

	sess := session.New(testUser, []byte(testPassword))
	_, err = Establish(context.Background(), sess, record, beacon)
	assert.ErrorIs(t, err, ErrStaleHandshake)
	assert.False(t, sess.HasFileKey())
	assert.Empty(t, sess.SessionKey())
}

func TestEstablishRejectsSlowAnswer(t *testing.T) {
	f := newFixture(t)
	beacon := fakeDevice(t, f, func(offer *protocol.SessionOffer) *protocol.SessionAnswer {
		return &protocol.SessionAnswer{Timestamp: offer.Timestamp, FileKey: f.key}
	})
	record, err := f.store.Get(testUser)
	require.NoError(t, err)

	// The answer echoes the offer but arrives after the window has passed.
	start := time.Now()
	calls := 0
	clock := func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(61 * time.Second)
	}

	sess := session.New(testUser, []byte(testPassword))
	_, err = Establish(context.Background(), sess, record, beacon, WithClock(clock))
	assert.ErrorIs(t, err, ErrStaleHandshake)
	assert.False(t, sess.HasFileKey())
}

func TestEstablishRejectsForeignFileKey(t *testing.T) {
	f := newFixture(t)
	other := make([]byte, crypto.KeySize)
	beacon := fakeDevice(t, f, func(offer *protocol.SessionOffer) *protocol.SessionAnswer {
		return &protocol.SessionAnswer{Timestamp: offer.Timestamp, FileKey: other}
	})
	record, err := f.store.Get(testUser)
	require.NoError(t, err)

	sess := session.New(testUser, []byte(testPassword))
	_, err = Establish(context.Background(), sess, record, beacon)
	assert.ErrorIs(t, err, ErrFileKeyMismatch)
	assert.False(t, sess.HasFileKey())
}

func TestBeaconDiscovery(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := pc.LocalAddr().String()
	go func() {
		conn, err := net.Dial("udp", addr)
		if err != nil {
			return
		}
		conn.Write([]byte("garbage"))
		conn.Close()
		SendBeacon(ctx, addr, &protocol.Beacon{Addr: "10.0.0.2", DeviceID: "d0", Username: "bob"})
		SendBeacon(ctx, addr, &protocol.Beacon{Addr: "10.0.0.1", DeviceID: "d1", Username: testUser})
	}()

	beacon, err := ListenBeacon(ctx, pc, testUser, nil)
	require.NoError(t, err)
	assert.Equal(t, "d1", beacon.DeviceID)
	assert.Equal(t, "10.0.0.1:1920", beacon.DialAddr(DefaultCompanionPort))
}

func TestListenBeaconCancelled(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ListenBeacon(ctx, pc, testUser, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCompanionExportRestore(t *testing.T) {
	f := newFixture(t)
	comp := f.register(t)

	state, err := comp.Export()
	require.NoError(t, err)

	restored, err := RestoreCompanion(state, WithInterval(20*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, comp.ID, restored.ID)
	assert.Equal(t, testUser, restored.Username())
	assert.Equal(t, comp.PublicKey(), restored.PublicKey())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record, err := f.store.Get(testUser)
	require.NoError(t, err)

	sess := session.New(testUser, []byte(testPassword))
	link, err := Establish(ctx, sess, record, restored.Beacon(companionListener(t, ctx, restored)))
	require.NoError(t, err)
	link.Close()

	unregistered, err := NewCompanion("fresh")
	require.NoError(t, err)
	_, err = unregistered.Export()
	assert.Error(t, err)
}
