package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("one")))
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, WriteFrame(&buf, make([]byte, MaxFrameSize+1)), ErrFrameTooLarge)

	oversized := []byte{0xff, 0xff, 0xff, 0xff}
	_, err = ReadFrame(bytes.NewReader(oversized))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFieldsSurviveDelimiter(t *testing.T) {
	data := JoinFields([]byte("has space"), []byte{0, 1, 2}, nil)
	fields, err := SplitFields(data, 3)
	require.NoError(t, err)
	assert.Equal(t, "has space", string(fields[0]))
	assert.Equal(t, []byte{0, 1, 2}, fields[1])
	assert.Empty(t, fields[2])

	_, err = SplitFields(data, 2)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = SplitFields([]byte("!!! ???"), 2)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRegisterMessage(t *testing.T) {
	in := &Register{DeviceName: "Alice's phone", DeviceID: "id-1", PublicKey: []byte{1, 2}, Nonce: []byte{3}}
	out, err := ParseRegister(in.Marshal())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = ParseRegister((&Ack{Nonce: []byte{3}}).Marshal())
	assert.ErrorIs(t, err, ErrMalformed)

	forged := JoinFields([]byte("UNREGISTER"), []byte("n"), []byte("i"), []byte("k"), []byte("x"))
	_, err = ParseRegister(forged)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestTimestampsKeepMillisecondPrecision(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_123)
	offer, err := ParseSessionOffer((&SessionOffer{Timestamp: ts, SessionKey: []byte("k"), Salt: []byte("s")}).Marshal())
	require.NoError(t, err)
	assert.True(t, ts.Equal(offer.Timestamp))

	hb, err := ParseHeartbeat((&Heartbeat{Timestamp: ts}).Marshal())
	require.NoError(t, err)
	assert.True(t, ts.Equal(hb.Timestamp))
}

func TestBeacon(t *testing.T) {
	b, err := ParseBeacon([]byte("192.168.1.7 dev-1 alice"))
	require.NoError(t, err)
	assert.Equal(t, &Beacon{Addr: "192.168.1.7", DeviceID: "dev-1", Username: "alice"}, b)
	assert.Equal(t, "192.168.1.7:1920", b.DialAddr(1920))

	b.Addr = "127.0.0.1:5555"
	assert.Equal(t, "127.0.0.1:5555", b.DialAddr(1920))

	_, err = ParseBeacon([]byte("only two"))
	assert.ErrorIs(t, err, ErrMalformed)
}
