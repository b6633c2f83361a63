package protocol

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Commands carried in the first field of a stream message.
const (
	CmdRegister  = "REGISTER"
	CmdAck       = "ACK"
	CmdHeartbeat = "HEARTBEAT"
)

// Register is the REGISTER message a companion sends after scanning the
// bootstrap payload.
type Register struct {
	DeviceName string
	DeviceID   string
	PublicKey  []byte
	Nonce      []byte
}

func (m *Register) Marshal() []byte {
	return JoinFields([]byte(CmdRegister), []byte(m.DeviceName), []byte(m.DeviceID), m.PublicKey, m.Nonce)
}

// ParseRegister decodes a REGISTER message.
func ParseRegister(data []byte) (*Register, error) {
	f, err := SplitFields(data, 5)
	if err != nil {
		return nil, err
	}
	if string(f[0]) != CmdRegister {
		return nil, fmt.Errorf("%w: unexpected command %q", ErrMalformed, f[0])
	}
	return &Register{DeviceName: string(f[1]), DeviceID: string(f[2]), PublicKey: f[3], Nonce: f[4]}, nil
}

// Ack acknowledges a REGISTER, echoing its nonce.
type Ack struct {
	Nonce []byte
}

func (m *Ack) Marshal() []byte {
	return JoinFields([]byte(CmdAck), m.Nonce)
}

func ParseAck(data []byte) (*Ack, error) {
	f, err := SplitFields(data, 2)
	if err != nil {
		return nil, err
	}
	if string(f[0]) != CmdAck {
		return nil, fmt.Errorf("%w: unexpected command %q", ErrMalformed, f[0])
	}
	return &Ack{Nonce: f[1]}, nil
}

// SessionOffer is handshake message 1, sealed to the device public key.
type SessionOffer struct {
	Timestamp  time.Time
	SessionKey []byte
	Salt       []byte
}

func (m *SessionOffer) Marshal() []byte {
	return JoinFields(encodeTime(m.Timestamp), m.SessionKey, m.Salt)
}

func ParseSessionOffer(data []byte) (*SessionOffer, error) {
	f, err := SplitFields(data, 3)
	if err != nil {
		return nil, err
	}
	ts, err := decodeTime(f[0])
	if err != nil {
		return nil, err
	}
	return &SessionOffer{Timestamp: ts, SessionKey: f[1], Salt: f[2]}, nil
}

// SessionAnswer is handshake message 2, encrypted under the session key.
type SessionAnswer struct {
	Timestamp time.Time
	FileKey   []byte
}

func (m *SessionAnswer) Marshal() []byte {
	return JoinFields(encodeTime(m.Timestamp), m.FileKey)
}

func ParseSessionAnswer(data []byte) (*SessionAnswer, error) {
	f, err := SplitFields(data, 2)
	if err != nil {
		return nil, err
	}
	ts, err := decodeTime(f[0])
	if err != nil {
		return nil, err
	}
	return &SessionAnswer{Timestamp: ts, FileKey: f[1]}, nil
}

// Heartbeat is the liveness token a paired device sends every interval.
type Heartbeat struct {
	Timestamp time.Time
}

func (m *Heartbeat) Marshal() []byte {
	return JoinFields([]byte(CmdHeartbeat), encodeTime(m.Timestamp))
}

func ParseHeartbeat(data []byte) (*Heartbeat, error) {
	f, err := SplitFields(data, 2)
	if err != nil {
		return nil, err
	}
	if string(f[0]) != CmdHeartbeat {
		return nil, fmt.Errorf("%w: unexpected command %q", ErrMalformed, f[0])
	}
	ts, err := decodeTime(f[1])
	if err != nil {
		return nil, err
	}
	return &Heartbeat{Timestamp: ts}, nil
}

// Beacon is the discovery datagram a companion broadcasts. Addr is the host
// (optionally host:port) the primary should dial.
type Beacon struct {
	Addr     string
	DeviceID string
	Username string
}

func (b *Beacon) Marshal() []byte {
	return []byte(strings.Join([]string{b.Addr, b.DeviceID, b.Username}, Delimiter))
}

func ParseBeacon(data []byte) (*Beacon, error) {
	parts := strings.Fields(string(data))
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: beacon wants 3 fields, got %d", ErrMalformed, len(parts))
	}
	return &Beacon{Addr: parts[0], DeviceID: parts[1], Username: parts[2]}, nil
}

// DialAddr returns the beacon address with defaultPort applied when the
// beacon carries a bare host.
func (b *Beacon) DialAddr(defaultPort int) string {
	if _, _, err := net.SplitHostPort(b.Addr); err == nil {
		return b.Addr
	}
	return net.JoinHostPort(b.Addr, strconv.Itoa(defaultPort))
}

func encodeTime(t time.Time) []byte {
	return []byte(strconv.FormatInt(t.UnixMilli(), 10))
}

func decodeTime(b []byte) (time.Time, error) {
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp: %v", ErrMalformed, err)
	}
	return time.UnixMilli(ms), nil
}
