package pairing

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/illarion/proxvault/internal/logging"
	"github.com/illarion/proxvault/internal/protocol"
)

const maxBeaconSize = 512

// ListenBeacon waits on pc for a beacon announcing a device of username.
// Malformed datagrams and beacons for other users are ignored.
func ListenBeacon(ctx context.Context, pc net.PacketConn, username string, log logging.Logger) (*protocol.Beacon, error) {
	if log == nil {
		log = logging.Nop()
	}
	stop := context.AfterFunc(ctx, func() { pc.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, maxBeaconSize)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read beacon: %w", err)
		}

		beacon, err := protocol.ParseBeacon(buf[:n])
		if err != nil {
			log.Debug(ctx, "ignoring datagram", "remote", from.String(), "error", err)
			continue
		}
		if beacon.Username != username {
			log.Debug(ctx, "ignoring beacon for other user", "remote", from.String(), "user", beacon.Username)
			continue
		}
		log.Info(ctx, "beacon received", "remote", from.String(), "device", beacon.DeviceID)
		return beacon, nil
	}
}

// SendBeacon sends one beacon datagram to addr.
func SendBeacon(ctx context.Context, addr string, beacon *protocol.Beacon) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(beacon.Marshal()); err != nil {
		return fmt.Errorf("failed to send beacon: %w", err)
	}
	return nil
}
