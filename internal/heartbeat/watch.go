package heartbeat

import (
	"context"
	"time"

	"github.com/illarion/proxvault/internal/logging"
)

// Source delivers heartbeat timestamps from a paired device.
type Source interface {
	ReadHeartbeat() (time.Time, error)
}

// Watch feeds heartbeats from src into m until src fails or ctx is done.
//
// The first heartbeat must lie within freshness of the local clock; the
// offset it shows becomes the baseline for the device's clock. Every later
// heartbeat must be strictly newer than the last accepted one and may drift
// from that baseline by at most the monitor timeout. Anything else is
// dropped without signalling, so a replayed or delayed frame never extends
// the deadline. A read error does not expire the monitor; the deadline
// does that.
func Watch(ctx context.Context, src Source, m *Monitor, freshness time.Duration, log logging.Logger) error {
	if log == nil {
		log = logging.Nop()
	}

	var (
		last   time.Time
		offset time.Duration
	)
	for {
		ts, err := src.ReadHeartbeat()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Warn(ctx, "heartbeat stream ended", "error", err)
			return err
		}

		lag := m.clock.Now().Sub(ts)
		if last.IsZero() {
			if abs(lag) > freshness {
				log.Warn(ctx, "stale heartbeat dropped", "skew", lag)
				continue
			}
			offset = lag
		} else {
			if !ts.After(last) {
				log.Warn(ctx, "replayed heartbeat dropped", "timestamp", ts)
				continue
			}
			if drift := abs(lag - offset); drift > m.Timeout() {
				log.Warn(ctx, "delayed heartbeat dropped", "drift", drift)
				continue
			}
		}
		last = ts

		if !m.Signal() {
			return nil
		}
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
