package pairing

import (
	"time"

	"github.com/illarion/proxvault/internal/logging"
)

const (
	DefaultFreshness     = 60 * time.Second
	DefaultCompanionPort = 1920
	DefaultInterval      = 5 * time.Second

	ioTimeout = 10 * time.Second
)

type options struct {
	log       logging.Logger
	now       func() time.Time
	freshness time.Duration
	port      int
	interval  time.Duration
	rate      float64 // registration attempts per minute per host
	timeout   time.Duration
}

func defaultOptions() options {
	return options{
		log:       logging.Nop(),
		now:       time.Now,
		freshness: DefaultFreshness,
		port:      DefaultCompanionPort,
		interval:  DefaultInterval,
		rate:      6,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option tunes registrars, handshakes and companions.
type Option func(*options)

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock replaces time.Now, for handshake timestamps and freshness checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithFreshness sets how far a handshake timestamp may drift from now.
func WithFreshness(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.freshness = d
		}
	}
}

// WithCompanionPort sets the port dialled when a beacon carries a bare host.
func WithCompanionPort(port int) Option {
	return func(o *options) {
		if port > 0 {
			o.port = port
		}
	}
}

// WithInterval sets the companion heartbeat period.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithRegisterRate limits REGISTER attempts per remote host per minute.
func WithRegisterRate(perMinute float64) Option {
	return func(o *options) {
		if perMinute > 0 {
			o.rate = perMinute
		}
	}
}

// WithTimeout bounds how long a registrar waits for a device.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}
