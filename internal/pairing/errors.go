package pairing

import "errors"

var (
	ErrUnknownDevice     = errors.New("unknown device")
	ErrStaleHandshake    = errors.New("stale handshake")
	ErrDecryptFailure    = errors.New("malformed or tampered message")
	ErrNonceMismatch     = errors.New("nonce mismatch")
	ErrDeviceExists      = errors.New("device already registered")
	ErrRateLimited       = errors.New("too many registration attempts")
	ErrWrongPassword     = errors.New("password does not match pairing payload")
	ErrFileKeyMismatch   = errors.New("device file key does not match vault key")
	ErrMalformedPayload  = errors.New("malformed pairing payload")
	ErrRegistrarFinished = errors.New("registrar already served")
)
