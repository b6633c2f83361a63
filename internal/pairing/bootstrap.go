package pairing

import (
	"fmt"
	"slices"

	"github.com/illarion/proxvault/internal/crypto"
	"github.com/illarion/proxvault/internal/protocol"
	"github.com/illarion/proxvault/internal/storage"
)

// NonceSize is the length of the bootstrap nonce.
const NonceSize = 16

const payloadFields = 7

// Bootstrap is one pairing invitation. Every field except the nonce and IV
// comes from the user record; nonce and IV are fresh per invitation.
type Bootstrap struct {
	Username   string
	Verifier   []byte
	Salt       []byte
	PublicKey  []byte
	ExternalIP string
	IV         []byte
	Nonce      []byte
}

// NewBootstrap creates an invitation for username's record, advertising the
// primary identity key and its best-effort external address.
func NewBootstrap(username string, record *storage.UserRecord, identityPub []byte, externalIP string) (*Bootstrap, error) {
	nonce, err := crypto.GenerateRandom(NonceSize)
	if err != nil {
		return nil, err
	}
	iv, err := crypto.NewIV()
	if err != nil {
		return nil, err
	}
	return &Bootstrap{
		Username:   username,
		Verifier:   slices.Clone(record.PasswordVerifier),
		Salt:       slices.Clone(record.Salt),
		PublicKey:  slices.Clone(identityPub),
		ExternalIP: externalIP,
		IV:         iv,
		Nonce:      nonce,
	}, nil
}

// Payload renders the invitation as the delimiter-joined string a QR code
// carries.
func (b *Bootstrap) Payload() string {
	return string(protocol.JoinFields(
		[]byte(b.Username),
		b.Verifier,
		b.Salt,
		b.PublicKey,
		[]byte(b.ExternalIP),
		b.IV,
		b.Nonce,
	))
}

// ParsePayload reads an invitation scanned by a companion.
func ParsePayload(payload string) (*Bootstrap, error) {
	f, err := protocol.SplitFields([]byte(payload), payloadFields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	b := &Bootstrap{
		Username:   string(f[0]),
		Verifier:   f[1],
		Salt:       f[2],
		PublicKey:  f[3],
		ExternalIP: string(f[4]),
		IV:         f[5],
		Nonce:      f[6],
	}
	if b.Username == "" || len(b.Salt) == 0 || len(b.Nonce) != NonceSize || len(b.IV) != crypto.IVSize {
		return nil, ErrMalformedPayload
	}
	return b, nil
}
