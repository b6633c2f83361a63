package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// PublicKeySize is the length of an X25519 public key.
const PublicKeySize = 32

var ErrInvalidPublicKey = errors.New("invalid public key")

// KeyPair is an X25519 key pair used for anonymous sealed boxes.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a fresh X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyPair{Public: *pub, Private: *priv}, nil
}

// KeyPairFromPrivate rebuilds a key pair from its private half.
func KeyPairFromPrivate(priv []byte) (*KeyPair, error) {
	if len(priv) != 32 {
		return nil, ErrInvalidKey
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	kp := &KeyPair{}
	copy(kp.Private[:], priv)
	copy(kp.Public[:], pub)
	return kp, nil
}

// Open decrypts a box sealed to this key pair.
func (k *KeyPair) Open(sealed []byte) ([]byte, error) {
	msg, ok := box.OpenAnonymous(nil, sealed, &k.Public, &k.Private)
	if !ok {
		return nil, ErrAuthFailed
	}
	return msg, nil
}

// Destroy clears the private key.
func (k *KeyPair) Destroy() {
	ClearBytes(k.Private[:])
}

// SealTo encrypts msg so that only the holder of the private key matching
// pub can read it.
func SealTo(pub []byte, msg []byte) ([]byte, error) {
	if len(pub) != PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	var recipient [32]byte
	copy(recipient[:], pub)
	sealed, err := box.SealAnonymous(nil, msg, &recipient, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to seal message: %w", err)
	}
	return sealed, nil
}
