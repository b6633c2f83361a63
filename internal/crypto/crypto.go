package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
)

const (
	KeySize   = 32 // AES-256 key size
	NonceSize = 12 // GCM nonce size
	TagSize   = 16 // GCM authentication tag size
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrInvalidKey        = errors.New("invalid key size")
)

// Encryptor seals short wire messages with AES-256-GCM.
// Every message carries its own random nonce as a prefix.
type Encryptor struct {
	aead cipher.AEAD
	key  []byte
}

// NewEncryptor creates an encryptor over a copy of key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	k := append([]byte(nil), key...)
	aead, err := newGCM(k)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead, key: k}, nil
}

// Encrypt encrypts plaintext, binding the optional associated data.
func (e *Encryptor) Encrypt(plaintext, ad []byte) ([]byte, error) {
	nonce, err := GenerateRandom(NonceSize)
	if err != nil {
		return nil, err
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	copy(out, nonce)
	return e.aead.Seal(out, nonce, plaintext, ad), nil
}

// Decrypt reverses Encrypt. Tampering, a wrong key or mismatched
// associated data all yield ErrAuthFailed.
func (e *Encryptor) Decrypt(ciphertext, ad []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}

	nonce := ciphertext[:NonceSize]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext[NonceSize:], ad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// Destroy clears the encryptor's key from memory
func (e *Encryptor) Destroy() {
	ClearBytes(e.key)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
