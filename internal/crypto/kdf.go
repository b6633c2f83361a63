package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize     = 32    // Account salt size in bytes
	IVSize       = 16    // Vault IV size in bytes
	VerifierSize = 32    // Password verifier length
	Iterations   = 10000 // PBKDF2 iterations for both derivations
)

// Derivation contexts. PBKDF2 output blocks do not depend on the requested
// length, so the two derivations are separated by salt prefix instead.
var (
	verifierContext = []byte("proxvault/verifier\x00")
	fileKeyContext  = []byte("proxvault/file-key\x00")
)

// DeriveVerifier computes the stored password verifier.
func DeriveVerifier(password, salt []byte) []byte {
	return pbkdf2.Key(password, contextSalt(verifierContext, salt), Iterations, VerifierSize, sha256.New)
}

// DeriveFileKey computes the symmetric key for the vault file cipher and the
// pairing transport.
func DeriveFileKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, contextSalt(fileKeyContext, salt), Iterations, KeySize, sha256.New)
}

// NewSalt returns a fresh random account salt.
func NewSalt() ([]byte, error) {
	return GenerateRandom(SaltSize)
}

// NewIV returns a fresh random vault IV.
func NewIV() ([]byte, error) {
	return GenerateRandom(IVSize)
}

func contextSalt(context, salt []byte) []byte {
	out := make([]byte, 0, len(context)+len(salt))
	out = append(out, context...)
	return append(out, salt...)
}
