// Package crypto provides cryptographic operations for proxvault.
//
// Key derivation uses PBKDF2-HMAC-SHA256 with:
//   - 32-byte random account salt (stored unencrypted)
//   - 10,000 iterations
//   - separate derivation contexts for the password verifier and the file key
//
// File contents are encrypted as a stream of AES-256-GCM chunks keyed by an
// HKDF subkey of (file key, vault IV, path). Wire messages use AES-256-GCM
// with a random 12-byte nonce prefix. Messages addressed to a paired device
// are anonymous NaCl boxes over X25519.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call Encryptor.Destroy() and KeyPair.Destroy() when done
package crypto
