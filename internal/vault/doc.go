// Package vault implements the cipher engine that keeps a user's tracked
// files encrypted at rest.
//
// Each user's vault is a two-state machine: Locked (files on disk are
// ciphertext) and Unlocked (files are plaintext). Lock rotates the IV and
// persists it before any file is rewritten; Unlock reuses the stored IV.
//
// Every file is ciphered into a sibling temp file first. Only when all temp
// files have been written successfully are they renamed over the originals,
// so a failure on any file leaves the whole vault in its previous state.
// Tracked files that have vanished from disk are dropped from the record.
package vault
