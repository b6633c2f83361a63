// Package keyring keeps long-lived device secrets in the OS keyring.
package keyring

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/illarion/proxvault/internal/crypto"
)

const (
	serviceName      = "proxvault"
	companionService = "proxvault-companion"
)

// ErrNotFound is returned when no secret is stored under the given name.
var ErrNotFound = keyring.ErrNotFound

// LoadOrCreateIdentity returns the primary device key pair for username,
// generating and storing one on first use.
func LoadOrCreateIdentity(username string) (*crypto.KeyPair, error) {
	secret, err := keyring.Get(serviceName, username)
	if err == nil {
		priv, err := hex.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("corrupt identity key in keyring: %w", err)
		}
		defer crypto.ClearBytes(priv)
		return crypto.KeyPairFromPrivate(priv)
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(serviceName, username, hex.EncodeToString(kp.Private[:])); err != nil {
		kp.Destroy()
		return nil, fmt.Errorf("failed to store identity key: %w", err)
	}
	return kp, nil
}

// DeleteIdentity removes the identity key of username.
func DeleteIdentity(username string) error {
	err := keyring.Delete(serviceName, username)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// HasIdentity checks if an identity key is stored for username
func HasIdentity(username string) bool {
	_, err := keyring.Get(serviceName, username)
	return err == nil
}

// SaveCompanion stores the exported state of a companion device.
func SaveCompanion(name string, state []byte) error {
	return keyring.Set(companionService, name, string(state))
}

// LoadCompanion retrieves the state saved by SaveCompanion.
func LoadCompanion(name string) ([]byte, error) {
	state, err := keyring.Get(companionService, name)
	if err != nil {
		return nil, err
	}
	return []byte(state), nil
}

// DeleteCompanion removes a saved companion state.
func DeleteCompanion(name string) error {
	return keyring.Delete(companionService, name)
}
