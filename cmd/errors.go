package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/illarion/proxvault/internal/app"
	"github.com/illarion/proxvault/internal/credential"
	"github.com/illarion/proxvault/internal/pairing"
	"github.com/illarion/proxvault/internal/storage"
	"github.com/illarion/proxvault/internal/vault"
)

// HandleError reports err to the operator.
func HandleError(err error) {
	switch {
	case errors.Is(err, credential.ErrInvalidCredential):
		fmt.Fprintf(os.Stderr, "Error: wrong user or password\n")
	case errors.Is(err, credential.ErrDuplicateUser):
		fmt.Fprintf(os.Stderr, "Error: user already exists\n")
		fmt.Fprintf(os.Stderr, "Use 'proxvault status' to see the vault\n")
	case errors.Is(err, storage.ErrUserNotFound):
		fmt.Fprintf(os.Stderr, "Error: no vault for this user\n")
		fmt.Fprintf(os.Stderr, "Run 'proxvault register' first\n")
	case errors.Is(err, storage.ErrStoreBusy):
		fmt.Fprintf(os.Stderr, "Error: the vault is in use by another proxvault process\n")
	case errors.Is(err, vault.ErrDecryptFailure):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "No file was changed\n")
	case errors.Is(err, vault.ErrVaultLocked):
		fmt.Fprintf(os.Stderr, "Error: vault is locked\n")
	case errors.Is(err, app.ErrSessionActive):
		fmt.Fprintf(os.Stderr, "Error: a session is already running\n")
	case errors.Is(err, pairing.ErrUnknownDevice):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Use 'proxvault devices' to list paired devices\n")
	case errors.Is(err, pairing.ErrStaleHandshake):
		fmt.Fprintf(os.Stderr, "Error: device answer is too old; check the device clock\n")
	case errors.Is(err, pairing.ErrWrongPassword):
		fmt.Fprintf(os.Stderr, "Error: wrong password for this pairing code\n")
	case errors.Is(err, pairing.ErrFileKeyMismatch):
		fmt.Fprintf(os.Stderr, "Error: device holds a key for a different password\n")
		fmt.Fprintf(os.Stderr, "Revoke it and pair again\n")
	case errors.Is(err, context.DeadlineExceeded):
		fmt.Fprintf(os.Stderr, "Error: timed out\n")
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(os.Stderr, "Interrupted\n")
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}
