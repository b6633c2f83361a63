package cmd

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/illarion/proxvault/internal/config"
	"github.com/illarion/proxvault/internal/crypto"
)

// readPassword reads a password from the terminal without echoing
func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// getPassword retrieves the password from the environment or prompts for it.
// The caller must clear the returned slice.
func getPassword(prompt string) ([]byte, error) {
	if password := config.PasswordFromEnv(); password != nil {
		return password, nil
	}
	return readPassword(prompt)
}

// getNewPassword is getPassword with a confirmation prompt.
func getNewPassword() ([]byte, error) {
	if password := config.PasswordFromEnv(); password != nil {
		return password, nil
	}

	password1, err := readPassword("Enter password: ")
	if err != nil {
		return nil, err
	}
	password2, err := readPassword("Confirm password: ")
	if err != nil {
		crypto.ClearBytes(password1)
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		crypto.ClearBytes(password1)
		return nil, fmt.Errorf("passwords do not match")
	}
	return password1, nil
}
