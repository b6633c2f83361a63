package cmd

import (
	"context"
	"fmt"

	"github.com/illarion/proxvault/internal/crypto"
	"github.com/illarion/proxvault/internal/vault"
)

// withSession unlocks the vault, runs fn and locks the vault again, also
// when fn fails.
func withSession(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	username, err := currentUser()
	if err != nil {
		return err
	}
	password, err := getPassword("Enter password: ")
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(password)

	if _, err := appCtx.ctl.Login(ctx, username, password); err != nil {
		return err
	}
	defer func() {
		res, lockErr := appCtx.ctl.Logout(context.WithoutCancel(ctx))
		if lockErr != nil {
			if err == nil {
				err = lockErr
			}
			return
		}
		printResult("Locked", res)
	}()

	return fn(ctx)
}

func printResult(verb string, res *vault.Result) {
	if res == nil {
		return
	}
	for _, path := range res.Removed {
		fmt.Printf("  %s no longer exists, untracked\n", path)
	}
	fmt.Printf("✓ %s %d file(s)\n", verb, len(res.Processed))
}

// formatSize formats a file size in human-readable form
func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.1f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
