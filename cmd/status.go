package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/proxvault/internal/git"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"ls"},
		Short:   "Show lock state and tracked files (no password required)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := currentUser()
			if err != nil {
				return err
			}
			state, files, err := appCtx.ctl.Status(username)
			if err != nil {
				return err
			}
			devices, err := appCtx.ctl.Devices(username)
			if err != nil {
				return err
			}

			fmt.Printf("Vault of %s: %s\n", username, state)
			fmt.Println()
			fmt.Println("Tracked files:")
			if len(files) == 0 {
				fmt.Println("  (none)")
			}
			for _, path := range files {
				info, err := os.Stat(path)
				switch {
				case errors.Is(err, fs.ErrNotExist):
					fmt.Printf("  %s (missing, untracked on next lock)\n", path)
				case err != nil:
					fmt.Printf("  %s (%s)\n", path, err)
				default:
					fmt.Printf("  %s (%s)\n", path, formatSize(info.Size()))
				}
			}
			fmt.Print(git.Check(files).Format())
			fmt.Printf("\nPaired devices: %d\n", len(devices))
			return nil
		},
	}
}
