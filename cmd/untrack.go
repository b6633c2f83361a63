package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func untrackCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "untrack <file> [file...]",
		Aliases: []string{"rm"},
		Short:   "Remove files from vault protection, leaving them decrypted",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context) error {
				for _, path := range args {
					removed, err := appCtx.ctl.Untrack(ctx, path)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					if removed {
						fmt.Printf("✓ Untracked %s\n", path)
					} else {
						fmt.Printf("  %s is not tracked\n", path)
					}
				}
				return nil
			})
		},
	}
}
