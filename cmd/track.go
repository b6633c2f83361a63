package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func trackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "track <file> [file...]",
		Short: "Put files under vault protection",
		Long: "Unlocks the vault, adds the files to the tracked set and locks the vault\n" +
			"again, which encrypts the new files together with the existing ones.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context) error {
				for _, path := range args {
					added, err := appCtx.ctl.Track(ctx, path)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					if added {
						fmt.Printf("✓ Tracking %s\n", path)
					} else {
						fmt.Printf("  %s is already tracked\n", path)
					}
				}
				return nil
			})
		},
	}
}
