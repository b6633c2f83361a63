package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/proxvault/internal/crypto"
)

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <device-id>",
		Short: "Remove a paired device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := currentUser()
			if err != nil {
				return err
			}
			password, err := getPassword("Enter password: ")
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			ctx := cmd.Context()
			if err := appCtx.ctl.Authenticate(ctx, username, password); err != nil {
				return err
			}
			if err := appCtx.ctl.RevokeDevice(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Revoked %s\n", args[0])
			return nil
		},
	}
}
