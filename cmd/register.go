package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/proxvault/internal/crypto"
)

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create a vault for the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := currentUser()
			if err != nil {
				return err
			}
			password, err := getNewPassword()
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			if err := appCtx.ctl.Register(cmd.Context(), username, password); err != nil {
				return err
			}
			fmt.Printf("✓ Created vault for %s\n", username)
			fmt.Println("The password is not stored anywhere - you must remember it.")
			return nil
		},
	}
}
