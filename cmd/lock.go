package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/proxvault/internal/crypto"
	"github.com/illarion/proxvault/internal/vault"
)

func lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Encrypt a vault that was left unlocked",
		Long: "Sessions lock the vault when they end. Use lock to recover a vault left\n" +
			"unlocked by a crashed or killed session.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := currentUser()
			if err != nil {
				return err
			}
			state, _, err := appCtx.ctl.Status(username)
			if err != nil {
				return err
			}
			if state == vault.Locked {
				fmt.Println("Vault is already locked")
				return nil
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
			res, err := appCtx.ctl.Logout(ctx)
			if err != nil {
				return err
			}
			printResult("Locked", res)
			return nil
		},
	}
}
