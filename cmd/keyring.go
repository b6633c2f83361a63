package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/proxvault/internal/keyring"
)

func keyringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage this device's identity key in the OS keyring",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:         "status",
			Short:       "Show whether an identity key is stored",
			Args:        cobra.NoArgs,
			Annotations: map[string]string{noStore: "true"},
			RunE: func(cmd *cobra.Command, args []string) error {
				username, err := currentUser()
				if err != nil {
					return err
				}
				if !keyring.HasIdentity(username) {
					fmt.Println("Identity key: not stored (created on first pairing)")
					return nil
				}
				kp, err := keyring.LoadOrCreateIdentity(username)
				if err != nil {
					return err
				}
				defer kp.Destroy()
				fmt.Printf("Identity key: stored (public %s)\n", hex.EncodeToString(kp.Public[:]))
				return nil
			},
		},
		&cobra.Command{
			Use:         "delete",
			Short:       "Remove the identity key; the next pairing creates a new one",
			Args:        cobra.NoArgs,
			Annotations: map[string]string{noStore: "true"},
			RunE: func(cmd *cobra.Command, args []string) error {
				username, err := currentUser()
				if err != nil {
					return err
				}
				if err := keyring.DeleteIdentity(username); err != nil {
					return err
				}
				fmt.Println("Identity key removed from keyring")
				return nil
			},
		},
	)
	return cmd
}
