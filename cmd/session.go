package cmd

import (
	"context"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/illarion/proxvault/internal/crypto"
)

func sessionCmd() *cobra.Command {
	var pair, proximity bool

	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"unlock"},
		Short:   "Unlock the vault until interrupted or the paired device leaves",
		Long: "Unlocks the vault and keeps it unlocked until Ctrl-C. With --proximity the\n" +
			"vault is unlocked by a paired device and locks again as soon as its\n" +
			"heartbeat stops. With --pair a new device is paired first.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pair && proximity {
				return fmt.Errorf("--pair and --proximity cannot be combined; pair first")
			}
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
			ctl := appCtx.ctl

			if proximity {
				if err := ctl.Authenticate(ctx, username, password); err != nil {
					return err
				}
			} else {
				res, err := ctl.Login(ctx, username, password)
				if err != nil {
					return err
				}
				printResult("Unlocked", res)
			}
			done := ctl.Done()

			if pair {
				device, err := ctl.Pair(ctx, func(payload string, addr net.Addr) {
					fmt.Println("Pairing code (enter it on the device with 'proxvault companion pair'):")
					fmt.Println()
					fmt.Println(payload)
					fmt.Println()
					fmt.Printf("Waiting for the device on %s\n", addr)
				})
				if err != nil {
					return err
				}
				fmt.Printf("✓ Paired %s (%s)\n", device.Name, device.ID)
			}

			if proximity {
				fmt.Println("Waiting for a paired device...")
				beacon, err := ctl.Discover(ctx)
				if err != nil {
					return err
				}
				if err := ctl.Connect(ctx, beacon); err != nil {
					return err
				}
				fmt.Printf("✓ Device %s connected, vault unlocked\n", beacon.DeviceID)
			}

			fmt.Println("Vault unlocked. Press Ctrl-C to lock.")
			select {
			case <-done:
				fmt.Println("Paired device out of range, vault locked")
				return nil
			case <-ctx.Done():
			}

			res, err := ctl.Logout(context.WithoutCancel(ctx))
			if err != nil {
				return err
			}
			printResult("Locked", res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&pair, "pair", false, "pair a new companion device after unlocking")
	cmd.Flags().BoolVar(&proximity, "proximity", false, "unlock through a paired device and lock when it leaves")
	return cmd
}
