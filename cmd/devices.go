package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List paired companion devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := currentUser()
			if err != nil {
				return err
			}
			devices, err := appCtx.ctl.Devices(username)
			if err != nil {
				return err
			}

			if len(devices) == 0 {
				fmt.Println("No paired devices")
				return nil
			}
			fmt.Println("Paired devices:")
			for _, d := range devices {
				name := d.Name
				if name == "" {
					name = "(unnamed)"
				}
				fmt.Printf("  %s  %s  paired %s\n", d.ID, name, d.Paired.Format(time.RFC3339))
			}
			return nil
		},
	}
}
