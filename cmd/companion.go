package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/proxvault/internal/crypto"
	"github.com/illarion/proxvault/internal/keyring"
	"github.com/illarion/proxvault/internal/netx"
	"github.com/illarion/proxvault/internal/pairing"
	"github.com/illarion/proxvault/internal/protocol"
)

const beaconPeriod = 2 * time.Second

func companionCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:         "companion",
		Short:       "Run this machine as a companion device",
		Annotations: map[string]string{noStore: "true"},
	}
	cmd.PersistentFlags().StringVar(&name, "name", "companion", "device name, also the keyring entry holding its secrets")

	cmd.AddCommand(
		companionPairCmd(&name),
		companionServeCmd(&name),
		companionForgetCmd(&name),
	)
	return cmd
}

func companionPairCmd(name *string) *cobra.Command {
	var primary string

	cmd := &cobra.Command{
		Use:         "pair <pairing-code>",
		Short:       "Register with a primary showing a pairing code",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{noStore: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			boot, err := pairing.ParsePayload(args[0])
			if err != nil {
				return err
			}
			if primary == "" {
				primary = boot.ExternalIP
			}
			if primary == "" {
				return fmt.Errorf("pairing code has no address; use --primary")
			}
			addr, err := withPort(primary, appCtx.cfg.RegisterAddr)
			if err != nil {
				return err
			}

			password, err := getPassword(fmt.Sprintf("Vault password for %s: ", boot.Username))
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			comp, err := pairing.NewCompanion(*name, pairing.WithLogger(appCtx.log))
			if err != nil {
				return err
			}
			defer comp.Destroy()

			if err := comp.Register(cmd.Context(), addr, boot, password); err != nil {
				return err
			}
			state, err := comp.Export()
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(state)
			if err := keyring.SaveCompanion(*name, state); err != nil {
				return fmt.Errorf("failed to save device secrets: %w", err)
			}

			fmt.Printf("✓ Paired with %s as %s (%s)\n", boot.Username, comp.Name, comp.ID)
			fmt.Println("Run 'proxvault companion serve' to keep the vault unlocked nearby.")
			return nil
		},
	}
	cmd.Flags().StringVar(&primary, "primary", "", "primary host (default: address in the pairing code)")
	return cmd
}

func companionServeCmd(name *string) *cobra.Command {
	var primary, listen, advertise string

	cmd := &cobra.Command{
		Use:         "serve",
		Short:       "Announce this device and send heartbeats to the primary",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noStore: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := appCtx.cfg

			state, err := keyring.LoadCompanion(*name)
			if err != nil {
				return fmt.Errorf("no saved pairing for %q: %w", *name, err)
			}
			comp, err := pairing.RestoreCompanion(state,
				pairing.WithLogger(appCtx.log),
				pairing.WithInterval(cfg.HeartbeatInterval),
				pairing.WithFreshness(cfg.FreshnessWindow),
			)
			crypto.ClearBytes(state)
			if err != nil {
				return err
			}
			defer comp.Destroy()

			discovery, err := withPort(primary, cfg.DiscoveryAddr)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = ":" + strconv.Itoa(cfg.CompanionPort)
			}
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			stop := context.AfterFunc(ctx, func() { ln.Close() })
			defer stop()
			defer ln.Close()

			if advertise == "" {
				advertise = netx.ExternalIPv4()
			}
			_, port, _ := net.SplitHostPort(ln.Addr().String())
			beacon := comp.Beacon(net.JoinHostPort(advertise, port))

			fmt.Printf("Announcing %s to %s\n", comp.ID, discovery)
			for {
				conn, err := acceptWhileAnnouncing(ctx, ln, discovery, beacon)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				fmt.Println("Session started")
				err = comp.ServeSession(ctx, conn)
				if ctx.Err() != nil {
					return nil
				}
				fmt.Printf("Session ended: %s\n", err)
			}
		},
	}
	cmd.Flags().StringVar(&primary, "primary", "", "primary host")
	cmd.Flags().StringVar(&listen, "listen", "", "session listen address (default :<companion port>)")
	cmd.Flags().StringVar(&advertise, "advertise", "", "address announced to the primary (default: external IPv4)")
	cmd.MarkFlagRequired("primary")
	return cmd
}

// acceptWhileAnnouncing sends beacons until the primary connects.
func acceptWhileAnnouncing(ctx context.Context, ln net.Listener, discovery string, beacon *protocol.Beacon) (net.Conn, error) {
	announceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(beaconPeriod)
		defer ticker.Stop()
		for {
			if err := pairing.SendBeacon(announceCtx, discovery, beacon); err != nil {
				appCtx.log.Debug(announceCtx, "beacon failed", "error", err)
			}
			select {
			case <-announceCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return ln.Accept()
}

func companionForgetCmd(name *string) *cobra.Command {
	return &cobra.Command{
		Use:         "forget",
		Short:       "Delete this device's saved pairing",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noStore: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			err := keyring.DeleteCompanion(*name)
			if errors.Is(err, keyring.ErrNotFound) {
				fmt.Println("No saved pairing")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println("Saved pairing removed")
			return nil
		},
	}
}

// withPort appends the port of def to host unless host already has one.
func withPort(host, def string) (string, error) {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	_, port, err := net.SplitHostPort(def)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", def, err)
	}
	return net.JoinHostPort(host, port), nil
}
