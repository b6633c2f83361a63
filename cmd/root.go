package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/proxvault/internal/app"
	"github.com/illarion/proxvault/internal/config"
	"github.com/illarion/proxvault/internal/logging"
	"github.com/illarion/proxvault/internal/storage"
)

// noStore marks commands that run without opening the record store.
const noStore = "proxvault/no-store"

var (
	flagHome     string
	flagDB       string
	flagLogLevel string
	flagUser     string

	appCtx *appContext
)

type appContext struct {
	cfg   *config.Config
	log   logging.Logger
	store *storage.Store
	ctl   *app.Controller
}

// Execute runs the command line. Errors are returned unprinted; the caller
// reports them with HandleError.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:           "proxvault",
		Short:         "File vault that re-locks when your paired device leaves",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
	}
	defer teardown()

	root.PersistentFlags().StringVar(&flagHome, "home", "", "data directory (default ~/.proxvault, or $"+config.EnvHome+")")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "record store path (default <home>/"+config.DBFile+")")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "vault user (default $"+config.EnvUser+" or $USER)")

	root.AddCommand(
		registerCmd(),
		trackCmd(),
		untrackCmd(),
		statusCmd(),
		lockCmd(),
		sessionCmd(),
		devicesCmd(),
		revokeCmd(),
		companionCmd(),
		keyringCmd(),
		compactCmd(),
	)
	return root.ExecuteContext(ctx)
}

func setup(cmd *cobra.Command) error {
	cfg, err := config.LoadHome(flagHome)
	if err != nil {
		return err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.NewText(os.Stderr, cfg.LogLevel)
	appCtx = &appContext{cfg: cfg, log: log}
	if cmd.Annotations[noStore] != "" {
		return nil
	}

	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", cfg.Home, err)
	}
	store, err := storage.Open(cfg.Database())
	if err != nil {
		return err
	}
	appCtx.store = store
	appCtx.ctl = app.New(cfg, store, app.WithLogger(log))
	return nil
}

func teardown() {
	if appCtx == nil || appCtx.store == nil {
		return
	}
	// Any session still open at exit is locked before the store closes.
	if err := appCtx.ctl.Shutdown(context.Background()); err != nil {
		HandleError(err)
	}
	appCtx.store.Close()
}

func currentUser() (string, error) {
	if flagUser != "" {
		return flagUser, nil
	}
	if u := config.UserFromEnv(); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("no user given; use --user or set %s", config.EnvUser)
}
