// Package main provides the ledgersync command line client: it runs the
// sync subsystem against a remote store, reports sync status and serves a
// development remote.
package main

import (
	"fmt"
	"os"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pocketledger/ledgersync/internal/config"
	"github.com/pocketledger/ledgersync/internal/di"
	"github.com/pocketledger/ledgersync/internal/di/providers"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "ledgersync",
	Short: "Offline-first sync client for pocketledger",
	Long: `ledgersync keeps a local ledger database in step with the remote store.

Local writes are recorded immediately and pushed in the background; remote
changes are pulled on every cycle and applied as they arrive over the
realtime feed.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Local data:"},
		&cobra.Group{ID: "dev", Title: "Development:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: $XDG_CONFIG_HOME/ledgersync/config.yaml)")
	flags.String("env", "", "environment: development, staging or production")
	flags.String("data-dir", "", "directory for the local database and caches")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: json or pretty")
	flags.String("log-file", "", "also write JSON logs to this rotated file")
	flags.String("db", "", "local database path (default: <data-dir>/ledger.db)")
	flags.String("remote-url", "", "remote store base URL")
	flags.String("remote-token", "", "bearer token for the remote store")
	flags.String("user", "", "id of the signed-in user")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newViper builds the configuration source for cmd, binding every flag the
// command exposes to its configuration key.
func newViper(cmd *cobra.Command) *viper.Viper {
	v := config.NewViper(configFile)
	for name, key := range config.FlagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
	return v
}

// bootstrap creates the container for cmd and initializes the client side.
// Failures are fatal.
func bootstrap(cmd *cobra.Command) (*do.RootScope, *viper.Viper) {
	v := newViper(cmd)
	injector := di.NewContainer(v)
	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return injector, v
}

// shutdown releases everything the container created.
func shutdown(injector *do.RootScope) {
	log := do.MustInvoke[*providers.LoggerHandle](injector)
	if err := injector.Shutdown(); err != nil {
		log.Error("shutdown error", "error", err)
	}
}

// requireUser returns the configured user id or exits.
func requireUser(injector *do.RootScope) string {
	cfg := do.MustInvoke[*config.Config](injector)
	if cfg.Sync.UserID == "" {
		fmt.Fprintf(os.Stderr, "Error: no user configured (use --user or LEDGERSYNC_SYNC_USER_ID)\n")
		shutdown(injector)
		os.Exit(1)
	}
	return cfg.Sync.UserID
}
