package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/pocketledger/ledgersync/internal/config"
	"github.com/pocketledger/ledgersync/internal/di/providers"
	"github.com/pocketledger/ledgersync/internal/syncstate"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Keep the local database in sync until interrupted",
	Long: `Start the sync coordinator for the configured user: sync on startup, after
local changes, and whenever the remote becomes reachable again. Remote
changes are applied from the realtime feed between cycles.

The log level is reloaded when the config file changes.`,
	Run: func(cmd *cobra.Command, args []string) {
		injector, v := bootstrap(cmd)
		userID := requireUser(injector)

		log := do.MustInvoke[*providers.LoggerHandle](injector)
		cfg := do.MustInvoke[*config.Config](injector)
		coord := do.MustInvoke[*providers.CoordinatorHandle](injector)
		state := do.MustInvoke[*syncstate.Publisher](injector)

		updates, unsubscribe := state.Subscribe()
		defer unsubscribe()
		go func() {
			for snap := range updates {
				log.Debug("sync state",
					"status", snap.Status,
					"health", snap.Health,
					"pending", snap.Pending,
					"last_error", snap.LastError,
				)
			}
		}()

		if cfg.App.ConfigFile != "" {
			v.OnConfigChange(func(e fsnotify.Event) {
				if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
					return
				}
				level := v.GetString("log.level")
				log.SetLevel(level)
				log.Info("config reloaded", "file", e.Name, "log_level", level)
			})
			v.WatchConfig()
		}

		if err := coord.Start(cmd.Context(), userID); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting sync: %v\n", err)
			shutdown(injector)
			os.Exit(1)
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Info("shutting down sync")
		shutdown(injector)
	},
}

func init() {
	flags := runCmd.Flags()
	flags.String("realtime-url", "", "websocket change feed URL (default: derived from --remote-url)")
	flags.Bool("no-realtime", false, "do not subscribe to the realtime feed")
	flags.Duration("debounce", 0, "delay background syncs after local changes")
	flags.Duration("probe-interval", 0, "how often to check remote reachability")
	rootCmd.AddCommand(runCmd)
}
