package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/pocketledger/ledgersync/internal/di"
	"github.com/pocketledger/ledgersync/internal/di/providers"
)

var devserverCmd = &cobra.Command{
	Use:     "devserver",
	GroupID: "dev",
	Short:   "Serve an in-memory remote store for local development",
	Long: `Serve the remote store API and the websocket change feed from memory.

Point a client at it with --remote-url http://localhost:8787. Data is lost
when the server stops.`,
	Run: func(cmd *cobra.Command, args []string) {
		injector := di.NewContainer(newViper(cmd))
		if err := di.BootstrapDevServer(injector); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		log := do.MustInvoke[*providers.LoggerHandle](injector)
		srv := do.MustInvoke[*providers.DevServerHandle](injector)

		errCh := make(chan error, 1)
		go func() {
			log.Info("dev remote listening", "addr", srv.Addr)
			errCh <- srv.ListenAndServe()
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case err := <-errCh:
			if err != nil {
				log.Error("dev remote failed", "error", err)
			}
		}

		log.Info("shutting down dev remote")
		shutdown(injector)
	},
}

func init() {
	devserverCmd.Flags().String("addr", "", "listen address (default :8787)")
	rootCmd.AddCommand(devserverCmd)
}
