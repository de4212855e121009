package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/pocketledger/ledgersync/internal/di/providers"
	"github.com/pocketledger/ledgersync/internal/syncer"
	"github.com/pocketledger/ledgersync/internal/syncstate"
)

var statusHistory int

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status for the configured user",
	Long: `Show the last successful sync, the number of local changes waiting to be
pushed, whether the remote is reachable, and recent sync history.`,
	Run: func(cmd *cobra.Command, args []string) {
		injector, _ := bootstrap(cmd)
		defer shutdown(injector)
		userID := requireUser(injector)

		ctx := cmd.Context()
		st := do.MustInvoke[*providers.StoreHandle](injector)
		state := do.MustInvoke[*syncstate.Publisher](injector)
		monitor := do.MustInvoke[*syncer.Monitor](injector)

		last, _, err := st.LastSync(ctx, userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading sync log: %v\n", err)
			return
		}
		pending, err := st.CountUnsynced(ctx, userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting pending changes: %v\n", err)
			return
		}
		state.Restore(last, pending)
		snap := state.Snapshot()

		online := renderFail("offline")
		if monitor.Probe(ctx) {
			online = renderPass("online")
		}

		lastSync := renderMuted("never")
		if !snap.LastSync.IsZero() {
			lastSync = fmt.Sprintf("%s %s", snap.LastSync.Local().Format(time.DateTime),
				renderMuted("("+time.Since(snap.LastSync).Round(time.Second).String()+" ago)"))
		}

		fmt.Println(renderPanel("Sync status",
			renderRow("User", userID),
			renderRow("Remote", online),
			renderRow("Status", renderStatus(snap.Status)),
			renderRow("Health", renderHealth(snap.Health)),
			renderRow("Pending", strconv.Itoa(snap.Pending)),
			renderRow("Last sync", lastSync),
		))

		if statusHistory <= 0 {
			return
		}
		history, err := st.SyncHistory(ctx, userID, statusHistory)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading sync history: %v\n", err)
			return
		}
		if len(history) == 0 {
			return
		}
		rows := make([]string, 0, len(history))
		for _, h := range history {
			rows = append(rows, renderRow(h.LastSyncTime.Local().Format(time.DateTime),
				fmt.Sprintf("%d records", h.SyncedCount)))
		}
		fmt.Println(renderPanel("Recent syncs", rows...))
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusHistory, "history", 5, "number of recent syncs to list")
	rootCmd.AddCommand(statusCmd)
}
