package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/syncer"
)

var syncTimeout time.Duration

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle and wait for it",
	Long: `Push every pending local change, pull remote changes since the last
successful sync, and record the new watermark.

Records where the local copy is newer than (or as new as) the remote copy
keep the local version and are reported as conflicts.`,
	Run: func(cmd *cobra.Command, args []string) {
		injector, _ := bootstrap(cmd)
		defer shutdown(injector)
		userID := requireUser(injector)

		engine := do.MustInvoke[*syncer.Engine](injector)

		ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
		defer cancel()

		fmt.Printf("%s Syncing %s...\n", renderAccent("⟳"), userID)
		res, err := engine.Sync(ctx, userID)
		if errors.Is(err, domainerrors.ErrConcurrentSync) {
			fmt.Fprintf(os.Stderr, "%s another sync is already running\n", renderWarn("!"))
			return
		}

		printResult(res)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s sync failed: %v\n", renderFail("✗"), err)
			shutdown(injector)
			os.Exit(1)
		}
	},
}

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 2*time.Minute, "give up after this long")
	rootCmd.AddCommand(syncCmd)
}

func printResult(res syncer.Result) {
	mark := renderPass("✓")
	if !res.Success {
		mark = renderFail("✗")
	} else if res.Failed > 0 || res.Conflicts > 0 {
		mark = renderWarn("!")
	}
	fmt.Printf("%s %d synced, %d failed, %d conflicts %s\n",
		mark, res.Synced, res.Failed, res.Conflicts,
		renderMuted(fmt.Sprintf("(%s)", res.Duration.Round(time.Millisecond))))

	cols := make([]domain.Collection, 0, len(res.Collections))
	for c := range res.Collections {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	for _, c := range cols {
		cr := res.Collections[c]
		if cr == (syncer.CollectionResult{}) {
			continue
		}
		fmt.Printf("  %-16s pushed %d, pulled %d, failed %d, conflicts %d\n",
			c, cr.Pushed, cr.Pulled, cr.Failed, cr.Conflicts)
	}
}
