package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/pocketledger/ledgersync/internal/di/providers"
)

var (
	exportOut   string
	exportClear bool
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "data",
	Short:   "Export all local data as JSON",
	Long: `Write every local record, tombstones and sync flags included, plus the
sync log to a JSON document.

With --clear the local database and stats cache are emptied after a
successful export, as when a user signs out.`,
	Run: func(cmd *cobra.Command, args []string) {
		injector, _ := bootstrap(cmd)
		defer shutdown(injector)

		ctx := cmd.Context()
		st := do.MustInvoke[*providers.StoreHandle](injector)

		out := os.Stdout
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", exportOut, err)
				return
			}
			defer f.Close()
			out = f
		}

		w := bufio.NewWriter(out)
		if err := st.Export(ctx, w); err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
			return
		}
		if err := w.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing export: %v\n", err)
			return
		}
		if exportOut != "" && exportOut != "-" {
			fmt.Fprintf(os.Stderr, "%s Exported to %s\n", renderPass("✓"), exportOut)
		}

		if !exportClear {
			return
		}
		cache := do.MustInvoke[*providers.StatsCacheHandle](injector)
		if err := st.Purge(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing local data: %v\n", err)
			return
		}
		if err := cache.Purge(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing stats cache: %v\n", err)
			return
		}
		fmt.Fprintf(os.Stderr, "%s Local data cleared\n", renderPass("✓"))
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default: stdout)")
	exportCmd.Flags().BoolVar(&exportClear, "clear", false, "clear local data after exporting")
	rootCmd.AddCommand(exportCmd)
}
