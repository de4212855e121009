package main

import (
	"fmt"
	"os"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/pocketledger/ledgersync/internal/service"
	"github.com/pocketledger/ledgersync/internal/syncer"
)

var (
	initEmail  string
	initNoSeed bool
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "data",
	Short:   "Prepare the local database for a user",
	Long: `Pull the user's existing data, create the local profile if missing and
seed the default category tree for users without categories.

When the remote is unreachable the profile and categories are created
locally and pushed by the next sync.`,
	Run: func(cmd *cobra.Command, args []string) {
		injector, _ := bootstrap(cmd)
		defer shutdown(injector)
		userID := requireUser(injector)
		ctx := cmd.Context()

		engine := do.MustInvoke[*syncer.Engine](injector)
		if _, err := engine.Sync(ctx, userID); err != nil {
			fmt.Fprintf(os.Stderr, "%s initial sync failed, continuing offline: %v\n", renderWarn("!"), err)
		}

		profiles := do.MustInvoke[*service.ProfileService](injector)
		user, err := profiles.Ensure(ctx, userID, initEmail)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating profile: %v\n", err)
			return
		}
		fmt.Printf("%s Profile %s (%s)\n", renderPass("✓"), user.DisplayName, user.Email)

		if initNoSeed {
			return
		}
		categories := do.MustInvoke[*service.CategoryService](injector)
		n, err := categories.SeedDefaults(ctx, userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error seeding categories: %v\n", err)
			return
		}
		if n > 0 {
			fmt.Printf("%s Created %d default categories\n", renderPass("✓"), n)
		}

		if _, err := engine.Sync(ctx, userID); err != nil {
			fmt.Printf("%s Changes saved locally; they will be pushed on the next sync\n", renderMuted("·"))
		}
	},
}

func init() {
	initCmd.Flags().StringVar(&initEmail, "email", "", "email address for a new profile")
	initCmd.Flags().BoolVar(&initNoSeed, "no-seed", false, "do not create default categories")
	rootCmd.AddCommand(initCmd)
}
