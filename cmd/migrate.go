package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/corpaction-cli/internal/registry"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied (%s)\n", cfg.Store.Driver)
		return nil
	},
}

var seedDir string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load reference securities, actions, conflicts and users",
	Long:  "Loads the bundled fixture set, or the JSON fixtures in --dir, into the configured store. Reseeding is safe.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		ctx := cmd.Context()
		env, err := newEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := loadFixtures(seedDir)
		if err != nil {
			return err
		}
		stats, err := registry.Seed(ctx, env.Store, f)
		if err != nil {
			return err
		}
		env.Resolver.Purge()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d users, %d securities, %d actions, %d conflicts, %d audit entries, %d sync runs\n",
			stats.Users, stats.Securities, stats.Actions, stats.Conflicts, stats.Audit, stats.Syncs)
		return nil
	},
}

func loadFixtures(dir string) (*registry.Fixtures, error) {
	if dir == "" {
		return registry.Load()
	}
	return registry.LoadFromDir(dir)
}

func init() {
	seedCmd.Flags().StringVar(&seedDir, "dir", "", "directory of fixture JSON files (default: bundled set)")
	rootCmd.AddCommand(migrateCmd, seedCmd)
}
