package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/corpaction-cli/internal/ingest"
)

var syncCmd = &cobra.Command{
	Use:   "sync [source...]",
	Short: "Fetch and ingest corporate-action feeds",
	Long:  "Syncs the named sources, or every configured source, then runs conflict detection when new rows landed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sync"); err != nil {
			return err
		}
		ctx := cmd.Context()
		env, err := newEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()
		return runSync(ctx, cmd.OutOrStdout(), env.Syncer, args...)
	},
}

func runSync(ctx context.Context, out io.Writer, s *ingest.Syncer, names ...string) error {
	results, err := s.SyncAll(ctx, names...)
	if jsonOutput && results != nil {
		if perr := printJSON(out, results); perr != nil {
			return perr
		}
		return err
	}
	w := newTable(out, "SOURCE", "RECORDS", "ROWS", "NEW", "REJECTED", "CONFLICTS", "RESULT")
	for _, r := range results {
		result := "ok"
		switch {
		case r.Error != "":
			result = truncate(r.Error, 60)
		case r.Skipped:
			result = "skipped (no url)"
		case r.NotModified:
			result = "not modified"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n", r.Source, r.Records, r.Rows, r.New, r.Rejected, r.Conflicts, result)
	}
	_ = w.Flush()
	return err
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect configured data sources",
}

var sourcesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and recent sync volume per source",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sync"); err != nil {
			return err
		}
		ctx := cmd.Context()
		env, err := newEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		statuses, err := env.Syncer.Statuses(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), statuses)
		}
		formatSources(cmd.OutOrStdout(), statuses)
		return nil
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesStatusCmd)
	rootCmd.AddCommand(syncCmd, sourcesCmd)
}
