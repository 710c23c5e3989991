package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Review and resolve disagreements between sources",
}

var (
	conflictsFilter store.ConflictFilter
	conflictsStatus string
)

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conflicts",
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

		f := conflictsFilter
		f.Status = model.ConflictStatus(conflictsStatus)
		conflicts, err := env.Store.ListConflicts(ctx, f)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), conflicts)
		}
		formatConflicts(cmd.OutOrStdout(), conflicts)
		return nil
	},
}

var (
	resolveSource  string
	resolveNotes   string
	resolveSuggest bool
)

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Accept one source's report for a conflict",
	Long:  "Resolves a conflict in favor of --source. With --suggest and no --source, the policy's recommended source is used.",
	Args:  cobra.ExactArgs(1),
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

		out := cmd.OutOrStdout()
		source := resolveSource
		if source == "" {
			sg, err := env.Reconcile.Suggest(ctx, args[0])
			if err != nil {
				return err
			}
			if !resolveSuggest {
				if jsonOutput {
					return printJSON(out, sg)
				}
				_, _ = fmt.Fprintf(out, "Suggested source for %s: %s (%s)\nRe-run with --source %q or --suggest to apply.\n", sg.ConflictID, sg.Source, sg.Reason, sg.Source)
				return nil
			}
			source = sg.Source
		}
		c, err := env.Reconcile.Resolve(ctx, args[0], source, resolveNotes)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, c)
		}
		_, _ = fmt.Fprintf(out, "%s resolved with %s\n", c.ID, c.Resolution)
		return nil
	},
}

var detectSecurity string

var conflictsDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Scan live actions for conflicting reports",
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

		res, err := env.Detector.Detect(ctx, detectSecurity)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d actions in %d clusters: %d new conflicts, %d already known\n",
			res.Actions, res.Clusters, len(res.Created), res.Duplicate)
		if len(res.Created) > 0 {
			formatConflicts(cmd.OutOrStdout(), res.Created)
		}
		return nil
	},
}

func init() {
	lf := conflictsListCmd.Flags()
	lf.StringVar(&conflictsStatus, "status", "", "unresolved, resolved or archived")
	lf.StringVar(&conflictsFilter.SecurityID, "security", "", "security id")
	lf.IntVar(&conflictsFilter.Limit, "limit", 100, "maximum rows")

	rf := conflictsResolveCmd.Flags()
	rf.StringVar(&resolveSource, "source", "", "source whose report wins")
	rf.StringVar(&resolveNotes, "notes", "", "resolution notes")
	rf.BoolVar(&resolveSuggest, "suggest", false, "apply the suggested source")

	conflictsDetectCmd.Flags().StringVar(&detectSecurity, "security", "", "only scan this security")

	conflictsCmd.AddCommand(conflictsListCmd, conflictsResolveCmd, conflictsDetectCmd)
	rootCmd.AddCommand(conflictsCmd)
}
