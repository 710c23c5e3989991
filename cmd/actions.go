package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List and manage corporate actions",
}

var (
	actionsFilter   store.ActionFilter
	actionsType     string
	actionsStatuses []string
)

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List corporate actions",
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

		f := actionsFilter
		f.EventType = model.EventType(actionsType)
		for _, s := range actionsStatuses {
			f.Statuses = append(f.Statuses, model.EventStatus(strings.ToLower(s)))
		}
		actions, err := env.Store.ListActions(ctx, f)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), actions)
		}
		formatActions(cmd.OutOrStdout(), actions)
		return nil
	},
}

var actionsStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Move an action through its lifecycle (pending, confirmed, settled, voided)",
	Args:  cobra.ExactArgs(2),
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

		a, err := env.Reconcile.SetActionStatus(ctx, args[0], model.EventStatus(strings.ToLower(args[1])))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), a)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", a.ID, a.Status)
		return nil
	},
}

var actionsArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive settled actions older than the retention window",
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

		res, err := env.Admin.Archive(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Archived %d settled actions before %s\n", res.Archived, res.Cutoff)
		return nil
	},
}

func init() {
	f := actionsListCmd.Flags()
	f.StringVarP(&actionsFilter.Query, "query", "q", "", "substring of security name or action id")
	f.StringVar(&actionsFilter.SecurityID, "security", "", "security id")
	f.StringVar(&actionsFilter.Source, "source", "", "reporting source")
	f.StringVar(&actionsType, "type", "", "event type")
	f.StringSliceVar(&actionsStatuses, "status", nil, "statuses to include")
	f.BoolVar(&actionsFilter.IncludeArchived, "archived", false, "include archived actions")
	f.IntVar(&actionsFilter.Limit, "limit", 100, "maximum rows")
	f.IntVar(&actionsFilter.Offset, "offset", 0, "rows to skip")
	actionsCmd.AddCommand(actionsListCmd, actionsStatusCmd, actionsArchiveCmd)
	rootCmd.AddCommand(actionsCmd)
}
