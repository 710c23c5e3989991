package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/corpaction-cli/internal/export"
	"github.com/sells-group/corpaction-cli/internal/store"
)

var (
	exportOut      string
	exportArchived bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write corporate actions and conflicts to an XLSX workbook",
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

		f, err := os.Create(exportOut)
		if err != nil {
			return eris.Wrapf(err, "export: create %s", exportOut)
		}
		sum, err := export.Write(ctx, env.Store, store.ActionFilter{IncludeArchived: exportArchived, Limit: -1}, f)
		if cerr := f.Close(); err == nil && cerr != nil {
			err = eris.Wrapf(cerr, "export: close %s", exportOut)
		}
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d actions and %d conflicts to %s\n", sum.Actions, sum.Conflicts, exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "corporate-actions.xlsx", "output path")
	exportCmd.Flags().BoolVar(&exportArchived, "archived", false, "include archived actions")
	rootCmd.AddCommand(exportCmd)
}
