package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/corpaction-cli/internal/lookup"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <identifier>",
	Short: "Resolve an ISIN, RIC, CUSIP or stock code to a security",
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
		return runLookup(ctx, cmd.OutOrStdout(), env.Resolver, args[0])
	},
}

func runLookup(ctx context.Context, out io.Writer, r *lookup.Resolver, identifier string) error {
	res, err := r.Resolve(ctx, identifier)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, res)
	}
	formatLookup(out, res)
	return nil
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}
