package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

var securitiesCmd = &cobra.Command{
	Use:   "securities",
	Short: "Browse the securities master",
}

var securitiesFilter store.SecurityFilter

var securitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List securities matching a name or identifier",
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

		f := securitiesFilter
		f.AssetClass = model.AssetClass(assetClassFlag)
		f.Status = model.SecurityStatus(securityStatusFlag)
		secs, err := env.Store.ListSecurities(ctx, f)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), secs)
		}
		formatSecurities(cmd.OutOrStdout(), secs)
		return nil
	},
}

var assetClassFlag, securityStatusFlag string

func init() {
	f := securitiesListCmd.Flags()
	f.StringVarP(&securitiesFilter.Query, "query", "q", "", "substring of name or identifier")
	f.StringVar(&securitiesFilter.Exchange, "exchange", "", "exchange code")
	f.StringVar(&assetClassFlag, "asset-class", "", "equity, bond, fund or derivative")
	f.StringVar(&securityStatusFlag, "status", "", "active, inactive or archived")
	f.IntVar(&securitiesFilter.Limit, "limit", 100, "maximum rows")
	f.IntVar(&securitiesFilter.Offset, "offset", 0, "rows to skip")
	securitiesCmd.AddCommand(securitiesListCmd)
	rootCmd.AddCommand(securitiesCmd)
}
