package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/corpaction-cli/internal/auth"
	"github.com/sells-group/corpaction-cli/internal/model"
)

var (
	tokenEmail string
	tokenRole  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	Long:  "Signs a bearer token with auth.jwt_secret (CORPACTION_AUTH_JWT_SECRET) for the given operator and role.",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := auth.NewService(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
		tok, err := svc.Issue(tokenEmail, model.Role(tokenRole))
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "operator email")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(model.RoleAnalyst), "analyst, senior_analyst or admin")
	rootCmd.AddCommand(tokenCmd)
}
