package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/porteria/backend/config"
	"github.com/porteria/backend/internal/auth"
)

// newTokenCmd mints access tokens signed with the identity provider's secret,
// for local development only.
func newTokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		hours  int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("--user must be a uuid: %w", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("hours") {
				hours = cfg.JWT.ExpireHours
			}
			if hours <= 0 {
				return fmt.Errorf("--hours must be positive")
			}
			token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, hours).Generate(id, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().IntVar(&hours, "hours", 0, "token lifetime in hours (defaults to JWT_EXPIRE_HOURS)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
