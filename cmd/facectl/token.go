package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"facecheck/internal/auth"
	"facecheck/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API access token",
	Long: `Mint an access token signed with JWT_SIGNING_KEY. Admin tokens are the
only way to reach the photo upload and template rebuild routes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if role != auth.RoleAdmin && role != auth.RoleDevice {
			return fmt.Errorf("unknown role %q", role)
		}
		cfg := config.Load()
		pair, err := auth.Issue(subject, role, cfg.JWTIssuer, cfg.JWTSigningKey, ttl, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), pair.AccessToken)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("role", auth.RoleAdmin, "Token role (admin or device)")
	tokenCmd.Flags().String("subject", "facectl", "Token subject")
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
}
