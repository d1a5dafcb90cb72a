package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-appserver/pkg/middleware"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the websocket endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(nil)
		if err != nil {
			return err
		}
		ttl := tokenTTL
		if ttl == 0 {
			ttl = time.Duration(cfg.JWT.ExpiryHours) * time.Hour
		}
		token, err := middleware.IssueToken(cfg.JWT.Secret, cfg.JWT.Issuer, tokenSubject, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "", "Token subject (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default from jwt.expiry_hours)")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}
