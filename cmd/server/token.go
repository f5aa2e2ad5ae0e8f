package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/doubtline/internal/auth"
)

var (
	tokenUser string
	tokenName string
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a signed identity token for local testing",
	RunE: func(*cobra.Command, []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			return errors.New("jwt_secret is not configured")
		}

		token, err := auth.GenerateToken(&auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			TTL:      tokenTTL,
		}, auth.Identity{ID: tokenUser, DisplayName: tokenName, Role: tokenRole})
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (required)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "student", "role claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}
