package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"trading-journal/config"
	"trading-journal/internal/app"
	"trading-journal/internal/auth"
	"trading-journal/internal/billing"
	"trading-journal/internal/logging"
	"trading-journal/internal/vault"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "journalctl",
		Short:         "Maintenance commands for the trading journal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (json, yaml or toml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	root.AddCommand(newMigrateCmd(), newReviewCmd(), newTokenCmd())
	return root
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := logging.New(&logging.Config{
		Level:     logLevel,
		Output:    "stderr",
		Component: "journalctl",
	})
	return cfg, logger, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.Open(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.DatabaseConfig.Driver)
			return nil
		},
	}
}

func newReviewCmd() *cobra.Command {
	var userID, tz string

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Print the current week's review for a user as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.Open(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			review, err := a.Service.WeeklyReview(ctx, userID, a.Service.Zone(ctx, userID, tz))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(review)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA zone used when the user has none stored")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var userID, email, tier string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if string(billing.ParseTier(tier)) != tier {
				return fmt.Errorf("unknown tier %q", tier)
			}

			vc, err := vault.NewClient(cfg.VaultConfig)
			if err != nil {
				return err
			}
			secret, err := vc.ResolveSecret(cmd.Context(), vault.KeyJWTSecret, cfg.AuthConfig.JWTSecret)
			if errors.Is(err, vault.ErrSecretNotFound) || secret == "" {
				return errors.New("no jwt secret configured")
			}
			if err != nil {
				return err
			}

			mgr := auth.NewJWTManager(secret, cfg.AuthConfig.AccessTokenDuration)
			token, err := mgr.GenerateAccessToken(auth.UserClaims{
				UserID:           userID,
				Email:            email,
				SubscriptionTier: tier,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&tier, "tier", string(billing.TierFree), "subscription tier")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
