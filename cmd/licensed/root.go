package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"licensed/internal/app"
	"licensed/internal/config"
	"licensed/internal/infrastructure"
	"licensed/internal/license"
	"licensed/internal/store/postgres"
	"licensed/pkg/contracts"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "licensed",
		Short:         "Storefront license ingestion and activation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       contracts.Version,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to a YAML config file (default: $LICENSED_CONFIG, ./config.yaml or ./configs/config.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newClassifyCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	if o.configPath != "" {
		return config.LoadFrom(o.configPath)
	}
	return config.Load()
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := infrastructure.InitializeLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer infrastructure.CloseLogFile()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to initialize application", slog.String("error", err.Error()))
				return err
			}
			defer func() {
				if err := application.Close(context.Background()); err != nil {
					logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
				}
			}()

			if err := application.Run(ctx); err != nil {
				logger.Error("application error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("license service stopped")
			return nil
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	run := func(fn func(cmd *cobra.Command, s *postgres.Store, logger *slog.Logger) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Store.DatabaseURL == "" {
				return errors.New("store.database_url is not set")
			}
			logger, err := infrastructure.InitializeLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer infrastructure.CloseLogFile()

			db, err := postgres.Connect(cmd.Context(), cfg.Store.DatabaseURL, postgres.Options{MaxConns: 1}, logger)
			if err != nil {
				return err
			}
			s := postgres.New(db)
			defer s.Close()
			return fn(cmd, s, logger)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, s *postgres.Store, logger *slog.Logger) error {
				return postgres.MigrateUp(cmd.Context(), s.DB(), logger)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, s *postgres.Store, logger *slog.Logger) error {
				return postgres.MigrateDown(cmd.Context(), s.DB(), logger)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, s *postgres.Store, logger *slog.Logger) error {
				version, dirty, err := postgres.SchemaVersion(s.DB(), logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
				return nil
			}),
		},
	)
	return cmd
}

type classifyOptions struct {
	signals license.Signals
}

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	co := &classifyOptions{}

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Show which tier a purchase would be granted",
		Example: `  licensed classify --product-id 6screen
  licensed classify --price 1.99 --currency USD
  licensed classify --key ABCD-PRO-1234`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			classifier, err := app.NewClassifier(cfg.Licensing.PriceBands)
			if err != nil {
				return err
			}
			tier := classifier.Classify(co.signals)
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d screens)\n", tier, tier.Capacity())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&co.signals.ProductID, "product-id", "", "storefront product slug or permalink")
	f.StringVar(&co.signals.ProductName, "product-name", "", "storefront product name")
	f.StringVar(&co.signals.Price, "price", "", "price in currency units, e.g. 1.99")
	f.StringVar(&co.signals.Currency, "currency", "", "ISO currency code")
	f.StringVar(&co.signals.Key, "key", "", "license key")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), contracts.GetFullVersionString())
		},
	}
}
