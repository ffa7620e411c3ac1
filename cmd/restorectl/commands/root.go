package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cuongbtq/photo-restore/internal/bootstrap"
	"github.com/cuongbtq/photo-restore/internal/config"
	"github.com/cuongbtq/photo-restore/internal/credits"
	"github.com/cuongbtq/photo-restore/shared/postgresql"
	"github.com/spf13/cobra"
)

// AdminLedger is the part of the credit ledger used by operators
type AdminLedger interface {
	GetBalance(ctx context.Context, userID string) (*credits.Balance, error)
	GrantIfNotGranted(ctx context.Context, p credits.GrantParams) (bool, error)
	Refund(ctx context.Context, p credits.RefundParams) (*credits.Result, error)
	Adjust(ctx context.Context, userID string, delta int64, reason string) (*credits.Result, error)
	ListTransactions(ctx context.Context, userID string, limit int, cursor string) (*credits.Page, error)
}

type cli struct {
	configPath string
	openLedger func(cmd *cobra.Command) (AdminLedger, func(), error)
}

// environment is what commands that talk to the database need
type environment struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *postgresql.Client
}

func (e *environment) close() {
	e.db.Close()
}

// NewRootCmd builds the restorectl command tree
func NewRootCmd() *cobra.Command {
	c := &cli{}
	c.openLedger = c.postgresLedger
	return c.rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	defaultConfigPath := os.Getenv("RESTORECTL_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/restorectl/config.yaml"
	}

	root := &cobra.Command{
		Use:           "restorectl",
		Short:         "Photo restore administration",
		Long:          `Applies schema migrations, reconciles credit balances and reaps stale restoration runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", defaultConfigPath, "Path to configuration file")

	root.AddCommand(c.migrateCmd(), c.creditsCmd(), c.runsCmd())
	return root
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c *cli) setup() (*environment, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.Logger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := bootstrap.PostgreSQL(&cfg.Database, appLogger.Component("postgresql"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &environment{cfg: cfg, logger: appLogger.Logger, db: db}, nil
}

func (c *cli) postgresLedger(*cobra.Command) (AdminLedger, func(), error) {
	env, err := c.setup()
	if err != nil {
		return nil, nil, err
	}

	ledger := credits.NewLedger(
		credits.NewPostgresStore(env.db, env.logger.With(slog.String("component", "credits-store"))),
		env.logger.With(slog.String("component", "credits")),
	)
	return ledger, env.close, nil
}
