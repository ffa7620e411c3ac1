package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/internal/notify"
	"github.com/cuongbtq/photo-restore/internal/restoration"
	"github.com/cuongbtq/photo-restore/internal/worker"
	workerstorage "github.com/cuongbtq/photo-restore/internal/worker/storage"
	"github.com/spf13/cobra"
)

func (c *cli) runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Maintain restoration runs",
	}

	var staleAfter time.Duration
	reap := &cobra.Command{
		Use:   "reap",
		Short: "Mark executing runs without a recent heartbeat as crashed and fail their attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := c.setup()
			if err != nil {
				return err
			}
			defer env.close()

			if staleAfter <= 0 {
				staleAfter = env.cfg.Worker.StaleRunTimeout
			}
			if staleAfter <= 0 {
				staleAfter = worker.DefaultStaleRunTimeout
			}

			logger := env.logger.With(slog.String("component", "reaper"))
			orchestrator := restoration.NewOrchestrator(restoration.OrchestratorConfig{
				Repository: restoration.NewPostgresRepository(env.db, logger),
				Notifier:   notify.NewLogNotifier(logger),
				Logger:     logger,
			})

			registry := worker.NewRegistry()
			registry.Register(domain.TaskRestoreImage, orchestrator)

			reaper := worker.NewReaper(workerstorage.NewStorage(env.db.GetDB(), logger), registry, staleAfter, logger)
			n, err := reaper.Reap(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "crashed %d stale runs\n", n)
			return nil
		},
	}
	reap.Flags().DurationVar(&staleAfter, "stale-after", 0, "Heartbeat age after which a run is stale (default worker.stale_run_timeout)")

	cmd.AddCommand(reap)
	return cmd
}
