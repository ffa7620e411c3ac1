package worker

import (
	"context"
	"fmt"
	"log/slog"

	workerdomain "github.com/cuongbtq/photo-restore/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
		slog.Int("worker_num", workerNum),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg := <-w.jobsChan:
			w.logger.Info("Worker received run",
				slog.String("worker_name", workerName),
				slog.String("run_id", msg.RunID),
				slog.Uint64("delivery_tag", msg.DeliveryTag),
			)

			err := w.processRun(ctx, msg)
			w.settle(workerName, msg, err)
		}
	}
}

// settle ACKs the delivery of a run that reached a terminal state or was already claimed,
// and NACKs the rest
func (w *Worker) settle(workerName string, msg *workerdomain.RunMessage, err error) {
	disposition := workerdomain.Classify(err)
	if disposition == workerdomain.Ack {
		if ackErr := msg.Delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("run_id", msg.RunID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	w.logger.Warn("Run not processed",
		slog.String("worker_name", workerName),
		slog.String("run_id", msg.RunID),
		slog.String("disposition", disposition.String()),
		slog.String("error", err.Error()),
	)

	if nackErr := msg.Delivery.Nack(false, disposition == workerdomain.Requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("run_id", msg.RunID),
			slog.String("error", nackErr.Error()),
		)
	}
}
