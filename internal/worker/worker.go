// Package worker runs the deprovisioning scheduler: it polls for due
// schedules and triggers tenant teardown through the provisioning service.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/merendalabs/merenda-api/internal/service"
)

// Worker polls for due deprovisioning schedules.
type Worker struct {
	provisioningSvc *service.ProvisioningService
	pollInterval    time.Duration
	gracePeriod     time.Duration
	stop            chan struct{}
	wg              sync.WaitGroup
	logger          *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	PollInterval time.Duration
	// ShutdownGracePeriod bounds how long Stop waits for an in-flight
	// teardown before giving up on it.
	ShutdownGracePeriod time.Duration
}

// New creates a new worker.
func New(provisioningSvc *service.ProvisioningService, cfg Config, logger *slog.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ShutdownGracePeriod == 0 {
		cfg.ShutdownGracePeriod = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		provisioningSvc: provisioningSvc,
		pollInterval:    cfg.PollInterval,
		gracePeriod:     cfg.ShutdownGracePeriod,
		stop:            make(chan struct{}),
		logger:          logger.With("component", "worker"),
	}
}

// Start begins polling for due schedules.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "poll_interval", w.pollInterval)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop gracefully stops the worker, waiting up to the shutdown grace
// period for a teardown in flight. An abandoned run record lets the
// teardown be recovered later.
func (w *Worker) Stop() {
	w.logger.Info("stopping", "grace_period", w.gracePeriod)
	close(w.stop)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("stopped")
	case <-time.After(w.gracePeriod):
		w.logger.Warn("shutdown grace period elapsed with a teardown still running")
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	executed, err := w.provisioningSvc.ExecuteDueSchedules(ctx)
	if err != nil {
		w.logger.Error("failed to execute due schedules", "error", err)
	}
	if executed > 0 {
		w.logger.Info("executed due deprovisioning schedules", "count", executed)
	}
}
