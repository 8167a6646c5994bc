package worker

import (
	"context"
	"sync"
	"time"

	"inference-ops-service/pkg/config"
	"inference-ops-service/pkg/logger"
)

// MonitoringLoop is the work the pool schedules.
type MonitoringLoop interface {
	Tick(ctx context.Context)
	PurgeHistory() int
}

// WorkerPool owns the monitoring timers. Stop cancels every one of them and
// waits for in-flight work to return.
type WorkerPool struct {
	config  *config.Config
	monitor MonitoringLoop
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

func NewWorkerPool(cfg *config.Config, monitor MonitoringLoop) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		config:  cfg,
		monitor: monitor,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (wp *WorkerPool) Start() {
	logger.Info("Starting worker pool",
		logger.Duration("monitor_interval", wp.config.MonitorInterval),
		logger.Duration("history_sweep_interval", wp.config.HistorySweepInterval))

	wp.wg.Add(1)
	go wp.monitorScheduler()

	wp.wg.Add(1)
	go wp.historySweeper()
}

func (wp *WorkerPool) Stop() {
	wp.once.Do(func() {
		logger.Info("Stopping worker pool...")
		wp.cancel()
		wp.wg.Wait()
		logger.Info("Worker pool stopped")
	})
}

func (wp *WorkerPool) monitorScheduler() {
	defer wp.wg.Done()

	logger.Info("Monitor scheduler started")

	ticker := time.NewTicker(wp.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			logger.Info("Monitor scheduler stopped")
			return
		case <-ticker.C:
			// a tick must finish before the next one is due
			ctx, cancel := context.WithTimeout(wp.ctx, wp.config.MonitorInterval)
			start := time.Now()
			wp.monitor.Tick(ctx)
			cancel()
			logger.Debug("Monitoring tick finished", logger.Duration("took", time.Since(start)))
		}
	}
}

func (wp *WorkerPool) historySweeper() {
	defer wp.wg.Done()

	logger.Info("History sweeper started")

	ticker := time.NewTicker(wp.config.HistorySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			logger.Info("History sweeper stopped")
			return
		case <-ticker.C:
			if purged := wp.monitor.PurgeHistory(); purged > 0 {
				logger.Info("Purged expired metrics history", logger.Int("samples", purged))
			}
		}
	}
}
