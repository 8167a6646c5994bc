package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"inference-ops-service/pkg/config"

	"github.com/stretchr/testify/assert"
)

type countingLoop struct {
	ticks  atomic.Int32
	sweeps atomic.Int32
}

func (l *countingLoop) Tick(context.Context) { l.ticks.Add(1) }

func (l *countingLoop) PurgeHistory() int {
	l.sweeps.Add(1)
	return 0
}

func TestWorkerPoolSchedulesAndStops(t *testing.T) {
	loop := &countingLoop{}
	pool := NewWorkerPool(&config.Config{
		MonitorInterval:      5 * time.Millisecond,
		HistorySweepInterval: 5 * time.Millisecond,
	}, loop)

	pool.Start()
	assert.Eventually(t, func() bool {
		return loop.ticks.Load() >= 2 && loop.sweeps.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	pool.Stop()
	ticks := loop.ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ticks, loop.ticks.Load(), "no tick may run after Stop")

	// a second Stop is harmless
	pool.Stop()
}
