package hotplug

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/juju/clock"
)

// runQueueAverager maintains a time-weighted average of the system
// run-queue depth on its own schedule, independent of the sampling period.
// The value is scaled by 100, so an average of two runnable tasks reads as
// 200. It has its own lock so samples may be taken concurrently with the
// decision loop consuming the value.
type runQueueAverager struct {
	clk        clock.Clock
	runQueue   func() (uint, error)
	updateRate time.Duration
	log        logr.Logger

	mu        sync.Mutex
	avg       uint
	lastTime  time.Time
	totalMSec int64

	cancelFunc func()
	waitGroup  sync.WaitGroup
	running    bool
}

func newRunQueueAverager(clk clock.Clock, runQueue func() (uint, error), updateRate time.Duration, log logr.Logger) *runQueueAverager {
	return &runQueueAverager{
		clk:        clk,
		runQueue:   runQueue,
		updateRate: updateRate,
		log:        log.WithName("rqavg"),
	}
}

// Start resets the accumulator and launches the sampling loop. Starting an
// already-running averager is a no-op.
func (r *runQueueAverager) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.avg = 0
	r.lastTime = time.Time{}
	r.totalMSec = 0
	r.running = true

	ctx, cancelFunc := context.WithCancel(context.Background())
	r.cancelFunc = cancelFunc
	r.waitGroup.Add(1)

	go r.runLoop(ctx)
}

// Stop cancels the sampling loop and waits for it to exit.
func (r *runQueueAverager) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancelFunc := r.cancelFunc
	r.mu.Unlock()

	cancelFunc()
	r.waitGroup.Wait()
}

func (r *runQueueAverager) runLoop(ctx context.Context) {
	defer r.waitGroup.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-r.clk.After(r.updateRate):
			r.sample(now)
		}
	}
}

// sample folds the current run-queue length into the average, weighted by
// the time elapsed since the previous sample. The first sample after a
// start or a consume carries full weight.
func (r *runQueueAverager) sample(now time.Time) {
	length, err := r.runQueue()
	if err != nil {
		r.log.V(5).Info("skipping run-queue sample", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastTime.IsZero() {
		r.lastTime = now
	}
	if r.avg == 0 {
		r.totalMSec = 0
	}

	weighted := int64(length) * 100
	elapsedMSec := now.Sub(r.lastTime).Milliseconds()

	if elapsedMSec != 0 && r.totalMSec != 0 {
		weighted = (weighted*elapsedMSec + int64(r.avg)*r.totalMSec) /
			(r.totalMSec + elapsedMSec)
	}
	r.avg = uint(weighted)
	r.totalMSec += elapsedMSec
	r.lastTime = now
}

// Consume atomically returns the smoothed value and resets it to zero.
func (r *runQueueAverager) Consume() uint {
	r.mu.Lock()
	defer r.mu.Unlock()

	avg := r.avg
	r.avg = 0
	return avg
}
