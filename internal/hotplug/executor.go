package hotplug

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/coregov/coregov/internal/telemetry"
)

// executor runs unit transitions off the decision loop. The loop signals it
// with at most one pending request per direction; each request scans the
// tracker for units whose desired state disagrees with ground truth and
// invokes the actuator for every such unit. Consistency with the decision
// loop comes from sharing its lock, not from ordering of the signals.
type executor struct {
	mu       *sync.Mutex
	track    *tracker
	source   telemetry.Source
	actuator telemetry.Actuator
	log      logr.Logger

	onlineWork  chan struct{}
	offlineWork chan struct{}

	upCount   atomic.Uint64
	downCount atomic.Uint64

	cancelFunc func()
	waitGroup  sync.WaitGroup
}

func newExecutor(mu *sync.Mutex, track *tracker, source telemetry.Source, actuator telemetry.Actuator, log logr.Logger) *executor {
	ctx, cancelFunc := context.WithCancel(context.Background())

	e := &executor{
		mu:          mu,
		track:       track,
		source:      source,
		actuator:    actuator,
		log:         log.WithName("executor"),
		onlineWork:  make(chan struct{}, 1),
		offlineWork: make(chan struct{}, 1),
		cancelFunc:  cancelFunc,
	}

	e.waitGroup.Add(1)
	go e.runLoop(ctx)

	return e
}

func (e *executor) stop() {
	e.cancelFunc()
	e.waitGroup.Wait()
}

// signalOnline requests a bring-online pass. Never blocks; a pass already
// pending covers this request too.
func (e *executor) signalOnline() {
	select {
	case e.onlineWork <- struct{}{}:
	default:
	}
}

// signalOffline requests a take-offline pass.
func (e *executor) signalOffline() {
	select {
	case e.offlineWork <- struct{}{}:
	default:
	}
}

// discardPending drops undelivered transition requests. A request the
// worker already picked up no-ops instead: its pass rechecks desired state
// under the loop lock, which the caller holds.
func (e *executor) discardPending() {
	select {
	case <-e.onlineWork:
	default:
	}
	select {
	case <-e.offlineWork:
	default:
	}
}

func (e *executor) runLoop(ctx context.Context) {
	defer e.waitGroup.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.onlineWork:
			e.bringOnline()
		case <-e.offlineWork:
			e.takeOffline()
		}
	}
}

// bringOnline activates every unit the tracker wants online that ground
// truth reports offline.
func (e *executor) bringOnline() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for unit := range e.track.units {
		if !e.track.units[unit].online || e.source.IsOnline(unit) {
			continue
		}
		if err := e.actuator.SetOnline(unit); err != nil {
			e.log.Error(err, "failed to bring unit online", "unit", unit)
			continue
		}
		e.upCount.Add(1)
		e.log.V(5).Info("unit brought online", "unit", unit)
	}
}

// takeOffline deactivates every unit the tracker wants offline that ground
// truth reports online.
func (e *executor) takeOffline() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for unit := range e.track.units {
		if e.track.units[unit].online || !e.source.IsOnline(unit) {
			continue
		}
		if err := e.actuator.SetOffline(unit); err != nil {
			e.log.Error(err, "failed to take unit offline", "unit", unit)
			continue
		}
		e.downCount.Add(1)
		e.log.V(5).Info("unit taken offline", "unit", unit)
	}

	// fully degraded systems must always be able to scale back up
	if numOnline(e.source, len(e.track.units)) == 1 {
		e.track.units[0].eligibleForUp = true
	}
}

func numOnline(source telemetry.Source, numUnits int) int {
	online := 0
	for unit := 0; unit < numUnits; unit++ {
		if source.IsOnline(unit) {
			online++
		}
	}
	return online
}
