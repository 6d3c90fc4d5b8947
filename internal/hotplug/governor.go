package hotplug

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/juju/clock"

	"github.com/coregov/coregov/internal/telemetry"
)

// Config carries the governor's collaborators.
type Config struct {
	Source   telemetry.Source
	Actuator telemetry.Actuator
	Clock    clock.Clock
	Log      logr.Logger

	// RunQueueUpdateRate is the averager's own sampling interval.
	// Defaults to DefaultRunQueueUpdateRate.
	RunQueueUpdateRate time.Duration
}

// Governor is the adaptive hotplug controller. It samples per-unit load,
// frequency and run-queue depth once per sampling period and brings units
// online or offline within the configured limits. There is one governor per
// system; create it with NewGovernor and release it with Close.
type Governor struct {
	source telemetry.Source
	clk    clock.Clock
	log    logr.Logger

	// mu is the loop lock: it guards the tracker, policy, tunables, cycle
	// bookkeeping and timer, and serializes decision cycles against the
	// executor and tunable writes.
	mu      sync.Mutex
	track   *tracker
	policy  *Policy
	tun     Tunables
	enabled bool

	cycleCount  int
	lastRQAvg   uint
	resyncCount uint64

	timer    clock.Timer
	deadline time.Time

	rq   *runQueueAverager
	exec *executor
}

// NewGovernor builds a disabled governor for every possible unit reported
// by the source. Enable it with SetEnabled(true).
func NewGovernor(cfg Config) *Governor {
	numUnits := cfg.Source.NumUnits()
	log := cfg.Log.WithName("governor")

	if cfg.RunQueueUpdateRate <= 0 {
		cfg.RunQueueUpdateRate = DefaultRunQueueUpdateRate
	}

	g := &Governor{
		source: cfg.Source,
		clk:    cfg.Clock,
		log:    log,
		track:  newTracker(numUnits),
		policy: NewDefaultPolicy(numUnits),
		tun:    defaultTunables(numUnits),
	}
	g.rq = newRunQueueAverager(cfg.Clock, cfg.Source.RunQueueLen, cfg.RunQueueUpdateRate, log)
	g.exec = newExecutor(&g.mu, g.track, cfg.Source, cfg.Actuator, log)

	return g
}

// Close disables the governor and stops its background work.
func (g *Governor) Close() {
	g.SetEnabled(false)
	g.exec.stop()
}

// NumUnits returns the number of possible units under control.
func (g *Governor) NumUnits() int {
	return len(g.track.units)
}

// runCycle is the sampling-period timer callback.
func (g *Governor) runCycle() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled {
		return
	}
	g.cycleLocked()
	g.scheduleLocked(g.tun.SamplingPeriod)
}

// scheduleLocked arms the cycle timer. Caller holds the loop lock.
func (g *Governor) scheduleLocked(delay time.Duration) {
	if g.timer == nil {
		g.timer = g.clk.AfterFunc(delay, g.runCycle)
	} else {
		g.timer.Reset(delay)
	}
	g.deadline = g.clk.Now().Add(delay)
}

// SetEnabled starts or stops hotplugging. Enabling captures a fresh
// baseline for every unit, starts the run-queue averager and schedules the
// first cycle. Disabling stops the averager, cancels the pending cycle and
// unconditionally takes every unit above 0 offline. Setting the current
// value is a no-op. Disabling returns only once any in-flight cycle has
// finished; no transition request is issued afterwards.
func (g *Governor) SetEnabled(enable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.enabled == enable {
		return
	}

	if enable {
		g.rq.Start()
		now := g.clk.Now()
		for unit := range g.track.units {
			idle, _ := g.readIdle(unit)
			g.track.baseline(unit, now, idle, g.source.IsOnline(unit))
		}
		g.cycleCount = 0
		g.enabled = true
		g.scheduleLocked(g.tun.SamplingPeriod)
		g.log.Info("hotplugging enabled", "units", len(g.track.units))
		return
	}

	g.enabled = false
	if g.timer != nil {
		g.timer.Stop()
	}
	g.rq.Stop()
	g.exec.discardPending()
	for unit := 1; unit < len(g.track.units); unit++ {
		if !g.source.IsOnline(unit) {
			continue
		}
		if err := g.exec.actuator.SetOffline(unit); err != nil {
			g.log.Error(err, "failed to take unit offline on disable", "unit", unit)
		}
	}
	// reconcile the tracker so a raced worker pass finds nothing to do
	g.track.resyncAll(g.source.IsOnline)
	g.log.Info("hotplugging disabled")
}

// Enabled reports whether the governor is running.
func (g *Governor) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// SetSamplingPeriod updates the decision interval, clamped to
// MinSamplingPeriod. Shortening the period reschedules a pending cycle that
// would otherwise fire later than the new period implies; lengthening never
// preempts an already-scheduled cycle.
func (g *Governor) SetSamplingPeriod(period time.Duration) {
	period = clampSamplingPeriod(period)

	g.mu.Lock()
	defer g.mu.Unlock()

	if period == g.tun.SamplingPeriod {
		return
	}
	g.tun.SamplingPeriod = period

	if !g.enabled || g.timer == nil {
		return
	}
	if next := g.clk.Now().Add(period); next.Before(g.deadline) {
		g.timer.Reset(period)
		g.deadline = next
	}
}

// SetUpRate updates the up-decision divisor, clamped to 1..40.
func (g *Governor) SetUpRate(rate int) {
	rate = clampRate(rate)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.tun.UpRate = rate
}

// SetDownRate updates the down-decision divisor, clamped to 1..40.
func (g *Governor) SetDownRate(rate int) {
	rate = clampRate(rate)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.tun.DownRate = rate
}

// SetMaxCoresLimit bounds how many units may be active, clamped to
// 1..NumUnits.
func (g *Governor) SetMaxCoresLimit(limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tun.MaxCoresLimit = clampCoresLimit(limit, len(g.track.units))
}

// Tunables returns a copy of the current global tunables.
func (g *Governor) Tunables() Tunables {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tun
}

// SetPolicy updates the thresholds for one (unit, direction) pair. Load is
// clamped to 0..100; writes to the fixed neutral entries (unit 0 down,
// highest unit up) are ignored.
func (g *Governor) SetPolicy(unit int, dir Direction, e PolicyEntry) error {
	if unit < 0 || unit >= g.NumUnits() {
		return fmt.Errorf("unit %d out of range", unit)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy.set(unit, dir, e)
	return nil
}

// PolicyFor returns the thresholds for one (unit, direction) pair.
func (g *Governor) PolicyFor(unit int, dir Direction) (PolicyEntry, error) {
	if unit < 0 || unit >= g.NumUnits() {
		return PolicyEntry{}, fmt.Errorf("unit %d out of range", unit)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.policy.get(unit, dir), nil
}

// UnitStatus is an observability snapshot of one unit.
type UnitStatus struct {
	Online        bool
	EligibleForUp bool
	// Load is the last known load percentage, -1 while unknown.
	Load    int
	FreqKHz uint
}

// Status is an observability snapshot of the governor.
type Status struct {
	Enabled         bool
	CycleCount      int
	RunQueueAvg     uint
	UpTransitions   uint64
	DownTransitions uint64
	Resyncs         uint64
	Units           []UnitStatus
}

// Status returns a consistent snapshot for metrics and diagnostics.
func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Status{
		Enabled:         g.enabled,
		CycleCount:      g.cycleCount,
		RunQueueAvg:     g.lastRQAvg,
		UpTransitions:   g.exec.upCount.Load(),
		DownTransitions: g.exec.downCount.Load(),
		Resyncs:         g.resyncCount,
		Units:           make([]UnitStatus, len(g.track.units)),
	}
	for unit, st := range g.track.units {
		s.Units[unit] = UnitStatus{
			Online:        st.online,
			EligibleForUp: st.eligibleForUp,
			Load:          st.lastLoad,
			FreqKHz:       st.lastFreq,
		}
	}
	return s
}
