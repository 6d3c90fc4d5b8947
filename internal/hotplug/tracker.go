package hotplug

import "time"

// noUnit marks an unset brought-up-by reference.
const noUnit = -1

// unitState is the governor's bookkeeping for one processing unit. It is
// guarded by the governor's loop lock, not by a lock of its own.
type unitState struct {
	prevWall time.Time
	prevIdle time.Duration

	// online is the state the governor last decided or observed, which may
	// briefly disagree with ground truth while a transition is in flight.
	online bool

	// eligibleForUp gates whether this unit may trigger bringing another
	// unit online. Cleared when the unit is chosen as an up-source, set
	// again once the relationship resolves.
	eligibleForUp bool

	// broughtUpBy is the unit whose saturation caused this unit to be
	// brought online, or noUnit.
	broughtUpBy int

	// lastLoad and lastFreq are the most recent known load percentage and
	// frequency, kept for observability only; decisions use the per-cycle
	// values. lastLoad is -1 while unknown.
	lastLoad int
	lastFreq uint
}

type tracker struct {
	units []unitState
}

func newTracker(numUnits int) *tracker {
	t := &tracker{units: make([]unitState, numUnits)}
	for i := range t.units {
		t.units[i].eligibleForUp = true
		t.units[i].broughtUpBy = noUnit
		t.units[i].lastLoad = -1
	}
	return t
}

// busyWindow returns the wall and idle time elapsed since the previous
// reading for a unit and stores the current reading as the new baseline.
// A reading that went backwards (counter reset) yields a zero delta.
func (t *tracker) busyWindow(unit int, curWall time.Time, curIdle time.Duration) (wallDelta, idleDelta time.Duration) {
	st := &t.units[unit]

	wallDelta = curWall.Sub(st.prevWall)
	st.prevWall = curWall

	idleDelta = curIdle - st.prevIdle
	st.prevIdle = curIdle

	if wallDelta < 0 {
		wallDelta = 0
	}
	if idleDelta < 0 {
		idleDelta = 0
	}
	return wallDelta, idleDelta
}

// baseline seeds a unit's window baseline and resets its decision state.
func (t *tracker) baseline(unit int, wall time.Time, idle time.Duration, online bool) {
	t.units[unit] = unitState{
		prevWall:      wall,
		prevIdle:      idle,
		online:        online,
		eligibleForUp: true,
		broughtUpBy:   noUnit,
		lastLoad:      -1,
	}
}

// resync forces a unit's online flag to ground truth and clears any pending
// relationship state. Window baselines are left alone; the next cycle
// recomputes deltas from them as usual.
func (t *tracker) resync(unit int, online bool) {
	st := &t.units[unit]
	st.online = online
	st.eligibleForUp = true
	st.broughtUpBy = noUnit
}

// resyncAll resyncs every unit against ground truth.
func (t *tracker) resyncAll(isOnline func(unit int) bool) {
	for unit := range t.units {
		t.resync(unit, isOnline(unit))
	}
}
