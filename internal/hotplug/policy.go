package hotplug

// Direction selects the up or down threshold set of a policy entry.
type Direction int

const (
	Down Direction = iota
	Up
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// PolicyEntry holds the thresholds for one (unit, direction) pair. An
// up-entry triggers when load, frequency and run-queue depth are all at or
// above its values; a down-entry when load is below it, or frequency and
// run-queue depth are both at or below it.
type PolicyEntry struct {
	// Load is a percentage, 0..100.
	Load int
	// FreqKHz is a clock frequency in kHz.
	FreqKHz uint
	// RunQueue is a smoothed run-queue depth scaled by 100 (200 means an
	// average of two runnable tasks).
	RunQueue uint
}

// Default thresholds, per unit position.
const (
	defaultUpLoad    = 65
	defaultDownLoad  = 30
	defaultUpFreq    = 702000
	defaultDownFreq  = 486000
	defaultRunQueue  = 200
	steepestRunQueue = 300
)

// Policy is the per-unit, per-direction threshold table. Guarded by the
// governor's loop lock.
type Policy struct {
	entries [][2]PolicyEntry
}

// NewDefaultPolicy builds the threshold table for numUnits units. The
// down-entry of unit 0 and the up-entry of the highest unit stay neutral:
// unit 0 can never be taken offline and the highest unit has no further
// unit to bring up.
func NewDefaultPolicy(numUnits int) *Policy {
	p := &Policy{entries: make([][2]PolicyEntry, numUnits)}
	for unit := 0; unit < numUnits; unit++ {
		if unit > 0 {
			downRQ := uint(defaultRunQueue)
			if unit == numUnits-1 {
				downRQ = steepestRunQueue
			}
			p.entries[unit][Down] = PolicyEntry{
				Load:     defaultDownLoad,
				FreqKHz:  defaultDownFreq,
				RunQueue: downRQ,
			}
		}
		if unit < numUnits-1 {
			upRQ := uint(defaultRunQueue)
			if unit == numUnits-2 {
				upRQ = steepestRunQueue
			}
			p.entries[unit][Up] = PolicyEntry{
				Load:     defaultUpLoad,
				FreqKHz:  defaultUpFreq,
				RunQueue: upRQ,
			}
		}
	}
	return p
}

// neutral reports whether the (unit, direction) pair has no meaning and its
// entry is fixed.
func (p *Policy) neutral(unit int, dir Direction) bool {
	return (unit == 0 && dir == Down) || (unit == len(p.entries)-1 && dir == Up)
}

func (p *Policy) get(unit int, dir Direction) PolicyEntry {
	return p.entries[unit][dir]
}

// set stores thresholds for a (unit, direction) pair, clamping load into
// 0..100. Writes to neutral entries are dropped.
func (p *Policy) set(unit int, dir Direction, e PolicyEntry) {
	if p.neutral(unit, dir) {
		return
	}
	if e.Load < 0 {
		e.Load = 0
	}
	if e.Load > 100 {
		e.Load = 100
	}
	p.entries[unit][dir] = e
}
