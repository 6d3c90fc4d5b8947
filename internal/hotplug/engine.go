package hotplug

import "time"

// loadUnknown marks a cycle where a unit's load could not be computed
// (offline unit, stale window or failed read). Unknown load excludes the
// unit from selection for that cycle.
const loadUnknown = -1

// cycleLocked runs one decision cycle. Caller holds the loop lock.
//
// The scan visits units in increasing index order and decides at most one
// activation and one deactivation per cycle. Deactivation acts eagerly on
// the first qualifying unit; activation is chosen during the scan but bound
// to the first offline unit encountered afterwards. A disagreement between
// tracked and ground-truth online state discards the cycle's selections and
// resynchronizes the whole table instead.
func (g *Governor) cycleLocked() {
	g.cycleCount++
	checkUp := g.cycleCount%g.tun.UpRate == 0
	checkDown := g.cycleCount%g.tun.DownRate == 0

	rqAvg := g.rq.Consume()
	g.lastRQAvg = rqAvg

	numUnits := len(g.track.units)
	upLimit := g.tun.MaxCoresLimit
	downLimit := downCoresLimit(g.tun.MaxCoresLimit, numUnits)
	online := numOnline(g.source, numUnits)

	upBudget, downBudget := 1, 1
	upSource := noUnit
	resync := false
	dispatchOnline, dispatchOffline := false, false

	for unit := 0; unit < numUnits; unit++ {
		st := &g.track.units[unit]

		curWall := g.clk.Now()
		curIdle, idleErr := g.readIdle(unit)
		wallDelta, idleDelta := g.track.busyWindow(unit, curWall, curIdle)

		unitOnline := g.source.IsOnline(unit)
		if st.online != unitOnline {
			resync = true
		} else if !unitOnline {
			st.eligibleForUp = true
			if st.broughtUpBy != noUnit {
				g.track.units[st.broughtUpBy].eligibleForUp = true
				st.broughtUpBy = noUnit
			}
		}
		if resync {
			continue
		}

		load := loadUnknown
		var freq uint
		if idleErr == nil && wallDelta >= idleDelta && unitOnline {
			// a failed frequency read leaves the whole sample unknown; a
			// 0 kHz default would trivially satisfy the frequency floor
			if f, err := g.source.Frequency(unit); err == nil {
				freq = f
				if wallDelta > idleDelta {
					load = int(100 * (wallDelta - idleDelta) / wallDelta)
				} else {
					load = 0
				}
			}
		}
		st.lastLoad = load
		st.lastFreq = freq

		if checkUp && unit < upLimit-1 && st.eligibleForUp && upBudget > 0 && unitOnline {
			up := g.policy.get(unit, Up)
			if load >= up.Load && freq >= up.FreqKHz && rqAvg > up.RunQueue {
				upBudget--
				st.eligibleForUp = false
				upSource = unit
			}
		}

		if checkDown && unit > downLimit && unitOnline && downBudget > 0 && load >= 0 {
			down := g.policy.get(unit, Down)
			if (online > 1 && load < down.Load) ||
				(freq <= down.FreqKHz && rqAvg <= down.RunQueue) {
				st.online = false
				downBudget--
				dispatchOffline = true
				g.log.V(5).Info("unit selected for deactivation",
					"unit", unit, "load", load, "freq", freq, "rqAvg", rqAvg)
			}
		}

		// bind the pending activation to the first offline unit within the
		// core limit
		if upBudget == 0 && !unitOnline && unit < upLimit {
			st.online = true
			st.broughtUpBy = upSource
			upBudget--
			dispatchOnline = true
			g.log.V(5).Info("unit selected for activation",
				"unit", unit, "source", upSource, "rqAvg", rqAvg)
		}
	}

	if resync {
		g.track.resyncAll(g.source.IsOnline)
		g.resyncCount++
		dispatchOnline, dispatchOffline = false, false
		g.log.V(5).Info("external hotplug detected, tracker resynced")
	}

	if g.cycleCount >= max(g.tun.UpRate, g.tun.DownRate) {
		g.cycleCount = 0
	}

	if online == 1 {
		g.track.units[0].eligibleForUp = true
	}

	if dispatchOnline {
		g.exec.signalOnline()
	}
	if dispatchOffline {
		g.exec.signalOffline()
	}
}

// readIdle returns a unit's cumulative idle time with I/O wait folded in.
func (g *Governor) readIdle(unit int) (time.Duration, error) {
	idle, err := g.source.IdleTime(unit)
	if err != nil {
		return 0, err
	}
	iowait, err := g.source.IOWaitTime(unit)
	if err != nil {
		return 0, err
	}
	return idle + iowait, nil
}
