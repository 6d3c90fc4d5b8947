package hotplug

import "time"

// Tunable clamps.
const (
	// MinSamplingPeriod is the shortest allowed decision interval.
	MinSamplingPeriod = 10 * time.Millisecond
	// MinRate and MaxRate bound the up/down cycle-count divisors.
	MinRate = 1
	MaxRate = 40
)

// Defaults match the historical governor configuration.
const (
	DefaultSamplingPeriod     = 60 * time.Millisecond
	DefaultUpRate             = 10
	DefaultDownRate           = 20
	DefaultRunQueueUpdateRate = 10 * time.Millisecond
)

// Tunables are the global controller parameters. They are read by the
// decision loop under the loop lock; writes go through the governor's
// setters, which clamp out-of-range values and ignore same-value writes.
type Tunables struct {
	// SamplingPeriod is the interval between decision cycles.
	SamplingPeriod time.Duration
	// UpRate permits an up-decision every UpRate cycles.
	UpRate int
	// DownRate permits a down-decision every DownRate cycles.
	DownRate int
	// MaxCoresLimit bounds the highest unit index eligible for activation.
	MaxCoresLimit int
}

func defaultTunables(numUnits int) Tunables {
	return Tunables{
		SamplingPeriod: DefaultSamplingPeriod,
		UpRate:         DefaultUpRate,
		DownRate:       DefaultDownRate,
		MaxCoresLimit:  numUnits,
	}
}

func clampRate(rate int) int {
	if rate < MinRate {
		return MinRate
	}
	if rate > MaxRate {
		return MaxRate
	}
	return rate
}

func clampCoresLimit(limit, numUnits int) int {
	if limit < 1 {
		return 1
	}
	if limit > numUnits {
		return numUnits
	}
	return limit
}

func clampSamplingPeriod(period time.Duration) time.Duration {
	if period < MinSamplingPeriod {
		return MinSamplingPeriod
	}
	return period
}

// downCoresLimit derives the lowest unit index exempt from deactivation.
// With the core limit at the unit count any unit except 0 may be taken
// down; otherwise units below the limit are pinned.
func downCoresLimit(maxCoresLimit, numUnits int) int {
	if maxCoresLimit == numUnits {
		return 0
	}
	return maxCoresLimit - 1
}
