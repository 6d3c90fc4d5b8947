package hotplug

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLiveGovernor keeps the executor worker running, for tests that
// exercise the real lifecycle paths.
func newLiveGovernor(t *testing.T, sys *fakeSystem) (*Governor, *testclock.Clock) {
	t.Helper()

	clk := testclock.NewClock(testStart)
	g := NewGovernor(Config{
		Source:             sys,
		Actuator:           sys,
		Clock:              clk,
		Log:                logr.Discard(),
		RunQueueUpdateRate: time.Hour,
	})
	t.Cleanup(g.Close)
	return g, clk
}

func TestSetEnabled_SchedulesFirstCycle(t *testing.T) {
	sys := newFakeSystem(4)
	g, _ := newLiveGovernor(t, sys)

	g.SetEnabled(true)

	assert.True(t, g.Enabled())
	g.mu.Lock()
	assert.Equal(t, testStart.Add(DefaultSamplingPeriod), g.deadline)
	assert.Equal(t, 0, g.cycleCount)
	g.mu.Unlock()
}

func TestSetEnabled_SameValueIsNoOp(t *testing.T) {
	sys := newFakeSystem(4)
	g, _ := newLiveGovernor(t, sys)

	g.SetEnabled(true)
	g.mu.Lock()
	g.cycleCount = 5
	g.track.units[1].eligibleForUp = false
	g.mu.Unlock()

	g.SetEnabled(true)

	g.mu.Lock()
	assert.Equal(t, 5, g.cycleCount, "re-enable must not reset the cycle counter")
	assert.False(t, g.track.units[1].eligibleForUp, "re-enable must not rebaseline the tracker")
	g.mu.Unlock()

	g.SetEnabled(false)
	offlined := len(sys.offlineCalls)
	g.SetEnabled(false)
	assert.Len(t, sys.offlineCalls, offlined, "re-disable must not issue transitions")
}

func TestSetEnabled_DisableForcesUnitsOffline(t *testing.T) {
	sys := newFakeSystem(4)
	sys.setUnitsOnline(0, 1, 2, 3)
	g, _ := newLiveGovernor(t, sys)

	g.SetEnabled(true)
	g.SetEnabled(false)

	assert.Equal(t, []int{1, 2, 3}, sys.offlineCalls)
	assert.NotContains(t, sys.offlineCalls, 0)
	assert.False(t, g.Enabled())
}

func TestSetEnabled_DisableDiscardsPendingActivation(t *testing.T) {
	sys := newFakeSystem(4)
	g, clk := newTestGovernor(t, sys)
	g.SetUpRate(1)
	enableForTest(g)

	// unit 0 saturated: the cycle dispatches an activation for unit 1
	clk.Advance(DefaultSamplingPeriod)
	setRQAvg(g, 300)
	stepCycle(g)
	require.Len(t, g.exec.onlineWork, 1)

	g.SetEnabled(false)

	// the worker draining after disable must find nothing to do
	g.exec.bringOnline()
	g.exec.takeOffline()

	assert.Empty(t, sys.onlineCalls, "no activation may land after disable")
	assert.False(t, g.track.units[1].online)
	assert.Empty(t, g.exec.onlineWork)
}

func TestSetSamplingPeriod_ShorteningReschedulesPendingCycle(t *testing.T) {
	sys := newFakeSystem(4)
	g, clk := newLiveGovernor(t, sys)

	g.SetSamplingPeriod(60 * time.Second)
	g.SetEnabled(true)

	// 10s into a 60s window, 50s still to go
	clk.Advance(10 * time.Second)
	g.SetSamplingPeriod(10 * time.Second)

	g.mu.Lock()
	assert.Equal(t, testStart.Add(20*time.Second), g.deadline)
	g.mu.Unlock()
}

func TestSetSamplingPeriod_LengtheningNeverPreempts(t *testing.T) {
	sys := newFakeSystem(4)
	g, clk := newLiveGovernor(t, sys)

	g.SetSamplingPeriod(60 * time.Second)
	g.SetEnabled(true)

	clk.Advance(10 * time.Second)
	g.SetSamplingPeriod(120 * time.Second)

	g.mu.Lock()
	assert.Equal(t, testStart.Add(60*time.Second), g.deadline,
		"pending cycle keeps its original deadline")
	g.mu.Unlock()
}

func TestSetSamplingPeriod_ClampsToMinimum(t *testing.T) {
	sys := newFakeSystem(4)
	g, _ := newLiveGovernor(t, sys)

	g.SetSamplingPeriod(time.Millisecond)
	assert.Equal(t, MinSamplingPeriod, g.Tunables().SamplingPeriod)
}

func TestRateAndLimitClamps(t *testing.T) {
	sys := newFakeSystem(4)
	g, _ := newLiveGovernor(t, sys)

	g.SetUpRate(0)
	g.SetDownRate(100)
	g.SetMaxCoresLimit(0)

	tun := g.Tunables()
	assert.Equal(t, MinRate, tun.UpRate)
	assert.Equal(t, MaxRate, tun.DownRate)
	assert.Equal(t, 1, tun.MaxCoresLimit)

	g.SetMaxCoresLimit(9)
	assert.Equal(t, 4, g.Tunables().MaxCoresLimit)
}

func TestSetPolicy(t *testing.T) {
	sys := newFakeSystem(4)
	g, _ := newLiveGovernor(t, sys)

	require.NoError(t, g.SetPolicy(1, Up, PolicyEntry{Load: 150, FreqKHz: 800000, RunQueue: 250}))
	entry, err := g.PolicyFor(1, Up)
	require.NoError(t, err)
	assert.Equal(t, PolicyEntry{Load: 100, FreqKHz: 800000, RunQueue: 250}, entry)

	// neutral entries are fixed
	require.NoError(t, g.SetPolicy(0, Down, PolicyEntry{Load: 50}))
	entry, err = g.PolicyFor(0, Down)
	require.NoError(t, err)
	assert.Equal(t, PolicyEntry{}, entry)

	assert.Error(t, g.SetPolicy(7, Up, PolicyEntry{}))
	_, err = g.PolicyFor(-1, Down)
	assert.Error(t, err)
}

func TestStatusSnapshot(t *testing.T) {
	sys := newFakeSystem(4)
	sys.setUnitsOnline(0, 1)
	g, _ := newLiveGovernor(t, sys)

	g.SetEnabled(true)

	status := g.Status()
	assert.True(t, status.Enabled)
	require.Len(t, status.Units, 4)
	assert.True(t, status.Units[0].Online)
	assert.True(t, status.Units[1].Online)
	assert.False(t, status.Units[2].Online)
	assert.Equal(t, -1, status.Units[0].Load, "load unknown before the first cycle")
}

func TestGovernorCycleFiresOnTimer(t *testing.T) {
	sys := newFakeSystem(4)
	g, clk := newLiveGovernor(t, sys)

	g.SetEnabled(true)

	// two waiters: the cycle timer and the averager's tick
	require.NoError(t, clk.WaitAdvance(DefaultSamplingPeriod, time.Second, 2))

	assert.Eventually(t, func() bool {
		return g.Status().CycleCount == 1
	}, time.Second, 5*time.Millisecond)
}
