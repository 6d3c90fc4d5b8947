package tunables

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/juju/clock/testclock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregov/coregov/internal/hotplug"
)

type staticSystem struct {
	numUnits int
}

func (s *staticSystem) NumUnits() int                         { return s.numUnits }
func (s *staticSystem) IdleTime(int) (time.Duration, error)   { return 0, nil }
func (s *staticSystem) IOWaitTime(int) (time.Duration, error) { return 0, nil }
func (s *staticSystem) Frequency(int) (uint, error)           { return 998400, nil }
func (s *staticSystem) IsOnline(unit int) bool                { return unit == 0 }
func (s *staticSystem) RunQueueLen() (uint, error)            { return 0, nil }
func (s *staticSystem) SetOnline(int) error                   { return nil }
func (s *staticSystem) SetOffline(int) error                  { return nil }

func newTestStore(t *testing.T) (*Store, *hotplug.Governor) {
	t.Helper()

	sys := &staticSystem{numUnits: 4}
	gov := hotplug.NewGovernor(hotplug.Config{
		Source:             sys,
		Actuator:           sys,
		Clock:              testclock.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		Log:                logr.Discard(),
		RunQueueUpdateRate: time.Hour,
	})
	t.Cleanup(gov.Close)

	return NewStore(gov, logr.Discard()), gov
}

func TestStoreGlobalTunables(t *testing.T) {
	store, gov := newTestStore(t)

	require.NoError(t, store.Set(KeyUpRate, "5"))
	require.NoError(t, store.Set(KeyDownRate, "100")) // clamped
	require.NoError(t, store.Set(KeyMaxCoresLimit, "2"))
	require.NoError(t, store.Set(KeySamplingRate, "30ms"))

	tun := gov.Tunables()
	assert.Equal(t, 5, tun.UpRate)
	assert.Equal(t, 40, tun.DownRate)
	assert.Equal(t, 2, tun.MaxCoresLimit)
	assert.Equal(t, 30*time.Millisecond, tun.SamplingPeriod)

	// bare integers are milliseconds, clamped to the 10ms floor
	require.NoError(t, store.Set(KeySamplingRate, "5"))
	assert.Equal(t, 10*time.Millisecond, gov.Tunables().SamplingPeriod)

	require.NoError(t, store.Set(KeyEnable, "true"))
	assert.True(t, gov.Enabled())
	require.NoError(t, store.Set(KeyEnable, "false"))
	assert.False(t, gov.Enabled())
}

func TestStoreThresholds(t *testing.T) {
	store, gov := newTestStore(t)

	require.NoError(t, store.Set("load_1_up", "70"))
	require.NoError(t, store.Set("freq_1_up", "810000"))
	require.NoError(t, store.Set("rq_2_down", "250"))

	entry, err := gov.PolicyFor(1, hotplug.Up)
	require.NoError(t, err)
	assert.Equal(t, 70, entry.Load)
	assert.Equal(t, uint(810000), entry.FreqKHz)

	entry, err = gov.PolicyFor(2, hotplug.Down)
	require.NoError(t, err)
	assert.Equal(t, uint(250), entry.RunQueue)

	value, err := store.Get("load_1_up")
	require.NoError(t, err)
	assert.Equal(t, "70", value)

	// writes to the fixed neutral entries are dropped
	require.NoError(t, store.Set("load_0_down", "50"))
	entry, err = gov.PolicyFor(0, hotplug.Down)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Load)
}

func TestStoreRejectsMalformedWrites(t *testing.T) {
	store, gov := newTestStore(t)
	before := gov.Tunables()

	assert.Error(t, store.Set(KeyUpRate, "lots"))
	assert.Error(t, store.Set(KeyEnable, "maybe"))
	assert.Error(t, store.Set(KeySamplingRate, "fast"))
	assert.Error(t, store.Set("load_1_up", "heavy"))
	assert.Error(t, store.Set("load_9_up", "50"))
	assert.Error(t, store.Set("bogus", "1"))
	assert.Error(t, store.Set("load_1_sideways", "1"))

	assert.Equal(t, before, gov.Tunables(), "rejected writes leave state unchanged")
	assert.False(t, gov.Enabled())
}

func TestStoreGet(t *testing.T) {
	store, _ := newTestStore(t)

	for name, want := range map[string]string{
		KeySamplingRate:  "60ms",
		KeyEnable:        "false",
		KeyUpRate:        "10",
		KeyDownRate:      "20",
		KeyMaxCoresLimit: "4",
	} {
		value, err := store.Get(name)
		require.NoError(t, err)
		assert.Equal(t, want, value, name)
	}

	_, err := store.Get("bogus")
	assert.Error(t, err)
}

func TestStoreLoadAppliesEnableLast(t *testing.T) {
	store, gov := newTestStore(t)

	v := viper.New()
	v.Set(KeyEnable, "true")
	v.Set(KeyUpRate, "4")
	v.Set("load_1_up", "80")

	require.NoError(t, store.Load(v))

	assert.True(t, gov.Enabled())
	assert.Equal(t, 4, gov.Tunables().UpRate)
	entry, err := gov.PolicyFor(1, hotplug.Up)
	require.NoError(t, err)
	assert.Equal(t, 80, entry.Load)
}
