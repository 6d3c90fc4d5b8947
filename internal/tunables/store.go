// Package tunables exposes the governor's parameters as a flat set of
// named, individually readable and writable values, and binds them to a
// viper-backed configuration file with live reload.
package tunables

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/spf13/viper"

	"github.com/coregov/coregov/internal/hotplug"
)

// Global parameter names.
const (
	KeySamplingRate  = "sampling_rate"
	KeyEnable        = "enable"
	KeyUpRate        = "up_rate"
	KeyDownRate      = "down_rate"
	KeyMaxCoresLimit = "max_cores_limit"
)

// Per-unit threshold name prefixes; full names are "<prefix>_<unit>_<up|down>",
// e.g. "load_1_up" or "freq_2_down".
const (
	prefixLoad = "load"
	prefixFreq = "freq"
	prefixRQ   = "rq"
)

// Store translates named string parameters into typed governor writes.
// Unknown names and unparsable values are rejected with the prior state
// unchanged; out-of-range values are clamped by the governor itself.
type Store struct {
	gov *hotplug.Governor
	log logr.Logger
}

func NewStore(gov *hotplug.Governor, log logr.Logger) *Store {
	return &Store{gov: gov, log: log.WithName("tunables")}
}

// Set parses value and applies it to the named parameter.
func (s *Store) Set(name, value string) error {
	switch name {
	case KeySamplingRate:
		period, err := parsePeriod(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		s.gov.SetSamplingPeriod(period)
	case KeyEnable:
		enable, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		s.gov.SetEnabled(enable)
	case KeyUpRate:
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		s.gov.SetUpRate(rate)
	case KeyDownRate:
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		s.gov.SetDownRate(rate)
	case KeyMaxCoresLimit:
		limit, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		s.gov.SetMaxCoresLimit(limit)
	default:
		return s.setThreshold(name, value)
	}
	return nil
}

// Get returns the named parameter's current value as a string.
func (s *Store) Get(name string) (string, error) {
	tun := s.gov.Tunables()

	switch name {
	case KeySamplingRate:
		return tun.SamplingPeriod.String(), nil
	case KeyEnable:
		return strconv.FormatBool(s.gov.Enabled()), nil
	case KeyUpRate:
		return strconv.Itoa(tun.UpRate), nil
	case KeyDownRate:
		return strconv.Itoa(tun.DownRate), nil
	case KeyMaxCoresLimit:
		return strconv.Itoa(tun.MaxCoresLimit), nil
	}

	prefix, unit, dir, err := parseThresholdName(name)
	if err != nil {
		return "", err
	}
	entry, err := s.gov.PolicyFor(unit, dir)
	if err != nil {
		return "", err
	}
	switch prefix {
	case prefixLoad:
		return strconv.Itoa(entry.Load), nil
	case prefixFreq:
		return strconv.FormatUint(uint64(entry.FreqKHz), 10), nil
	default:
		return strconv.FormatUint(uint64(entry.RunQueue), 10), nil
	}
}

func (s *Store) setThreshold(name, value string) error {
	prefix, unit, dir, err := parseThresholdName(name)
	if err != nil {
		return err
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if parsed < 0 {
		parsed = 0
	}

	entry, err := s.gov.PolicyFor(unit, dir)
	if err != nil {
		return err
	}
	switch prefix {
	case prefixLoad:
		entry.Load = parsed
	case prefixFreq:
		entry.FreqKHz = uint(parsed)
	default:
		entry.RunQueue = uint(parsed)
	}
	return s.gov.SetPolicy(unit, dir, entry)
}

func parseThresholdName(name string) (prefix string, unit int, dir hotplug.Direction, err error) {
	parts := strings.Split(name, "_")
	if len(parts) != 3 {
		return "", 0, 0, fmt.Errorf("unknown tunable %q", name)
	}

	prefix = parts[0]
	if prefix != prefixLoad && prefix != prefixFreq && prefix != prefixRQ {
		return "", 0, 0, fmt.Errorf("unknown tunable %q", name)
	}

	unit, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, fmt.Errorf("unknown tunable %q", name)
	}

	switch parts[2] {
	case "up":
		dir = hotplug.Up
	case "down":
		dir = hotplug.Down
	default:
		return "", 0, 0, fmt.Errorf("unknown tunable %q", name)
	}
	return prefix, unit, dir, nil
}

// parsePeriod accepts a duration string ("60ms") or a bare integer in
// milliseconds.
func parsePeriod(value string) (time.Duration, error) {
	if msec, err := strconv.Atoi(value); err == nil {
		return time.Duration(msec) * time.Millisecond, nil
	}
	return time.ParseDuration(value)
}

// Load applies every key of the given viper configuration. The enable flag
// is applied last so thresholds and rates are in place before the first
// cycle runs.
func (s *Store) Load(v *viper.Viper) error {
	keys := v.AllKeys()
	sort.Strings(keys)

	enableValue := ""
	for _, key := range keys {
		value := v.GetString(key)
		if key == KeyEnable {
			enableValue = value
			continue
		}
		if err := s.Set(key, value); err != nil {
			return err
		}
	}

	if enableValue != "" {
		return s.Set(KeyEnable, enableValue)
	}
	return nil
}

// Watch re-applies the configuration whenever the backing file changes.
// Application errors are logged, not fatal; the prior state stays in
// effect for the offending key onwards.
func (s *Store) Watch(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		s.log.V(5).Info("config changed", "file", e.Name, "op", e.Op.String())
		if err := s.Load(v); err != nil {
			s.log.Error(err, "failed to apply updated config")
		}
	})
	v.WatchConfig()
}
