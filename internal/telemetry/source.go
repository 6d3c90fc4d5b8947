package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	procStatPath    = "/proc/stat"
	procLoadavgPath = "/proc/loadavg"
	sysCPUBasePath  = "/sys/devices/system/cpu"

	// procfs reports cputime in USER_HZ ticks.
	clockTick = 10 * time.Millisecond
)

// Source exposes the per-unit statistics the governor consumes. All reads
// are best-effort telemetry; callers treat a failed read as an unknown
// sample rather than an error condition.
type Source interface {
	// NumUnits returns the number of possible processing units, online or not.
	NumUnits() int
	// IdleTime returns the cumulative idle time of a unit.
	IdleTime(unit int) (time.Duration, error)
	// IOWaitTime returns the cumulative I/O-wait time of a unit.
	IOWaitTime(unit int) (time.Duration, error)
	// Frequency returns the current clock frequency of a unit in kHz.
	Frequency(unit int) (uint, error)
	// IsOnline reports whether a unit is currently online.
	IsOnline(unit int) bool
	// RunQueueLen returns the number of currently runnable tasks system-wide.
	RunQueueLen() (uint, error)
}

// Func definitions for unit testing
var (
	procStatPathFunc     = func() string { return procStatPath }
	procLoadavgPathFunc  = func() string { return procLoadavgPath }
	sysCPUPathFunc       = getSysCPUPath
	sysCPUPossiblePathFn = func() string { return filepath.Join(sysCPUBasePath, "possible") }
)

func getSysCPUPath(unit int, resource string) string {
	return filepath.Join(sysCPUBasePath, fmt.Sprintf("cpu%d", unit), resource)
}

type procfsSource struct {
	numUnits int
}

// NewProcfsSource returns a Source backed by procfs and sysfs. The possible
// unit count is read once at construction; the topology of possible units
// does not change at runtime.
func NewProcfsSource() (Source, error) {
	numUnits, err := readPossibleUnits()
	if err != nil {
		return nil, fmt.Errorf("failed to read possible cpu range: %w", err)
	}

	return &procfsSource{numUnits: numUnits}, nil
}

func readPossibleUnits() (int, error) {
	data, err := os.ReadFile(sysCPUPossiblePathFn())
	if err != nil {
		return 0, err
	}

	// format is a range list, e.g. "0-3" or "0"
	rangeStr := strings.TrimSpace(string(data))
	last := rangeStr
	if idx := strings.LastIndexAny(rangeStr, "-,"); idx >= 0 {
		last = rangeStr[idx+1:]
	}

	highest, err := strconv.Atoi(last)
	if err != nil {
		return 0, fmt.Errorf("unexpected cpu range %q: %w", rangeStr, err)
	}

	return highest + 1, nil
}

func (s *procfsSource) NumUnits() int {
	return s.numUnits
}

func (s *procfsSource) IdleTime(unit int) (time.Duration, error) {
	return s.readStatField(unit, 3)
}

func (s *procfsSource) IOWaitTime(unit int) (time.Duration, error) {
	return s.readStatField(unit, 4)
}

// readStatField returns the cputime field at index for a unit's row in
// /proc/stat. Row format: "cpuN user nice system idle iowait irq softirq ...".
func (s *procfsSource) readStatField(unit int, index int) (time.Duration, error) {
	data, err := os.ReadFile(procStatPathFunc())
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", procStatPath, err)
	}

	prefix := fmt.Sprintf("cpu%d ", unit)
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, prefix) {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) <= index+1 {
			return 0, fmt.Errorf("truncated stat line for cpu %d", unit)
		}

		ticks, err := strconv.ParseUint(fields[index+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse stat field for cpu %d: %w", unit, err)
		}

		return time.Duration(ticks) * clockTick, nil
	}

	// an offline unit has no row in /proc/stat
	return 0, fmt.Errorf("no stat entry for cpu %d", unit)
}

func (s *procfsSource) Frequency(unit int) (uint, error) {
	freqPath := sysCPUPathFunc(unit, filepath.Join("cpufreq", "scaling_cur_freq"))

	freqData, err := os.ReadFile(freqPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read current frequency for cpu %d: %w", unit, err)
	}

	freqStr := strings.TrimSpace(string(freqData))
	freq, err := strconv.ParseUint(freqStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to convert frequency for cpu %d to uint: %w", unit, err)
	}

	return uint(freq), nil
}

func (s *procfsSource) IsOnline(unit int) bool {
	onlineData, err := os.ReadFile(sysCPUPathFunc(unit, "online"))
	if err != nil {
		// cpu0 is not hotpluggable and has no online file
		return unit == 0
	}

	return strings.TrimSpace(string(onlineData)) == "1"
}

func (s *procfsSource) RunQueueLen() (uint, error) {
	data, err := os.ReadFile(procLoadavgPathFunc())
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", procLoadavgPath, err)
	}

	// fourth field is "runnable/total"
	fields := strings.Fields(string(data))
	if len(fields) < 4 {
		return 0, fmt.Errorf("truncated loadavg data")
	}

	runnableStr, _, found := strings.Cut(fields[3], "/")
	if !found {
		return 0, fmt.Errorf("unexpected loadavg field %q", fields[3])
	}

	runnable, err := strconv.ParseUint(runnableStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse runnable count: %w", err)
	}

	return uint(runnable), nil
}
