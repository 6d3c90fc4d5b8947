package telemetry

import (
	"errors"
	"fmt"
	"os"
)

// ErrUnitNotHotpluggable is returned when a transition is requested for a
// unit that cannot be taken offline (unit 0).
var ErrUnitNotHotpluggable = errors.New("unit is not hotpluggable")

// Actuator performs the actual online/offline transition for a unit. Both
// operations are idempotent: requesting the state a unit is already in is a
// no-op.
type Actuator interface {
	SetOnline(unit int) error
	SetOffline(unit int) error
}

type sysfsActuator struct {
	source Source
}

// NewSysfsActuator returns an Actuator that drives unit transitions through
// the sysfs online attribute. The source is consulted first so redundant
// writes are skipped.
func NewSysfsActuator(source Source) Actuator {
	return &sysfsActuator{source: source}
}

func (a *sysfsActuator) SetOnline(unit int) error {
	if a.source.IsOnline(unit) {
		return nil
	}
	return a.writeOnline(unit, "1")
}

func (a *sysfsActuator) SetOffline(unit int) error {
	if unit == 0 {
		return fmt.Errorf("cannot take cpu 0 offline: %w", ErrUnitNotHotpluggable)
	}
	if !a.source.IsOnline(unit) {
		return nil
	}
	return a.writeOnline(unit, "0")
}

func (a *sysfsActuator) writeOnline(unit int, value string) error {
	onlinePath := sysCPUPathFunc(unit, "online")
	if err := os.WriteFile(onlinePath, []byte(value), 0644); err != nil {
		return fmt.Errorf("failed to write online state for cpu %d: %w", unit, err)
	}
	return nil
}
