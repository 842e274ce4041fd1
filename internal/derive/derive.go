// Package derive computes readings that need arithmetic across snapshot sections.
package derive

import (
	"fmt"
	"math"
	"strings"

	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/entity"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/sonnen"
)

// Capacity sensor id suffixes
const (
	SensorTotalCapacityReal       = "state_total_capacity_real"
	SensorTotalCapacityUsable     = "state_total_capacity_usable"
	SensorRemainingCapacityReal   = "state_remaining_capacity_real"
	SensorRemainingCapacityUsable = "state_remaining_capacity_usable"
)

// MeterFields are the per-phase power meter values published for every meter
var MeterFields = []string{
	"a_l1", "a_l2", "a_l3",
	"v_l1_l2", "v_l1_n", "v_l2_l3", "v_l2_n", "v_l3_l1", "v_l3_n",
	"w_l1", "w_l2", "w_l3",
	"w_total",
}

var (
	pathCapacityPerModule = []string{sonnen.SectionBatterySystem, "battery_system", "system", "storage_capacity_per_module"}
	pathModules           = []string{sonnen.SectionBatterySystem, "modules"}
	pathBackupBuffer      = []string{sonnen.SectionStatus, "BackupBuffer"}
	pathRSOC              = []string{sonnen.SectionStatus, "RSOC"}
)

// CalculationError reports a missing or invalid input field.
// It aborts the derived readings of one cycle only.
type CalculationError struct {
	Field string
	Err   error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculate from %s: %v", e.Field, e.Err)
}

func (e *CalculationError) Unwrap() error {
	return e.Err
}

// Capacity holds the battery capacity figures in Wh
type Capacity struct {
	TotalInstalled  int64
	Usable          int64
	RemainingReal   int64
	RemainingUsable int64
}

// Compute returns the capacity and power meter readings for snap.
// Either every derived reading is returned or none.
func Compute(snap *sonnen.Snapshot, ns *entity.Namespace) ([]entity.Reading, error) {
	prefix, err := ns.Prefix()
	if err != nil {
		return nil, err
	}

	capacity, err := ComputeCapacity(snap)
	if err != nil {
		return nil, err
	}

	readings := []entity.Reading{
		{ID: prefix + SensorTotalCapacityReal, Name: "Total Capacity Real", Value: capacity.TotalInstalled, Unit: "Wh", Class: entity.ClassEnergy},
		{ID: prefix + SensorTotalCapacityUsable, Name: "Total Capacity Usable", Value: capacity.Usable, Unit: "Wh", Class: entity.ClassEnergy},
		{ID: prefix + SensorRemainingCapacityReal, Name: "Remaining Capacity Real", Value: capacity.RemainingReal, Unit: "Wh", Class: entity.ClassEnergy},
		{ID: prefix + SensorRemainingCapacityUsable, Name: "Remaining Capacity Usable", Value: capacity.RemainingUsable, Unit: "Wh", Class: entity.ClassEnergy},
	}

	meters, err := MeterReadings(snap.PowerMeter, prefix)
	if err != nil {
		return nil, err
	}
	return append(readings, meters...), nil
}

// ComputeCapacity derives installed, usable and remaining capacity.
// Results are truncated to whole Wh.
func ComputeCapacity(snap *sonnen.Snapshot) (Capacity, error) {
	perModule, err := number(snap, pathCapacityPerModule)
	if err != nil {
		return Capacity{}, err
	}
	modules, err := number(snap, pathModules)
	if err != nil {
		return Capacity{}, err
	}
	backupBuffer, err := number(snap, pathBackupBuffer)
	if err != nil {
		return Capacity{}, err
	}
	rsoc, err := number(snap, pathRSOC)
	if err != nil {
		return Capacity{}, err
	}

	total := int64(modules) * int64(perModule)
	restricted := float64(total) * (backupBuffer / 100)
	remaining := float64(total) * (rsoc / 100)

	return Capacity{
		TotalInstalled:  total,
		Usable:          int64(float64(total) - restricted),
		RemainingReal:   int64(remaining),
		RemainingUsable: int64(remaining - restricted),
	}, nil
}

// MeterReadings publishes MeterFields for every power meter record
func MeterReadings(meters []any, prefix string) ([]entity.Reading, error) {
	var readings []entity.Reading
	for i, raw := range meters {
		meter, ok := raw.(map[string]any)
		if !ok {
			return nil, &CalculationError{
				Field: fmt.Sprintf("%s/%d", sonnen.SectionPowerMeter, i),
				Err:   fmt.Errorf("unexpected record type %T", raw),
			}
		}

		direction, err := meterLabel(meter, i, "direction")
		if err != nil {
			return nil, err
		}
		deviceID, err := meterLabel(meter, i, "deviceid")
		if err != nil {
			return nil, err
		}
		channel, err := meterLabel(meter, i, "channel")
		if err != nil {
			return nil, err
		}
		base := strings.ToLower(fmt.Sprintf("%smeter_%s_%s_%s", prefix, direction, deviceID, channel))

		for _, field := range MeterFields {
			v, ok := meter[field]
			if !ok {
				return nil, &CalculationError{
					Field: fmt.Sprintf("%s/%d/%s", sonnen.SectionPowerMeter, i, field),
					Err:   fmt.Errorf("field not found"),
				}
			}
			f, err := sonnen.Float(v)
			if err != nil {
				return nil, &CalculationError{Field: fmt.Sprintf("%s/%d/%s", sonnen.SectionPowerMeter, i, field), Err: err}
			}

			unit := strings.ToUpper(field[:1])
			readings = append(readings, entity.Reading{
				ID:    base + "_" + field,
				Name:  fmt.Sprintf("%s %s", direction, field),
				Value: math.Round(f*100) / 100,
				Unit:  unit,
				Class: meterClass(unit),
			})
		}
	}
	return readings, nil
}

func meterClass(unit string) string {
	switch unit {
	case "V":
		return entity.ClassVoltage
	case "A":
		return entity.ClassCurrent
	default:
		return entity.ClassPower
	}
}

func meterLabel(meter map[string]any, i int, key string) (string, error) {
	v, ok := meter[key]
	if !ok {
		return "", &CalculationError{
			Field: fmt.Sprintf("%s/%d/%s", sonnen.SectionPowerMeter, i, key),
			Err:   fmt.Errorf("field not found"),
		}
	}
	if f, isFloat := v.(float64); isFloat && f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f)), nil
	}
	return fmt.Sprint(v), nil
}

func number(snap *sonnen.Snapshot, path []string) (float64, error) {
	field := strings.Join(path, "/")
	raw, _, ok := snap.Lookup(path)
	if !ok {
		return 0, &CalculationError{Field: field, Err: fmt.Errorf("field not found")}
	}
	f, err := sonnen.Float(raw)
	if err != nil {
		return 0, &CalculationError{Field: field, Err: err}
	}
	return f, nil
}
