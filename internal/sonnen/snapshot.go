package sonnen

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Section names as used by mapping schema paths
const (
	SectionBattery       = "battery"
	SectionBatterySystem = "battery_system"
	SectionInverter      = "inverter"
	SectionPowerMeter    = "powermeter"
	SectionStatus        = "status"
	SectionSystemData    = "systemdata"
)

// Snapshot is one complete fetch of all device sections for a single poll cycle.
// It is never mutated after Fetch returns it.
type Snapshot struct {
	Battery       map[string]any
	BatterySystem map[string]any
	Inverter      map[string]any
	PowerMeter    []any
	Status        map[string]any
	SystemData    map[string]any
}

// Sections returns the snapshot as a single tree keyed by section name
func (s *Snapshot) Sections() map[string]any {
	return map[string]any{
		SectionBattery:       s.Battery,
		SectionBatterySystem: s.BatterySystem,
		SectionInverter:      s.Inverter,
		SectionPowerMeter:    s.PowerMeter,
		SectionStatus:        s.Status,
		SectionSystemData:    s.SystemData,
	}
}

// Lookup walks the snapshot along path. Sequences are indexed by decimal keys.
// The second result is the number of path elements that were resolved.
func (s *Snapshot) Lookup(path []string) (any, int, bool) {
	var cur any = s.Sections()
	for i, key := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, i, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, i, false
			}
			cur = node[idx]
		default:
			return nil, i, false
		}
	}
	return cur, len(path), true
}

// Float coerces a decoded JSON scalar to float64.
// Numeric strings are accepted since some firmware versions quote numbers.
func Float(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("not a number: %v (%T)", v, v)
	}
}

// Bool interprets a status flag. Missing or non-boolean values are false.
func Bool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		return err == nil && parsed
	case float64:
		return b != 0
	default:
		return false
	}
}
