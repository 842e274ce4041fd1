// Package mapper projects snapshot fields onto published readings by walking a schema.
package mapper

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/entity"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/schema"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/sonnen"
)

// MissingFieldError reports a schema path that does not exist in a snapshot
type MissingFieldError struct {
	Sensor  string
	Path    []string
	Missing string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("'%s' not in %s (missing %q) -> disabled", e.Sensor, strings.Join(e.Path, "/"), e.Missing)
}

// ConversionError reports a converter that rejected a raw value
type ConversionError struct {
	Sensor string
	Raw    any
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("wrong conversion info for '%s' (raw %v): %v", e.Sensor, e.Raw, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Disabled is the set of sensor ids whose schema path was once missing.
// It only grows.
type Disabled map[string]struct{}

// Has reports whether sensor is disabled
func (d Disabled) Has(sensor string) bool {
	_, ok := d[sensor]
	return ok
}

// Add disables sensor. It reports false if it was already disabled.
func (d Disabled) Add(sensor string) bool {
	if d.Has(sensor) {
		return false
	}
	d[sensor] = struct{}{}
	return true
}

// Mapper resolves schema leaves against snapshots
type Mapper struct {
	schema *schema.Schema
	logger *zap.Logger
}

// New creates a Mapper for s
func New(s *schema.Schema, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{schema: s, logger: logger}
}

// Resolve walks the schema depth-first and returns a reading for every leaf whose
// path exists in snap. Leaves with a missing path are added to disabled and are
// never looked up again for as long as the same set is passed in.
func (m *Mapper) Resolve(snap *sonnen.Snapshot, ns *entity.Namespace, disabled Disabled) ([]entity.Reading, error) {
	prefix, err := ns.Prefix()
	if err != nil {
		return nil, err
	}

	var readings []entity.Reading
	m.schema.Walk(func(path []string, leaf *schema.Leaf) {
		if disabled.Has(leaf.Sensor) {
			return
		}

		raw, resolved, ok := snap.Lookup(path)
		if !ok {
			disabled.Add(leaf.Sensor)
			missErr := &MissingFieldError{
				Sensor:  leaf.Sensor,
				Path:    append([]string(nil), path...),
				Missing: path[resolved],
			}
			m.logger.Warn(missErr.Error(), zap.String("sensor", leaf.Sensor))
			return
		}

		readings = append(readings, m.leafReadings(prefix, leaf, raw)...)
	})
	return readings, nil
}

func (m *Mapper) leafReadings(prefix string, leaf *schema.Leaf, raw any) []entity.Reading {
	value := raw
	if leaf.Convert != nil {
		converted, err := leaf.Convert(raw)
		if err != nil {
			convErr := &ConversionError{Sensor: leaf.Sensor, Raw: raw, Err: err}
			m.logger.Error(convErr.Error()+" -> sending raw value", zap.String("converter", leaf.ConvertName))
		} else {
			value = converted
		}
	}

	readings := []entity.Reading{{
		ID:    prefix + leaf.Sensor,
		Name:  leaf.FriendlyName,
		Value: value,
		Unit:  leaf.Unit,
		Class: leaf.Class,
	}}

	for _, alias := range leaf.Aka {
		readings = append(readings, entity.Reading{
			ID:    prefix + alias,
			Name:  leaf.FriendlyName + " (alias)",
			Value: value,
			Unit:  leaf.Unit,
			Class: leaf.Class,
		})
	}

	if leaf.InOut {
		in, out, err := SplitInOut(value)
		if err != nil {
			// non-numeric in/out leaves are a schema authoring error
			m.logger.Error("cannot split in/out value", zap.String("sensor", leaf.Sensor), zap.Error(err))
			return readings
		}
		stem := prefix + leaf.InOutStem()
		readings = append(readings,
			entity.Reading{
				ID:    stem + "input",
				Name:  leaf.FriendlyName + " (in)",
				Value: in,
				Unit:  leaf.Unit,
				Class: leaf.Class,
			},
			entity.Reading{
				ID:    stem + "output",
				Name:  leaf.FriendlyName + " (out)",
				Value: out,
				Unit:  leaf.Unit,
				Class: leaf.Class,
			},
		)
	}

	return readings
}

// SplitInOut splits a signed value into non-negative input and output parts
// with out - in == v. Integer values stay integers so the pair matches the
// converted primary reading; anything else numeric is split as float64.
func SplitInOut(v any) (in, out any, err error) {
	switch n := v.(type) {
	case int64:
		in, out = split(n)
	case int:
		in, out = split(n)
	case float32:
		in, out = split(n)
	case float64:
		in, out = split(n)
	default:
		f, err := sonnen.Float(v)
		if err != nil {
			return nil, nil, err
		}
		in, out = split(f)
	}
	return in, out, nil
}

func split[T int | int64 | float32 | float64](v T) (in, out T) {
	if v < 0 {
		return -v, 0
	}
	return 0, v
}
