package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSchema = `
status:
  RSOC:
    sensor: state_charge_real
    friendly_name: Charge Real
    unit: "%"
    class: battery
  GridFeedIn_W:
    sensor: state_grid_inout
    friendly_name: Grid In/Out
    unit: W
    class: power
    inout: true
battery_system:
  battery_system:
    system:
      storage_capacity_per_module:
        sensor: battery_system_capacity_per_module
        unit: Wh
        convert: int
        aka: [capacity_per_module]
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleSchema))
	require.NoError(t, err)

	entries := s.Leaves()
	require.Len(t, entries, 3)

	assert.Equal(t, []string{"status", "RSOC"}, entries[0].Path)
	assert.Equal(t, "state_charge_real", entries[0].Leaf.Sensor)
	assert.Equal(t, "Charge Real", entries[0].Leaf.FriendlyName)
	assert.Equal(t, "%", entries[0].Leaf.Unit)
	assert.Nil(t, entries[0].Leaf.Convert)

	assert.True(t, entries[1].Leaf.InOut)

	last := entries[2]
	assert.Equal(t, "battery_system/battery_system/system/storage_capacity_per_module", last.PathString())
	assert.Equal(t, []string{"capacity_per_module"}, last.Leaf.Aka)
	assert.Equal(t, "int", last.Leaf.ConvertName)
	require.NotNil(t, last.Leaf.Convert)
	// friendly name falls back to the sensor id
	assert.Equal(t, "battery_system_capacity_per_module", last.Leaf.FriendlyName)
}

func TestParse_PreservesDocumentOrder(t *testing.T) {
	s, err := Parse([]byte(`
zeta:
  sensor: z
alpha:
  sensor: a
mid:
  inner:
    sensor: m
`))
	require.NoError(t, err)

	var got []string
	s.Walk(func(_ []string, leaf *Leaf) {
		got = append(got, leaf.Sensor)
	})
	assert.Equal(t, []string{"z", "a", "m"}, got)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"empty document", ``, "empty document"},
		{"top level sequence", `- a`, "top level must be a mapping"},
		{"scalar child", "status:\n  RSOC: 5\n", "expected a mapping"},
		{"empty sensor id", "status:\n  RSOC:\n    sensor: \"\"\n", "empty sensor id"},
		{"unknown converter", "status:\n  RSOC:\n    sensor: x\n    convert: nope\n", "unknown converter"},
		{"bad inout type", "status:\n  RSOC:\n    sensor: x\n    inout: [1]\n", "status/RSOC"},
		{"invalid yaml", "status: [", "parse schema"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSensorIDs(t *testing.T) {
	s, err := Parse([]byte(sampleSchema))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"state_charge_real",
		"state_grid_inout",
		"state_grid_input",
		"state_grid_output",
		"battery_system_capacity_per_module",
		"capacity_per_module",
	}, s.SensorIDs())
}

func TestInOutStem(t *testing.T) {
	tests := []struct {
		sensor string
		want   string
	}{
		{"state_grid_inout", "state_grid_"},
		{"battery_inout", "battery_"},
		{"inout", ""},
	}
	for _, tt := range tests {
		leaf := &Leaf{Sensor: tt.sensor}
		assert.Equal(t, tt.want, leaf.InOutStem(), tt.sensor)
	}
}

func TestDefault(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, id := range s.SensorIDs() {
		assert.False(t, seen[id], "duplicate sensor id %s", id)
		seen[id] = true
	}
	assert.True(t, seen["state_grid_input"])
	assert.True(t, seen["state_consumption"])
}

func TestLoad(t *testing.T) {
	s, err := Load(strings.NewReader(sampleSchema))
	require.NoError(t, err)
	assert.Len(t, s.Root, 2)

	_, err = LoadFile("does/not/exist.yaml")
	assert.Error(t, err)
}

func TestConverters(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    any
		wantErr bool
	}{
		{"int", 42.9, int64(42), false},
		{"int", -42.9, int64(-42), false},
		{"int", "17", int64(17), false},
		{"int", "x", nil, true},
		{"float", "1.5", 1.5, false},
		{"round1", 49.96, 50.0, false},
		{"round2", 230.456, 230.46, false},
		{"kilo", 2500.0, 2.5, false},
		{"negate", 12.0, -12.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, ok := Converter(tt.name)
			require.True(t, ok)

			got, err := fn(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
