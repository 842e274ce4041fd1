package sonnen

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) object(name string) (map[string]any, error) {
	args := m.MethodCalled(name)
	data, _ := args.Get(0).(map[string]any)
	return data, args.Error(1)
}

func (m *mockAPI) Battery(context.Context) (map[string]any, error) { return m.object("battery") }
func (m *mockAPI) BatterySystem(context.Context) (map[string]any, error) {
	return m.object("battery_system")
}
func (m *mockAPI) Inverter(context.Context) (map[string]any, error)   { return m.object("inverter") }
func (m *mockAPI) Status(context.Context) (map[string]any, error)     { return m.object("status") }
func (m *mockAPI) SystemData(context.Context) (map[string]any, error) { return m.object("systemdata") }

func (m *mockAPI) PowerMeter(context.Context) ([]any, error) {
	args := m.MethodCalled("powermeter")
	data, _ := args.Get(0).([]any)
	return data, args.Error(1)
}

func healthyAPI() *mockAPI {
	api := &mockAPI{}
	api.On("battery").Return(map[string]any{"cyclecount": 12.0}, nil)
	api.On("battery_system").Return(map[string]any{"modules": 2.0}, nil)
	api.On("inverter").Return(map[string]any{"status": map[string]any{"fac": 50.0}}, nil)
	api.On("powermeter").Return([]any{map[string]any{"direction": "production"}}, nil)
	api.On("status").Return(map[string]any{"RSOC": 50.0}, nil)
	api.On("systemdata").Return(map[string]any{"DE_Ticket_Number": "123"}, nil)
	return api
}

func TestFetcher_Fetch(t *testing.T) {
	api := healthyAPI()

	snap, err := NewFetcher(api).Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12.0, snap.Battery["cyclecount"])
	assert.Equal(t, "123", snap.SystemData["DE_Ticket_Number"])
	assert.Len(t, snap.PowerMeter, 1)
	api.AssertExpectations(t)
}

func TestFetcher_FetchFailureDiscardsSnapshot(t *testing.T) {
	cause := errors.New("connection reset")
	api := &mockAPI{}
	api.On("battery").Return(map[string]any{}, nil)
	api.On("battery_system").Return(map[string]any{}, nil)
	api.On("inverter").Return(nil, cause)

	snap, err := NewFetcher(api).Fetch(context.Background())
	assert.Nil(t, snap)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, SectionInverter, fetchErr.Section)
	assert.ErrorIs(t, err, cause)
	api.AssertNotCalled(t, "powermeter")
}

type panickyAPI struct {
	*mockAPI
}

func (panickyAPI) Status(context.Context) (map[string]any, error) {
	panic("boom")
}

func TestFetcher_FetchRecoversClientPanic(t *testing.T) {
	snap, err := NewFetcher(panickyAPI{healthyAPI()}).Fetch(context.Background())
	assert.Nil(t, snap)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, fetchErr.Error(), "boom")
}

func TestSnapshot_Lookup(t *testing.T) {
	snap := &Snapshot{
		Status: map[string]any{"RSOC": 42.0},
		BatterySystem: map[string]any{
			"battery_system": map[string]any{
				"system": map[string]any{"storage_capacity_per_module": 2500.0},
			},
		},
		PowerMeter: []any{map[string]any{"w_total": 12.5}},
	}

	tests := []struct {
		name     string
		path     []string
		want     any
		wantOK   bool
		resolved int
	}{
		{"top level field", []string{"status", "RSOC"}, 42.0, true, 2},
		{"nested field", []string{"battery_system", "battery_system", "system", "storage_capacity_per_module"}, 2500.0, true, 4},
		{"sequence index", []string{"powermeter", "0", "w_total"}, 12.5, true, 3},
		{"index out of range", []string{"powermeter", "3", "w_total"}, nil, false, 1},
		{"missing key", []string{"status", "USOC"}, nil, false, 1},
		{"descend into scalar", []string{"status", "RSOC", "x"}, nil, false, 2},
		{"unknown section", []string{"nope"}, nil, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, resolved, ok := snap.Lookup(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.resolved, resolved)
		})
	}
}

func TestFloat(t *testing.T) {
	tests := []struct {
		in      any
		want    float64
		wantErr bool
	}{
		{12.5, 12.5, false},
		{3, 3, false},
		{" 7.25", 7.25, false},
		{true, 1, false},
		{"abc", 0, true},
		{nil, 0, true},
		{map[string]any{}, 0, true},
	}

	for _, tt := range tests {
		got, err := Float(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "Float(%v)", tt.in)
			continue
		}
		assert.NoError(t, err, "Float(%v)", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestBool(t *testing.T) {
	assert.True(t, Bool(true))
	assert.True(t, Bool("true"))
	assert.True(t, Bool(1.0))
	assert.False(t, Bool(false))
	assert.False(t, Bool(nil))
	assert.False(t, Bool("yes please"))
}
