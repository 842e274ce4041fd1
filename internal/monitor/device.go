package monitor

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// SystemDataReader performs the setup handshake
type SystemDataReader interface {
	SystemData(ctx context.Context) (map[string]any, error)
}

// Device is what the setup handshake learned about the battery
type Device struct {
	Serial     string
	SystemData map[string]any
}

// Model returns the article name reported by the device, if any
func (d *Device) Model() string {
	if name, ok := d.SystemData["ERP_ArticleName"].(string); ok {
		return name
	}
	return ""
}

// Handshake reads the system data once. Failing here is a startup failure.
func Handshake(ctx context.Context, api SystemDataReader) (*Device, error) {
	data, err := api.SystemData(ctx)
	if err != nil {
		return nil, fmt.Errorf("device handshake: %w", err)
	}
	serial, ok := Serial(data)
	if !ok {
		return nil, fmt.Errorf("device handshake: system data has no %s", serialKey)
	}
	return &Device{Serial: serial, SystemData: data}, nil
}

// Serial extracts the serial number from system data
func Serial(systemData map[string]any) (string, bool) {
	v, ok := systemData[serialKey]
	if !ok || v == nil {
		return "", false
	}

	var serial string
	switch s := v.(type) {
	case string:
		serial = strings.TrimSpace(s)
	case float64:
		if s == math.Trunc(s) {
			serial = fmt.Sprintf("%d", int64(s))
		} else {
			serial = fmt.Sprint(s)
		}
	default:
		serial = fmt.Sprint(s)
	}
	return serial, serial != ""
}
