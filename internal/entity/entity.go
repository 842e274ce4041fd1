// Package entity holds published sensor entities and the registry that owns them.
package entity

import (
	"errors"
	"fmt"
)

// Domain namespaces every entity id
const Domain = "sonnenbatterie"

// UnknownSerial is used when system data carries no serial number
const UnknownSerial = "UNKNOWN"

// Measurement classes used by the built-in calculations
const (
	ClassEnergy      = "energy"
	ClassPower       = "power"
	ClassCurrent     = "current"
	ClassVoltage     = "voltage"
	ClassBattery     = "battery"
	ClassFrequency   = "frequency"
	ClassTemperature = "temperature"
)

// StateClassMeasurement marks a sensor as an instantaneous measurement
const StateClassMeasurement = "measurement"

// Reading is one resolved value ready to be published
type Reading struct {
	ID    string
	Name  string
	Value any
	Unit  string
	Class string
}

// Entity is the externally visible state object for one sensor id
type Entity struct {
	ID         string
	Name       string
	Unit       string
	Class      string
	Value      any
	Attributes map[string]any
	Registered bool
}

// ObjectID returns the id without its "sensor." platform prefix
func (e *Entity) ObjectID() string {
	const platform = "sensor."
	if len(e.ID) > len(platform) && e.ID[:len(platform)] == platform {
		return e.ID[len(platform):]
	}
	return e.ID
}

// AggregateID returns the id of the top-level status entity for serial
func AggregateID(serial string) string {
	return fmt.Sprintf("sensor.%s_%s", Domain, serial)
}

// ErrNamespaceUninitialized is returned when ids are requested before the serial is known
var ErrNamespaceUninitialized = errors.New("entity namespace used before the serial number is known")

// Namespace builds entity ids once the device serial number is known.
// It moves from uninitialized to initialized exactly once.
type Namespace struct {
	serial string
	prefix string
}

// Init fixes the serial number. Later calls are ignored and report false.
func (n *Namespace) Init(serial string) bool {
	if n.prefix != "" {
		return false
	}
	if serial == "" {
		serial = UnknownSerial
	}
	n.serial = serial
	n.prefix = fmt.Sprintf("sensor.%s_%s_", Domain, serial)
	return true
}

// Initialized reports whether Init has been called
func (n *Namespace) Initialized() bool {
	return n.prefix != ""
}

// Serial returns the serial number the namespace was initialized with
func (n *Namespace) Serial() string {
	return n.serial
}

// ID returns the full entity id for suffix
func (n *Namespace) ID(suffix string) (string, error) {
	if n.prefix == "" {
		return "", ErrNamespaceUninitialized
	}
	return n.prefix + suffix, nil
}

// Prefix returns the id prefix shared by all readings
func (n *Namespace) Prefix() (string, error) {
	if n.prefix == "" {
		return "", ErrNamespaceUninitialized
	}
	return n.prefix, nil
}
