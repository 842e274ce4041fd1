package schema

import (
	"fmt"
	"math"
	"sort"

	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/sonnen"
)

var converters = map[string]ConvertFunc{
	"int":    toInt,
	"float":  toFloat,
	"round1": roundTo(1),
	"round2": roundTo(2),
	"kilo":   scale(0.001),
	"negate": scale(-1),
}

// Converter returns the converter registered under name
func Converter(name string) (ConvertFunc, bool) {
	fn, ok := converters[name]
	return fn, ok
}

// ConverterNames lists the registered converter names
func ConverterNames() []string {
	names := make([]string, 0, len(converters))
	for name := range converters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// toInt truncates towards zero
func toInt(raw any) (any, error) {
	f, err := sonnen.Float(raw)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("cannot convert %v to int", f)
	}
	return int64(f), nil
}

func toFloat(raw any) (any, error) {
	return sonnen.Float(raw)
}

func roundTo(places int) ConvertFunc {
	factor := math.Pow10(places)
	return func(raw any) (any, error) {
		f, err := sonnen.Float(raw)
		if err != nil {
			return nil, err
		}
		return math.Round(f*factor) / factor, nil
	}
}

func scale(factor float64) ConvertFunc {
	return func(raw any) (any, error) {
		f, err := sonnen.Float(raw)
		if err != nil {
			return nil, err
		}
		return f * factor, nil
	}
}
