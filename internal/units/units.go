// Package units converts the square metres produced by the pipeline into
// display units.
package units

import (
	"fmt"
	"strings"
)

// Area unit names.
const (
	SquareMetres = "m2"
	Hectares     = "ha"
	Acres        = "acres"
	SquareKM     = "km2"
)

// ValidAreaUnits lists every accepted area unit.
var ValidAreaUnits = []string{SquareMetres, Hectares, Acres, SquareKM}

const squareMetresPerAcre = 4046.8564224

// IsValidArea reports whether unit is a known area unit.
func IsValidArea(unit string) bool {
	for _, u := range ValidAreaUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// GetValidAreaUnitsString returns the accepted units for error messages.
func GetValidAreaUnitsString() string {
	return strings.Join(ValidAreaUnits, ", ")
}

// ConvertArea converts square metres to unit. Unknown units return the
// input unchanged.
func ConvertArea(m2 float64, unit string) float64 {
	switch unit {
	case Hectares:
		return m2 / 10_000
	case Acres:
		return m2 / squareMetresPerAcre
	case SquareKM:
		return m2 / 1_000_000
	default:
		return m2
	}
}

// FormatArea renders an area with its unit label, e.g. "12.50 ha".
func FormatArea(m2 float64, unit string) string {
	if !IsValidArea(unit) {
		unit = SquareMetres
	}
	return fmt.Sprintf("%.2f %s", ConvertArea(m2, unit), unit)
}
