package units

import (
	"math"
	"testing"
	"time"
)

func TestIsValidArea(t *testing.T) {
	tests := []struct {
		unit     string
		expected bool
	}{
		{SquareMetres, true},
		{Hectares, true},
		{Acres, true},
		{SquareKM, true},
		{"HA", false},
		{"", false},
		{"mph", false},
	}
	for _, tt := range tests {
		if got := IsValidArea(tt.unit); got != tt.expected {
			t.Errorf("IsValidArea(%q) = %v, want %v", tt.unit, got, tt.expected)
		}
	}
}

func TestGetValidAreaUnitsString(t *testing.T) {
	if got := GetValidAreaUnitsString(); got != "m2, ha, acres, km2" {
		t.Errorf("GetValidAreaUnitsString() = %q", got)
	}
}

func TestConvertArea(t *testing.T) {
	tests := []struct {
		name     string
		m2       float64
		unit     string
		expected float64
	}{
		{"m2 unchanged", 1234.5, SquareMetres, 1234.5},
		{"1 km2 in ha", 1_000_000, Hectares, 100},
		{"1 km2 in km2", 1_000_000, SquareKM, 1},
		{"1 acre", 4046.8564224, Acres, 1},
		{"1 ha in acres", 10_000, Acres, 2.4710538},
		{"unknown unit", 42, "furlongs", 42},
		{"zero", 0, Hectares, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertArea(tt.m2, tt.unit)
			if math.Abs(got-tt.expected) > 1e-6 {
				t.Errorf("ConvertArea(%v, %q) = %v, want %v", tt.m2, tt.unit, got, tt.expected)
			}
		})
	}
}

func TestFormatArea(t *testing.T) {
	if got := FormatArea(125_000, Hectares); got != "12.50 ha" {
		t.Errorf("FormatArea = %q", got)
	}
	if got := FormatArea(3, "bogus"); got != "3.00 m2" {
		t.Errorf("FormatArea with unknown unit = %q", got)
	}
}

func TestConvertTime(t *testing.T) {
	utc := time.Date(2026, 7, 1, 19, 0, 0, 0, time.UTC)

	got, err := ConvertTime(utc, "")
	if err != nil || !got.Equal(utc) || got.Location() != time.UTC {
		t.Errorf("empty zone should keep UTC, got %v, %v", got, err)
	}

	got, err = ConvertTime(utc, "America/Los_Angeles")
	if err != nil {
		t.Fatalf("ConvertTime: %v", err)
	}
	if got.Hour() != 12 {
		t.Errorf("Los Angeles hour = %d, want 12 (PDT)", got.Hour())
	}
	if !got.Equal(utc) {
		t.Error("conversion must not change the instant")
	}

	if _, err := ConvertTime(utc, "Mars/Olympus_Mons"); err == nil {
		t.Error("expected error for unknown zone")
	}
}

func TestIsTimezoneValid(t *testing.T) {
	if !IsTimezoneValid("UTC") {
		t.Error("UTC should be valid")
	}
	if IsTimezoneValid("") {
		t.Error("empty zone should be invalid")
	}
	if IsTimezoneValid("Not/A_Zone") {
		t.Error("unknown zone should be invalid")
	}
}
