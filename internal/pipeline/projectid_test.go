package pipeline

import "testing"

func TestFormatProjectID(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{int64(12), "12"},
		{12.0, "12.0"},
		{-3.0, "-3.0"},
		{12.5, "12.5"},
		{1234567.5, "1234567.5"},
		{123456789012345.0, "123456789012345.0"},
		{0.0001, "0.0001"},
		{0.0, "0.0"},
		{1.5e-5, "1.5e-05"},
		{1e16, "1e+16"},
		{2.5e20, "2.5e+20"},
		{"CAFR5139", "CAFR5139"},
		{[]byte("ACR189"), "ACR189"},
		{true, "True"},
		{7, "7"},
	}
	for _, tt := range tests {
		if got := FormatProjectID(tt.in); got != tt.want {
			t.Errorf("FormatProjectID(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJoinProjectIDs(t *testing.T) {
	tests := []struct {
		name string
		ids  []any
		want string
	}{
		{"numeric order", []any{int64(10), int64(9), int64(100)}, "9, 10, 100"},
		{"floats", []any{2.0, 1.0}, "1.0, 2.0"},
		{"text", []any{"CAR1", "ACR2"}, "ACR2, CAR1"},
		{"numbers before text", []any{"A", int64(1)}, "1, A"},
		{"distinct", []any{int64(7), int64(3), int64(7)}, "3, 7"},
		{"single", []any{"X"}, "X"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JoinProjectIDs(tt.ids); got != tt.want {
				t.Errorf("JoinProjectIDs(%v) = %q, want %q", tt.ids, got, tt.want)
			}
		})
	}
}
