package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FormatProjectID renders a project identifier the way it appears in the
// project column. Integral floats keep a trailing ".0" so that a REAL id
// column reads "12.0" rather than "12"; floats use positional notation for
// exponents in [-4, 16) and scientific notation outside it.
func FormatProjectID(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return strconv.FormatFloat(x, 'g', -1, 64)
		}
		if x == 0 {
			return "0.0"
		}
		if exp := decimalExponent(x); exp < -4 || exp >= 16 {
			return strconv.FormatFloat(x, 'g', -1, 64)
		}
		if x == math.Trunc(x) {
			return strconv.FormatFloat(x, 'f', 1, 64)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(x)
	}
}

// decimalExponent is the power of ten of x's shortest decimal form.
func decimalExponent(x float64) int {
	e := strconv.FormatFloat(x, 'e', -1, 64)
	n, _ := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	return n
}

// sortProjectIDs orders ids naturally: numbers by value, then text
// lexically.
func sortProjectIDs(ids []any) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, aNum := numeric(ids[i])
		b, bNum := numeric(ids[j])
		switch {
		case aNum && bNum:
			return a < b
		case aNum != bNum:
			return aNum
		default:
			return FormatProjectID(ids[i]) < FormatProjectID(ids[j])
		}
	})
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// JoinProjectIDs renders distinct ids in natural order, joined by ", ".
func JoinProjectIDs(ids []any) string {
	sorted := append([]any(nil), ids...)
	sortProjectIDs(sorted)
	parts := make([]string, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, id := range sorted {
		s := FormatProjectID(id)
		if seen[s] {
			continue
		}
		seen[s] = true
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}
