package units

import (
	"fmt"
	"time"
)

// IsTimezoneValid reports whether tz names a zone in the tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// ConvertTime renders a ledger timestamp (always UTC) in tz. An empty zone
// keeps UTC.
func ConvertTime(utc time.Time, tz string) (time.Time, error) {
	if tz == "" || tz == "UTC" {
		return utc.UTC(), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return utc, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	return utc.In(loc), nil
}
