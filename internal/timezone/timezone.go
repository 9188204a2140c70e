// Package timezone resolves the operator-configured plugin timezone and the
// per-visitor display timezone.
//
// Three time frames exist in this system: UTC instants, plugin-timezone wall
// clocks (authoritative for working hours) and display-timezone wall clocks
// (labels shown to the visitor). Values from different frames must never be
// compared directly; conversions go through the functions in this package or
// through the comparison-key helpers in internal/caldav and internal/schedule.
package timezone

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

// ErrNotConfigured reports that no plugin timezone is set. Callers receive
// UTC alongside this error so they can keep serving while logging the
// fallback.
var ErrNotConfigured = errors.New("plugin timezone not configured")

// ResolvePlugin returns the authoritative plugin timezone. An empty setting
// yields (UTC, ErrNotConfigured); an invalid IANA name yields UTC and a
// wrapping configuration error.
func ResolvePlugin(setting string) (*time.Location, error) {
	if setting == "" {
		return time.UTC, ErrNotConfigured
	}
	loc, err := time.LoadLocation(setting)
	if err != nil {
		return time.UTC, fmt.Errorf("invalid plugin timezone %q: %w", setting, err)
	}
	return loc, nil
}

// ResolveDisplay validates the visitor-supplied timezone candidate. Empty or
// unloadable candidates fall back to the plugin timezone so slot labels stay
// consistent when browser detection fails.
func ResolveDisplay(candidate string, fallback *time.Location) *time.Location {
	if candidate == "" {
		return fallback
	}
	loc, err := time.LoadLocation(candidate)
	if err != nil {
		return fallback
	}
	return loc
}
