// Package schedule owns the working-calendar model, the slot grid and the
// availability resolution that decides which slots a visitor may book.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// MinimumAdvance is the floor on how soon a slot may start relative to now.
type MinimumAdvance string

const (
	Advance5Min    MinimumAdvance = "5min"
	Advance1Hour   MinimumAdvance = "1h"
	Advance2Hours  MinimumAdvance = "2h"
	Advance4Hours  MinimumAdvance = "4h"
	AdvanceNextDay MinimumAdvance = "next_day"
)

// Deadline returns the earliest instant a slot may start. Unknown values
// behave like the 2h default. next_day means midnight of the following day
// in the plugin timezone.
func (m MinimumAdvance) Deadline(now time.Time, loc *time.Location) time.Time {
	switch m {
	case Advance5Min:
		return now.Add(5 * time.Minute)
	case Advance1Hour:
		return now.Add(1 * time.Hour)
	case Advance4Hours:
		return now.Add(4 * time.Hour)
	case AdvanceNextDay:
		local := now.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	default:
		return now.Add(2 * time.Hour)
	}
}

// Valid reports whether m is one of the supported settings.
func (m MinimumAdvance) Valid() bool {
	switch m {
	case Advance5Min, Advance1Hour, Advance2Hours, Advance4Hours, AdvanceNextDay:
		return true
	}
	return false
}

// AppointmentType is an operator-configured bookable service. Identity is
// name-based only; duplicate names are permitted and collide on the remote
// calendar UID.
type AppointmentType struct {
	Name     string `yaml:"name"`
	Duration int    `yaml:"duration"`
}

// durations allowed for an appointment type, in minutes.
var validDurations = map[int]bool{15: true, 30: true, 45: true, 60: true, 90: true, 120: true}

// granularities allowed for the slot grid, in minutes.
var validGranularities = map[int]bool{15: true, 30: true, 60: true}

// WorkingCalendar is the operator's bookable schedule, passed explicitly
// into every core function. Working-hour boundaries are always wall clocks
// in the plugin timezone, never the visitor's.
type WorkingCalendar struct {
	WorkingDays    []string       `yaml:"working_days"`
	HoursStart     string         `yaml:"working_hours_start"`
	HoursEnd       string         `yaml:"working_hours_end"`
	Granularity    int            `yaml:"granularity"`
	MinimumAdvance MinimumAdvance `yaml:"minimum_advance"`
	Timezone       string         `yaml:"timezone"`
}

// Validate checks the invariants the rest of the engine assumes.
func (c WorkingCalendar) Validate() error {
	if len(c.WorkingDays) == 0 {
		return fmt.Errorf("working_days must not be empty")
	}
	for _, day := range c.WorkingDays {
		if !knownWeekday(day) {
			return fmt.Errorf("unknown working day %q", day)
		}
	}
	start, err := parseClock(c.HoursStart)
	if err != nil {
		return fmt.Errorf("working_hours_start: %w", err)
	}
	end, err := parseClock(c.HoursEnd)
	if err != nil {
		return fmt.Errorf("working_hours_end: %w", err)
	}
	if !start.Before(end) {
		return fmt.Errorf("working hours %s-%s: start must be before end", c.HoursStart, c.HoursEnd)
	}
	if !validGranularities[c.Granularity] {
		return fmt.Errorf("granularity %d: must be 15, 30 or 60", c.Granularity)
	}
	if !c.MinimumAdvance.Valid() {
		return fmt.Errorf("minimum_advance %q: unsupported value", c.MinimumAdvance)
	}
	return nil
}

// IsWorkingDay reports whether the date falls on a configured weekday,
// evaluated in the plugin timezone.
func (c WorkingCalendar) IsWorkingDay(date string, loc *time.Location) (bool, error) {
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return false, fmt.Errorf("invalid date %q: %w", date, err)
	}
	name := strings.ToLower(day.Weekday().String())
	for _, working := range c.WorkingDays {
		if strings.EqualFold(working, name) {
			return true, nil
		}
	}
	return false, nil
}

func knownWeekday(name string) bool {
	switch strings.ToLower(name) {
	case "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday":
		return true
	}
	return false
}

func parseClock(value string) (time.Time, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid HH:MM value %q", value)
	}
	return t, nil
}

// ValidDuration reports whether an appointment duration is supported.
func ValidDuration(minutes int) bool {
	return validDurations[minutes]
}
