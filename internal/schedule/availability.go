package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/appointment-booking/internal/caldav"
)

// Reason codes returned when a date is rejected before any slot is checked.
const (
	ReasonNotWorkingDay    = "not_working_day"
	ReasonMinAdvanceNotMet = "min_advance_not_met"
)

// SlotStatus annotates a slot in the admin preview.
type SlotStatus string

const (
	StatusAvailable    SlotStatus = "available"
	StatusPast         SlotStatus = "past"
	StatusOutsideHours SlotStatus = "outside_hours"
	StatusBooked       SlotStatus = "booked"
)

// EventSource supplies the day's busy intervals, already normalized into
// plugin-timezone comparison keys.
type EventSource interface {
	FetchEventsForDate(ctx context.Context, date string) ([]caldav.BusyInterval, error)
}

// Availability is the outcome of resolving one date. When Reason is set the
// date was rejected outright and Slots is empty.
type Availability struct {
	Slots  []string
	Reason string
}

// PreviewSlot is one annotated grid entry for the admin preview.
type PreviewSlot struct {
	Time   string `json:"time"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Preview is the admin view of a date: the bookable slots plus every grid
// slot with its status.
type Preview struct {
	Slots    []string
	AllSlots []PreviewSlot
	Reason   string
}

// Resolver computes the authoritative bookable set for a date by composing
// the slot grid with advance filtering and remote-calendar conflicts.
type Resolver struct {
	Calendar  WorkingCalendar
	Events    EventSource
	PluginLoc *time.Location
	Now       func() time.Time
	Logger    *slog.Logger
}

// AvailableSlots returns the bookable display-timezone labels for the date.
//
// The minimum-advance rejection looks at the end of the day, not its start:
// a same-day request stays valid as long as any slot before 23:59:59 could
// still satisfy the advance requirement.
func (r *Resolver) AvailableSlots(ctx context.Context, date string, duration int, displayLoc *time.Location) (Availability, error) {
	working, err := r.Calendar.IsWorkingDay(date, r.PluginLoc)
	if err != nil {
		return Availability{}, err
	}
	if !working {
		return Availability{Reason: ReasonNotWorkingDay}, nil
	}

	now := r.Now()
	day, err := time.ParseInLocation("2006-01-02", date, r.PluginLoc)
	if err != nil {
		return Availability{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	endOfDay := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, r.PluginLoc)
	if endOfDay.Before(r.Calendar.MinimumAdvance.Deadline(now, r.PluginLoc)) {
		return Availability{Reason: ReasonMinAdvanceNotMet}, nil
	}

	displaySlots, err := GenerateSlots(date, r.Calendar, r.PluginLoc, displayLoc, now, false)
	if err != nil {
		return Availability{}, err
	}
	if len(displaySlots) == 0 {
		return Availability{}, nil
	}

	pluginSlots := make([]string, len(displaySlots))
	for i, slot := range displaySlots {
		pluginSlots[i] = r.toPluginLabel(date, slot, displayLoc)
	}

	conflicts, err := r.conflictingSlots(ctx, date, pluginSlots, duration)
	if err != nil {
		return Availability{}, err
	}

	available := make([]string, 0, len(displaySlots))
	for i, slot := range displaySlots {
		if !conflicts[pluginSlots[i]] {
			available = append(available, slot)
		}
	}
	sort.Strings(available)
	return Availability{Slots: available}, nil
}

// SlotConflicts re-runs the conflict check for a single display-timezone
// slot. The booking writer uses it as the last check before writing; the
// narrowness of the recheck shrinks but does not eliminate the
// check-then-act window.
func (r *Resolver) SlotConflicts(ctx context.Context, date, displaySlot string, duration int, displayLoc *time.Location) (bool, error) {
	pluginSlot := r.toPluginLabel(date, displaySlot, displayLoc)
	conflicts, err := r.conflictingSlots(ctx, date, []string{pluginSlot}, duration)
	if err != nil {
		return false, err
	}
	return conflicts[pluginSlot], nil
}

// PreviewSlots annotates the full grid for the admin preview. Every slot in
// range appears regardless of time; status priority is past, then
// outside_hours, then a booked override, then available. Minimum advance is
// not applied here.
func (r *Resolver) PreviewSlots(ctx context.Context, date string, duration int) (Preview, error) {
	working, err := r.Calendar.IsWorkingDay(date, r.PluginLoc)
	if err != nil {
		return Preview{}, err
	}
	if !working {
		return Preview{Reason: ReasonNotWorkingDay}, nil
	}

	now := r.Now()
	grid, err := GenerateSlots(date, r.Calendar, r.PluginLoc, r.PluginLoc, now, true)
	if err != nil {
		return Preview{}, err
	}

	conflicts, err := r.conflictingSlots(ctx, date, grid, duration)
	if err != nil {
		return Preview{}, err
	}

	workStart, _ := time.ParseInLocation("2006-01-02 15:04", date+" "+r.Calendar.HoursStart, r.PluginLoc)
	workEnd, _ := time.ParseInLocation("2006-01-02 15:04", date+" "+r.Calendar.HoursEnd, r.PluginLoc)

	preview := Preview{AllSlots: make([]PreviewSlot, 0, len(grid))}
	for _, slot := range grid {
		slotTime, err := time.ParseInLocation("2006-01-02 15:04", date+" "+slot, r.PluginLoc)
		if err != nil {
			continue
		}
		status, reason := StatusAvailable, ""
		switch {
		case !slotTime.After(now):
			// Past wins over everything, including booked.
			status, reason = StatusPast, "Past time"
		default:
			if slotTime.Before(workStart) || !slotTime.Before(workEnd) {
				status, reason = StatusOutsideHours, "Outside working hours."
			}
			if conflicts[slot] {
				status, reason = StatusBooked, "Booked (CalDAV conflict)"
			}
		}
		preview.AllSlots = append(preview.AllSlots, PreviewSlot{Time: slot, Status: string(status), Reason: reason})
		if status == StatusAvailable {
			preview.Slots = append(preview.Slots, slot)
		}
	}
	sort.Strings(preview.Slots)
	return preview, nil
}

// ConflictList filters the given plugin-timezone slots down to those that
// collide with the day's busy intervals, preserving order. The admin
// conflict test renders this directly.
func (r *Resolver) ConflictList(ctx context.Context, date string, pluginSlots []string, duration int) ([]string, error) {
	conflicts, err := r.conflictingSlots(ctx, date, pluginSlots, duration)
	if err != nil {
		return nil, err
	}
	list := make([]string, 0, len(conflicts))
	for _, slot := range pluginSlots {
		if conflicts[slot] {
			list = append(list, slot)
		}
	}
	return list, nil
}

// toPluginLabel converts a display-timezone slot label on the given date to
// its plugin-timezone wall clock.
func (r *Resolver) toPluginLabel(date, slot string, displayLoc *time.Location) string {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+slot, displayLoc)
	if err != nil {
		return slot
	}
	return t.In(r.PluginLoc).Format("15:04")
}

// conflictingSlots returns the subset of plugin-timezone slots that collide
// with the day's busy intervals. Each slot's [start, start+duration) span is
// sub-divided into granularity blocks and every block is tested with an
// open-interval overlap, so a long appointment type is rejected as soon as
// any block touches even a short existing event.
func (r *Resolver) conflictingSlots(ctx context.Context, date string, pluginSlots []string, duration int) (map[string]bool, error) {
	conflicts := make(map[string]bool)
	events, err := r.Events.FetchEventsForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return conflicts, nil
	}

	step := int64(r.Calendar.Granularity) * 60
	for _, slot := range pluginSlots {
		key, err := wallClockKey(date, slot)
		if err != nil {
			continue
		}
		slotEnd := key + int64(duration)*60
	blocks:
		for block := key; block < slotEnd; block += step {
			blockEnd := block + step
			for _, ev := range events {
				if block < ev.End && blockEnd > ev.Start {
					conflicts[slot] = true
					break blocks
				}
			}
		}
	}
	return conflicts, nil
}

// wallClockKey builds the comparison key for a plugin-timezone wall clock:
// the clock reinterpreted as UTC, mirroring caldav.FrameShiftKey on the
// event side.
func wallClockKey(date, slot string) (int64, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+slot, time.UTC)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}
