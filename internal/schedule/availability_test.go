package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/example/appointment-booking/internal/caldav"
)

type stubEvents struct {
	events []caldav.BusyInterval
	err    error
}

func (s *stubEvents) FetchEventsForDate(ctx context.Context, date string) ([]caldav.BusyInterval, error) {
	return s.events, s.err
}

func busyAt(startHour, startMin, endHour, endMin int) caldav.BusyInterval {
	return caldav.BusyInterval{
		Start: time.Date(2025, 6, 2, startHour, startMin, 0, 0, time.UTC).Unix(),
		End:   time.Date(2025, 6, 2, endHour, endMin, 0, 0, time.UTC).Unix(),
	}
}

func newResolver(cal WorkingCalendar, events *stubEvents, now time.Time) *Resolver {
	return &Resolver{
		Calendar:  cal,
		Events:    events,
		PluginLoc: time.UTC,
		Now:       func() time.Time { return now },
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestAvailableSlotsSubtractsConflicts(t *testing.T) {
	cal := baseCalendar()
	cal.Granularity = 15
	cal.MinimumAdvance = Advance5Min
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	events := &stubEvents{events: []caldav.BusyInterval{busyAt(10, 0, 10, 30)}}

	got, err := newResolver(cal, events, now).AvailableSlots(context.Background(), "2025-06-02", 15, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	present := make(map[string]bool, len(got.Slots))
	for _, slot := range got.Slots {
		present[slot] = true
	}
	for _, slot := range []string{"10:00", "10:15"} {
		if present[slot] {
			t.Errorf("slot %s overlaps the 10:00-10:30 event and must be removed", slot)
		}
	}
	for _, slot := range []string{"09:45", "10:30"} {
		if !present[slot] {
			t.Errorf("slot %s touches only the boundary and must stay", slot)
		}
	}
}

func TestAvailableSlotsLongDurationHitsEarlierSlots(t *testing.T) {
	cal := baseCalendar()
	cal.Granularity = 15
	cal.MinimumAdvance = Advance5Min
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	events := &stubEvents{events: []caldav.BusyInterval{busyAt(10, 0, 10, 30)}}

	// A 30-minute appointment starting 09:45 reaches into the event.
	got, err := newResolver(cal, events, now).AvailableSlots(context.Background(), "2025-06-02", 30, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, slot := range got.Slots {
		if slot == "09:45" {
			t.Fatal("09:45 with a 30-minute duration collides with the event")
		}
	}
}

func TestAvailableSlotsMorningScenario(t *testing.T) {
	cal := WorkingCalendar{
		WorkingDays:    []string{"monday"},
		HoursStart:     "09:00",
		HoursEnd:       "12:00",
		Granularity:    60,
		MinimumAdvance: Advance1Hour,
		Timezone:       "UTC",
	}
	now := time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)
	events := &stubEvents{events: []caldav.BusyInterval{busyAt(9, 0, 10, 0)}}

	got, err := newResolver(cal, events, now).AvailableSlots(context.Background(), "2025-06-02", 60, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"10:00", "11:00"}
	if !reflect.DeepEqual(got.Slots, want) {
		t.Fatalf("slots = %v, want %v", got.Slots, want)
	}
}

func TestAvailableSlotsRejectsNonWorkingDay(t *testing.T) {
	got, err := newResolver(baseCalendar(), &stubEvents{}, time.Now()).
		AvailableSlots(context.Background(), "2025-06-01", 30, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Reason != ReasonNotWorkingDay || len(got.Slots) != 0 {
		t.Fatalf("expected %s rejection, got %+v", ReasonNotWorkingDay, got)
	}
}

func TestAvailableSlotsRejectsWhenDayCannotMeetAdvance(t *testing.T) {
	cal := baseCalendar()
	cal.MinimumAdvance = AdvanceNextDay
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

	got, err := newResolver(cal, &stubEvents{}, now).AvailableSlots(context.Background(), "2025-06-02", 30, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Reason != ReasonMinAdvanceNotMet {
		t.Fatalf("expected %s rejection, got %+v", ReasonMinAdvanceNotMet, got)
	}
}

func TestAvailableSlotsPropagatesFetchErrors(t *testing.T) {
	events := &stubEvents{err: errors.New("calendar unreachable")}
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	if _, err := newResolver(baseCalendar(), events, now).AvailableSlots(context.Background(), "2025-06-02", 30, time.UTC); err == nil {
		t.Fatal("expected the fetch error to surface")
	}
}

func TestSlotConflicts(t *testing.T) {
	cal := baseCalendar()
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	events := &stubEvents{events: []caldav.BusyInterval{busyAt(10, 0, 11, 0)}}
	r := newResolver(cal, events, now)

	taken, err := r.SlotConflicts(context.Background(), "2025-06-02", "10:00", 60, time.UTC)
	if err != nil || !taken {
		t.Fatalf("expected 10:00 to conflict, got %v, %v", taken, err)
	}
	taken, err = r.SlotConflicts(context.Background(), "2025-06-02", "11:00", 60, time.UTC)
	if err != nil || taken {
		t.Fatalf("expected 11:00 to be free, got %v, %v", taken, err)
	}
}

func TestPreviewSlotsPastBeatsBooked(t *testing.T) {
	cal := baseCalendar()
	now := time.Date(2025, 6, 2, 12, 30, 0, 0, time.UTC)
	events := &stubEvents{events: []caldav.BusyInterval{
		busyAt(10, 0, 11, 0),
		busyAt(14, 0, 15, 0),
	}}

	preview, err := newResolver(cal, events, now).PreviewSlots(context.Background(), "2025-06-02", 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	statuses := make(map[string]PreviewSlot, len(preview.AllSlots))
	for _, slot := range preview.AllSlots {
		statuses[slot.Time] = slot
	}
	if got := statuses["10:00"]; got.Status != string(StatusPast) {
		t.Fatalf("10:00 is both past and booked, past must win, got %q", got.Status)
	}
	if got := statuses["14:00"]; got.Status != string(StatusBooked) {
		t.Fatalf("14:00 should be booked, got %q", got.Status)
	}
	if got := statuses["16:00"]; got.Status != string(StatusAvailable) {
		t.Fatalf("16:00 should be available, got %q", got.Status)
	}
	for _, slot := range preview.Slots {
		if slot == "10:00" || slot == "14:00" {
			t.Fatalf("%s must not appear in the bookable list", slot)
		}
	}
}

func TestPreviewSlotsNonWorkingDay(t *testing.T) {
	preview, err := newResolver(baseCalendar(), &stubEvents{}, time.Now()).
		PreviewSlots(context.Background(), "2025-06-01", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if preview.Reason != ReasonNotWorkingDay {
		t.Fatalf("expected %s, got %+v", ReasonNotWorkingDay, preview)
	}
}

func TestConflictListPreservesOrder(t *testing.T) {
	cal := baseCalendar()
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	events := &stubEvents{events: []caldav.BusyInterval{
		busyAt(14, 0, 15, 0),
		busyAt(10, 0, 11, 0),
	}}

	got, err := newResolver(cal, events, now).ConflictList(context.Background(),
		"2025-06-02", []string{"09:00", "10:00", "14:00", "16:00"}, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"10:00", "14:00"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("conflicts = %v, want %v", got, want)
	}
}

func TestAvailableSlotsDisplayTimezoneRoundTrip(t *testing.T) {
	cal := baseCalendar()
	now := time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)
	display := time.FixedZone("UTC+2", 2*60*60)
	events := &stubEvents{events: []caldav.BusyInterval{busyAt(10, 0, 11, 0)}}

	got, err := newResolver(cal, events, now).AvailableSlots(context.Background(), "2025-06-02", 60, display)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The 10:00 plugin slot displays as 12:00 in UTC+2 and must still be
	// recognized as the conflicting one.
	for _, slot := range got.Slots {
		if slot == "12:00" {
			t.Fatal("display label 12:00 maps back to the booked 10:00 plugin slot")
		}
	}
	found := false
	for _, slot := range got.Slots {
		if slot == "13:00" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the free 11:00 plugin slot to display as 13:00, got %v", got.Slots)
	}
}
