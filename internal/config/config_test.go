package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/appointment-booking/internal/caldav"
	"github.com/example/appointment-booking/internal/schedule"
)

func writeCalendarFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "booking.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:5000" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.Calendar.Granularity != 15 || cfg.Calendar.MinimumAdvance != schedule.Advance2Hours {
		t.Fatalf("unexpected calendar defaults: %+v", cfg.Calendar)
	}
	if len(cfg.Calendar.WorkingDays) != 5 {
		t.Fatalf("expected a weekday default, got %v", cfg.Calendar.WorkingDays)
	}
	if len(cfg.AppointmentTypes) != 1 || cfg.AppointmentTypes[0].Name != "General Consultation" {
		t.Fatalf("unexpected default types: %+v", cfg.AppointmentTypes)
	}
	if cfg.CalDAV.ReadPolicy != caldav.FailOpen {
		t.Fatalf("read policy should default to fail-open, got %q", cfg.CalDAV.ReadPolicy)
	}
}

func TestLoadCalendarFile(t *testing.T) {
	path := writeCalendarFile(t, `
working_days: [monday, wednesday]
working_hours_start: "08:00"
working_hours_end: "12:00"
granularity: 30
minimum_advance: next_day
timezone: Europe/Berlin
appointment_types:
  - name: Intake
    duration: 60
  - name: Follow-up
    duration: 15
`)
	t.Setenv("BOOKING_CALENDAR_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Calendar.HoursStart != "08:00" || cfg.Calendar.Granularity != 30 {
		t.Fatalf("calendar file not applied: %+v", cfg.Calendar)
	}
	if cfg.Calendar.MinimumAdvance != schedule.AdvanceNextDay || cfg.Calendar.Timezone != "Europe/Berlin" {
		t.Fatalf("calendar file not applied: %+v", cfg.Calendar)
	}
	if len(cfg.AppointmentTypes) != 2 || cfg.AppointmentTypes[1].Duration != 15 {
		t.Fatalf("types not loaded: %+v", cfg.AppointmentTypes)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	t.Setenv("BOOKING_CALENDAR_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("an explicitly configured file must exist")
	}
}

func TestLoadRejectsInvalidCalendar(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad granularity", "granularity: 7\n"},
		{"bad advance", "minimum_advance: 3h\n"},
		{"bad working day", "working_days: [funday]\n"},
		{"unnamed type", "appointment_types:\n  - duration: 30\n"},
		{"bad type duration", "appointment_types:\n  - name: Odd\n    duration: 25\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("BOOKING_CALENDAR_FILE", writeCalendarFile(t, tc.content))
			if _, err := Load(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BOOKING_CALENDAR_FILE", writeCalendarFile(t, "timezone: UTC\ngranularity: 15\n"))
	t.Setenv("BOOKING_TIMEZONE", "America/New_York")
	t.Setenv("BOOKING_GRANULARITY", "60")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Calendar.Timezone != "America/New_York" {
		t.Fatalf("timezone override not applied: %q", cfg.Calendar.Timezone)
	}
	if cfg.Calendar.Granularity != 60 {
		t.Fatalf("granularity override not applied: %d", cfg.Calendar.Granularity)
	}
}

func TestTypeDuration(t *testing.T) {
	cfg := &Config{AppointmentTypes: []schedule.AppointmentType{
		{Name: "Intake", Duration: 60},
		{Name: "Follow-up", Duration: 15},
	}}
	if got := cfg.TypeDuration("Follow-up"); got != 15 {
		t.Fatalf("TypeDuration(Follow-up) = %d", got)
	}
	// Unknown names fall back to the first configured type.
	if got := cfg.TypeDuration("Nonexistent"); got != 60 {
		t.Fatalf("TypeDuration(Nonexistent) = %d", got)
	}
}
