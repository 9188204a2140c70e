// Package config loads the server settings from the environment and the
// working-calendar file. The result is a plain value object handed to the
// core packages; nothing reads settings ambiently after startup.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/example/appointment-booking/internal/caldav"
	"github.com/example/appointment-booking/internal/schedule"
)

// Config is the full operator configuration.
type Config struct {
	ListenAddr string
	SiteName   string
	SiteHost   string

	CalDAV caldav.Config

	Calendar         schedule.WorkingCalendar
	AppointmentTypes []schedule.AppointmentType
}

// calendarFile is the YAML document holding the working calendar and the
// bookable appointment types.
type calendarFile struct {
	schedule.WorkingCalendar `yaml:",inline"`

	AppointmentTypes []schedule.AppointmentType `yaml:"appointment_types"`
}

// Load reads environment variables and the optional calendar file named by
// BOOKING_CALENDAR_FILE. A missing file at the default path falls back to
// defaults; an explicitly configured file must exist.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: getEnvStr("LISTEN_ADDR", "0.0.0.0:5000"),
		SiteName:   getEnvStr("SITE_NAME", "Appointment Booking"),
		SiteHost:   getEnvStr("SITE_HOST", "localhost"),
		CalDAV: caldav.Config{
			URL:        getEnvStr("CALDAV_URL", ""),
			Username:   getEnvStr("CALDAV_USERNAME", ""),
			Password:   getEnvStr("CALDAV_PASSWORD", ""),
			ReadPolicy: caldav.ReadPolicy(getEnvStr("CALDAV_READ_POLICY", string(caldav.FailOpen))),
		},
	}

	path := getEnvStr("BOOKING_CALENDAR_FILE", "booking.yaml")
	explicit := os.Getenv("BOOKING_CALENDAR_FILE") != ""
	file, err := loadCalendarFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			file = &calendarFile{}
		} else {
			return nil, err
		}
	}
	file.normalize()

	if tz := os.Getenv("BOOKING_TIMEZONE"); tz != "" {
		file.Timezone = tz
	}
	if g := getEnvInt("BOOKING_GRANULARITY", 0); g != 0 {
		file.Granularity = g
	}

	cfg.Calendar = file.WorkingCalendar
	cfg.AppointmentTypes = file.AppointmentTypes

	if err := cfg.Calendar.Validate(); err != nil {
		return nil, fmt.Errorf("working calendar: %w", err)
	}
	for _, t := range cfg.AppointmentTypes {
		if t.Name == "" {
			return nil, fmt.Errorf("appointment type with empty name")
		}
		if !schedule.ValidDuration(t.Duration) {
			return nil, fmt.Errorf("appointment type %q: unsupported duration %d", t.Name, t.Duration)
		}
	}
	return cfg, nil
}

// TypeDuration looks up the duration for a named appointment type. Unknown
// names fall back to the first configured type.
func (c *Config) TypeDuration(name string) int {
	for _, t := range c.AppointmentTypes {
		if t.Name == name {
			return t.Duration
		}
	}
	return c.AppointmentTypes[0].Duration
}

func loadCalendarFile(path string) (*calendarFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calendar file: %w", err)
	}
	var file calendarFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing calendar file %s: %w", path, err)
	}
	return &file, nil
}

// normalize fills zero values so partially-filled configs behave.
func (f *calendarFile) normalize() {
	if len(f.WorkingDays) == 0 {
		f.WorkingDays = []string{"monday", "tuesday", "wednesday", "thursday", "friday"}
	}
	if f.HoursStart == "" {
		f.HoursStart = "09:00"
	}
	if f.HoursEnd == "" {
		f.HoursEnd = "17:00"
	}
	if f.Granularity == 0 {
		f.Granularity = 15
	}
	if f.MinimumAdvance == "" {
		f.MinimumAdvance = schedule.Advance2Hours
	}
	if len(f.AppointmentTypes) == 0 {
		f.AppointmentTypes = []schedule.AppointmentType{{Name: "General Consultation", Duration: 30}}
	}
}

func getEnvStr(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
