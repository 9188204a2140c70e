// Package booking validates and commits appointment requests. CalDAV is the
// system of record: nothing is stored locally, and a failed remote write
// fails the whole booking with no partial state left behind.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/appointment-booking/internal/caldav"
	"github.com/example/appointment-booking/internal/timezone"
)

// State names the steps of one booking attempt. Every transition failure is
// terminal for the request; nothing is retried.
type State string

const (
	StateValidating           State = "validating"
	StateCheckingAvailability State = "checking_availability"
	StateCreatingRemoteEvent  State = "creating_remote_event"
	StateConfirmed            State = "confirmed"
	StateFailed               State = "failed"
)

// Validation error kinds returned to the caller.
const (
	KindMissingField    = "missing_field"
	KindInvalidEmail    = "invalid_email"
	KindInvalidDuration = "invalid_duration"
	KindTimezoneError   = "timezone_error"
	KindTimezoneWarning = "timezone_warning"
	KindSlotTaken       = "slot_taken"
	KindCalendarError   = "calendar_error"
)

// ValidationError is a structured, user-facing booking failure.
type ValidationError struct {
	Kind    string
	Message string
	// FallbackTimezone is set for KindTimezoneWarning so the caller can
	// offer a one-click confirmation of the plugin timezone.
	FallbackTimezone string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Request is one visitor booking submission. Date is YYYY-MM-DD; Time is the
// HH:MM label the visitor picked, in their display timezone.
type Request struct {
	Name              string
	Email             string
	Phone             string
	Type              string
	Duration          int
	Date              string
	Time              string
	Notes             string
	UserTimezone      string
	TimezoneConfirmed bool
}

// Confirmation is the payload handed to the email collaborator after a
// successful booking, together with the generated ICS attachment.
type Confirmation struct {
	Name         string
	Email        string
	Phone        string
	Type         string
	Date         string
	Time         string
	Duration     int
	Notes        string
	VideoURL     string
	UserTimezone string
	ICS          string
}

// CalendarWriter creates the remote event.
type CalendarWriter interface {
	CreateEvent(ctx context.Context, appt caldav.Appointment) error
}

// SlotChecker re-validates a single slot immediately before the write.
type SlotChecker interface {
	SlotConflicts(ctx context.Context, date, displaySlot string, duration int, displayLoc *time.Location) (bool, error)
}

// ConfirmationSender delivers the confirmation email. Delivery is outside
// the engine; a send failure never fails the booking.
type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, conf Confirmation) error
}

// Writer runs the booking state machine.
type Writer struct {
	Calendar     CalendarWriter
	Availability SlotChecker
	Sender       ConfirmationSender
	// TimezoneSetting is the operator-configured plugin timezone string,
	// used as the confirmed fallback when browser detection failed.
	TimezoneSetting string
	PluginLoc       *time.Location
	SiteName        string
	SiteHost        string
	Logger          *slog.Logger
	// NewVideoURL generates the video-meeting link for a confirmed booking.
	// Defaults to a random meet.jit.si room.
	NewVideoURL func() string
	Now         func() time.Time
}

// Book runs Validating -> CheckingAvailability -> CreatingRemoteEvent and
// ends in Confirmed or Failed. User errors come back as *ValidationError.
func (w *Writer) Book(ctx context.Context, req Request) (Confirmation, error) {
	w.transition(StateValidating, req)

	if req.Name == "" || req.Email == "" || req.Type == "" || req.Date == "" || req.Time == "" {
		return w.fail(req, &ValidationError{Kind: KindMissingField, Message: "Please fill in all required fields."})
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return w.fail(req, &ValidationError{Kind: KindInvalidEmail, Message: "Please enter a valid email address."})
	}
	duration := req.Duration
	if duration == 0 {
		duration = 30
	}
	if !validBookingDuration(duration) {
		return w.fail(req, &ValidationError{Kind: KindInvalidDuration, Message: fmt.Sprintf("Unsupported appointment duration: %d minutes.", duration)})
	}

	tz, verr := w.resolveTimezone(req)
	if verr != nil {
		return w.fail(req, verr)
	}

	w.transition(StateCheckingAvailability, req)
	displayLoc := timezone.ResolveDisplay(tz, w.PluginLoc)
	conflict, err := w.Availability.SlotConflicts(ctx, req.Date, req.Time, duration, displayLoc)
	if err != nil {
		w.Logger.Error("availability recheck failed", "date", req.Date, "time", req.Time, "error", err)
		return w.fail(req, &ValidationError{Kind: KindCalendarError, Message: "Error creating appointment in CalDAV calendar. Please try again."})
	}
	if conflict {
		return w.fail(req, &ValidationError{Kind: KindSlotTaken, Message: "This time slot conflicts with an existing calendar event."})
	}

	w.transition(StateCreatingRemoteEvent, req)
	videoURL := w.newVideoURL()
	appt := caldav.Appointment{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Type:     req.Type,
		Date:     req.Date,
		Time:     req.Time,
		Duration: duration,
		Notes:    req.Notes,
		VideoURL: videoURL,
		Timezone: tz,
	}
	if err := w.Calendar.CreateEvent(ctx, appt); err != nil {
		w.Logger.Error("caldav event creation failed", "date", req.Date, "time", req.Time, "error", err)
		return w.fail(req, &ValidationError{Kind: KindCalendarError, Message: "Error creating appointment in CalDAV calendar. Please try again."})
	}

	conf := Confirmation{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		Type:         req.Type,
		Date:         req.Date,
		Time:         req.Time,
		Duration:     duration,
		Notes:        req.Notes,
		VideoURL:     videoURL,
		UserTimezone: tz,
	}
	ics, err := GenerateICS(conf, w.SiteName, w.SiteHost, w.now())
	if err != nil {
		w.Logger.Error("ics generation failed", "date", req.Date, "time", req.Time, "error", err)
	} else {
		conf.ICS = ics
	}

	if w.Sender != nil {
		if err := w.Sender.SendConfirmation(ctx, conf); err != nil {
			w.Logger.Error("confirmation email failed", "email", req.Email, "error", err)
		}
	}

	w.transition(StateConfirmed, req)
	return conf, nil
}

// resolveTimezone picks the timezone the appointment is anchored in:
// customer-supplied, else the operator's plugin timezone once the customer
// confirmed the fallback, else a hard failure. Never a silent guess.
func (w *Writer) resolveTimezone(req Request) (string, *ValidationError) {
	tz := req.UserTimezone
	if tz == "" {
		if w.TimezoneSetting == "" {
			return "", &ValidationError{
				Kind:    KindTimezoneError,
				Message: "Timezone detection failed. Please ensure JavaScript is enabled and try again.",
			}
		}
		if !req.TimezoneConfirmed {
			return "", &ValidationError{
				Kind:             KindTimezoneWarning,
				Message:          fmt.Sprintf("Timezone detection failed. Times will be shown in %s timezone. Do you want to continue?", w.TimezoneSetting),
				FallbackTimezone: w.TimezoneSetting,
			}
		}
		tz = w.TimezoneSetting
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", &ValidationError{
			Kind:    KindTimezoneError,
			Message: "Invalid timezone detected. Please refresh the page and try again.",
		}
	}
	return tz, nil
}

func (w *Writer) fail(req Request, verr *ValidationError) (Confirmation, error) {
	w.Logger.Info("booking failed", "state", StateFailed, "kind", verr.Kind, "date", req.Date, "time", req.Time)
	return Confirmation{}, verr
}

func (w *Writer) transition(state State, req Request) {
	w.Logger.Debug("booking state", "state", state, "date", req.Date, "time", req.Time, "type", req.Type)
}

func (w *Writer) newVideoURL() string {
	if w.NewVideoURL != nil {
		return w.NewVideoURL()
	}
	slug := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "https://meet.jit.si/" + slug
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func validBookingDuration(minutes int) bool {
	switch minutes {
	case 15, 30, 45, 60, 90, 120:
		return true
	}
	return false
}
