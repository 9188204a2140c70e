package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/example/appointment-booking/internal/booking"
	"github.com/example/appointment-booking/internal/timezone"
)

type bookingRequest struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Type              string `json:"appointment_type"`
	Duration          int    `json:"duration"`
	Date              string `json:"date"`
	Time              string `json:"time"`
	Notes             string `json:"notes"`
	UserTimezone      string `json:"user_timezone"`
	TimezoneConfirmed bool   `json:"timezone_confirmed"`
	CSRFToken         string `json:"_csrf"`
}

type connectionTestRequest struct {
	URL       string `json:"url"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	CSRFToken string `json:"_csrf"`
}

type conflictTestRequest struct {
	Date      string `json:"date"`
	CSRFToken string `json:"_csrf"`
}

func (s *Server) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, http.StatusOK, map[string]string{"token": uuid.New().String()})
}

// checkCSRF mirrors the double-submit check: the X-CSRF-Token header must be
// present and match the token echoed in the request body.
func checkCSRF(r *http.Request, bodyToken string) (ok bool, message string) {
	header := r.Header.Get("X-CSRF-Token")
	if header == "" {
		return false, "CSRF token missing"
	}
	if bodyToken != header {
		return false, "Invalid CSRF token"
	}
	return true, ""
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	if cors(w, r, "GET, OPTIONS") {
		return
	}

	q := r.URL.Query()
	date := q.Get("date")
	if date == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Please select a date."})
		return
	}

	duration := s.cfg.TypeDuration(q.Get("appointment_type"))
	if v, err := strconv.Atoi(q.Get("duration")); err == nil && v > 0 {
		duration = v
	}

	if q.Get("preview") == "true" {
		preview, err := s.resolver.PreviewSlots(r.Context(), date, duration)
		if err != nil {
			s.slotsFailure(w, date, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"slots":         nonNil(preview.Slots),
			"all_slots":     preview.AllSlots,
			"admin_preview": true,
			"debug":         preview.Reason,
		})
		return
	}

	displayLoc := timezone.ResolveDisplay(q.Get("user_timezone"), s.pluginLoc)
	availability, err := s.resolver.AvailableSlots(r.Context(), date, duration, displayLoc)
	if err != nil {
		s.slotsFailure(w, date, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"slots":   nonNil(availability.Slots),
		"debug":   availability.Reason,
	})
}

func (s *Server) slotsFailure(w http.ResponseWriter, date string, err error) {
	s.logger.Error("slot resolution failed", "date", date, "error", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"error":   "An error occurred while loading time slots.",
	})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	if cors(w, r, "POST, OPTIONS") {
		return
	}

	var req bookingRequest
	if !s.decodeChecked(w, r, &req, func() string { return req.CSRFToken }) {
		return
	}

	conf, err := s.writer.Book(r.Context(), booking.Request{
		Name:              req.Name,
		Email:             req.Email,
		Phone:             req.Phone,
		Type:              req.Type,
		Duration:          req.Duration,
		Date:              req.Date,
		Time:              req.Time,
		Notes:             req.Notes,
		UserTimezone:      req.UserTimezone,
		TimezoneConfirmed: req.TimezoneConfirmed,
	})
	if err != nil {
		var verr *booking.ValidationError
		if errors.As(err, &verr) {
			resp := map[string]any{"success": false, "error": verr.Message, "kind": verr.Kind}
			if verr.FallbackTimezone != "" {
				resp["fallback_timezone"] = verr.FallbackTimezone
			}
			s.writeJSON(w, http.StatusOK, resp)
			return
		}
		s.logger.Error("booking failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Error booking appointment. Please try again."})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Appointment booked successfully!",
		"video_url": conf.VideoURL,
	})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if cors(w, r, "POST, OPTIONS") {
		return
	}

	var req connectionTestRequest
	if !s.decodeChecked(w, r, &req, func() string { return req.CSRFToken }) {
		return
	}

	ok, message := s.caldav.TestConnection(r.Context(), req.URL, req.Username, req.Password)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": ok, "message": message})
}

// handleConflictTest probes the remote calendar for one date: it builds the
// working-hour grid stepped by the default appointment duration and reports
// which slots conflict.
func (s *Server) handleConflictTest(w http.ResponseWriter, r *http.Request) {
	if cors(w, r, "POST, OPTIONS") {
		return
	}

	var req conflictTestRequest
	if !s.decodeChecked(w, r, &req, func() string { return req.CSRFToken }) {
		return
	}
	if req.Date == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Date is required"})
		return
	}

	duration := s.cfg.AppointmentTypes[0].Duration
	slots, err := utcGridSlots(req.Date, s.cfg.Calendar.HoursStart, s.cfg.Calendar.HoursEnd, duration)
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Error checking conflicts: " + err.Error()})
		return
	}

	conflicts, err := s.resolver.ConflictList(r.Context(), req.Date, slots, duration)
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Error checking conflicts: " + err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"conflicts":      nonNil(conflicts),
		"total_slots":    len(slots),
		"conflict_count": len(conflicts),
		"message":        "CalDAV conflicts checked successfully",
	})
}

// utcGridSlots builds the connection-test grid in UTC, independent of any
// server timezone.
func utcGridSlots(date, hoursStart, hoursEnd string, stepMinutes int) ([]string, error) {
	start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hoursStart, time.UTC)
	if err != nil {
		return nil, err
	}
	end, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hoursEnd, time.UTC)
	if err != nil {
		return nil, err
	}
	var slots []string
	for t := start; t.Before(end); t = t.Add(time.Duration(stepMinutes) * time.Minute) {
		slots = append(slots, t.Format("15:04"))
	}
	return slots, nil
}

// nonNil keeps empty slot lists encoding as [] instead of null.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
