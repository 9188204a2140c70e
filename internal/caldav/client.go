// Package caldav talks to a single CalDAV collection over HTTP Basic auth:
// connection probing, per-day busy-interval queries, and event create,
// update and delete. Calls are synchronous, timeout-bounded and never
// retried; CalDAV is the system of record for appointments.
package caldav

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	gocaldav "github.com/emersion/go-webdav/caldav"
)

// ReadPolicy decides what a failed busy-interval fetch means for
// availability: fail-open treats it as "no conflicts found" (availability
// over strict accuracy), fail-closed surfaces the error and blocks booking.
type ReadPolicy string

const (
	FailOpen   ReadPolicy = "fail_open"
	FailClosed ReadPolicy = "fail_closed"
)

const (
	requestTimeout = 10 * time.Second
	reportTimeout  = 15 * time.Second
)

const propfindBody = `<?xml version="1.0" encoding="utf-8" ?><D:propfind xmlns:D="DAV:"><D:prop><D:displayname/></D:prop></D:propfind>`

const reportBodyFormat = `<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag />
    <C:calendar-data />
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%sT00:00:00Z" end="%sT23:59:59Z"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`

// Config carries the operator's CalDAV settings.
type Config struct {
	URL        string
	Username   string
	Password   string
	ReadPolicy ReadPolicy
}

// Appointment is the event payload written to (and matched against) the
// remote calendar. Date is YYYY-MM-DD and Time is HH:MM in Timezone.
type Appointment struct {
	Name     string
	Email    string
	Phone    string
	Type     string
	Date     string
	Time     string
	Duration int
	Notes    string
	VideoURL string
	Timezone string
}

// UID derives the deterministic event identity from the bookable fields.
// Two bookings for the same type, date and time therefore collide on the
// server; the second PUT overwrites the first. See the last-write-wins test.
func UID(date, timeOfDay, appointmentType string) string {
	sum := md5.Sum([]byte(date + timeOfDay + appointmentType))
	return "eab-" + hex.EncodeToString(sum[:])
}

// ErrNotConfigured reports missing CalDAV credentials.
var ErrNotConfigured = errors.New("caldav not configured")

type basicAuthTransport struct {
	Username string
	Password string
	Base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	return t.Base.RoundTrip(req)
}

// Client issues CalDAV requests against one collection.
type Client struct {
	cfg        Config
	loc        *time.Location
	httpClient *http.Client
	reportClnt *http.Client
	dav        *gocaldav.Client
	logger     *slog.Logger
	now        func() time.Time
}

// New builds a client for the configured collection. loc is the plugin
// timezone used to normalize fetched event times into comparison keys.
func New(cfg Config, loc *time.Location, logger *slog.Logger) (*Client, error) {
	if cfg.ReadPolicy == "" {
		cfg.ReadPolicy = FailOpen
	}
	if cfg.ReadPolicy != FailOpen && cfg.ReadPolicy != FailClosed {
		return nil, fmt.Errorf("unknown caldav read policy %q", cfg.ReadPolicy)
	}
	transport := &basicAuthTransport{
		Username: cfg.Username,
		Password: cfg.Password,
		Base:     http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport, Timeout: requestTimeout}

	var dav *gocaldav.Client
	if cfg.URL != "" {
		var err error
		dav, err = gocaldav.NewClient(httpClient, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("initializing caldav client: %w", err)
		}
	}
	return &Client{
		cfg:        cfg,
		loc:        loc,
		httpClient: httpClient,
		reportClnt: &http.Client{Transport: transport, Timeout: reportTimeout},
		dav:        dav,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (c *Client) configured() bool {
	return c.cfg.URL != "" && c.cfg.Username != "" && c.cfg.Password != ""
}

// Probe verifies the collection is reachable at startup. Failure is
// reported, not fatal: availability degrades per the read policy instead of
// refusing to serve.
func (c *Client) Probe(ctx context.Context) {
	if !c.configured() {
		c.logger.Warn("caldav not configured, conflict detection disabled")
		return
	}
	calendars, err := c.dav.FindCalendars(ctx, "")
	if err != nil {
		c.logger.Error("caldav probe failed", "url", c.cfg.URL, "error", err)
		return
	}
	c.logger.Info("caldav endpoint reachable", "calendars", len(calendars))
}

// TestConnection checks credentials against a CalDAV endpoint with a
// Depth 0 PROPFIND and maps the response to an operator-readable verdict.
// 404 still counts as success because some servers 404 empty collections.
func (c *Client) TestConnection(ctx context.Context, rawURL, username, password string) (bool, string) {
	if rawURL == "" {
		rawURL, username, password = c.cfg.URL, c.cfg.Username, c.cfg.Password
	}
	if rawURL == "" || username == "" || password == "" {
		return false, "Please fill in all CalDAV fields (URL, username, and password)."
	}

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", rawURL, strings.NewReader(propfindBody))
	if err != nil {
		return false, "Connection failed: " + err.Error()
	}
	req.SetBasicAuth(username, password)
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", "0")

	resp, err := (&http.Client{Timeout: requestTimeout}).Do(req)
	if err != nil {
		return false, "Connection failed: " + err.Error()
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusMultiStatus:
		return true, "CalDAV connection successful!"
	case http.StatusNotFound:
		return true, "CalDAV connection successful! (Calendar endpoint found)"
	case http.StatusUnauthorized:
		return false, "Authentication failed. Please check your username and password."
	case http.StatusForbidden:
		return false, "Access forbidden. Please check your permissions."
	default:
		return false, fmt.Sprintf("Connection failed with HTTP status: %d", resp.StatusCode)
	}
}

// FetchEventsForDate queries the collection for VEVENTs overlapping the UTC
// day and returns them as frame-shifted busy intervals. Under the fail-open
// policy any transport or protocol failure yields an empty set; under
// fail-closed it is returned to the caller.
func (c *Client) FetchEventsForDate(ctx context.Context, date string) ([]BusyInterval, error) {
	if !c.configured() {
		return nil, nil
	}

	body := fmt.Sprintf(reportBodyFormat, date, date)
	req, err := http.NewRequestWithContext(ctx, "REPORT", c.cfg.URL, strings.NewReader(body))
	if err != nil {
		return nil, c.readFailure(date, err)
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", "1")

	resp, err := c.reportClnt.Do(req)
	if err != nil {
		return nil, c.readFailure(date, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		return nil, c.readFailure(date, fmt.Errorf("unexpected REPORT status %d", resp.StatusCode))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.readFailure(date, err)
	}
	return ParseEvents(payload, c.loc), nil
}

// readFailure applies the read policy to a failed fetch.
func (c *Client) readFailure(date string, err error) error {
	if c.cfg.ReadPolicy == FailClosed {
		return fmt.Errorf("fetching events for %s: %w", date, err)
	}
	c.logger.Warn("caldav fetch failed, treating day as conflict-free", "date", date, "error", err)
	return nil
}

// CreateEvent writes the appointment as a new VEVENT at a UID-derived path.
// The event times are converted from the appointment's timezone to UTC.
func (c *Client) CreateEvent(ctx context.Context, appt Appointment) error {
	if !c.configured() {
		return ErrNotConfigured
	}

	loc, err := time.LoadLocation(appt.Timezone)
	if err != nil {
		return fmt.Errorf("invalid appointment timezone %q: %w", appt.Timezone, err)
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", appt.Date+" "+appt.Time, loc)
	if err != nil {
		return fmt.Errorf("invalid date or time format: %w", err)
	}
	end := start.Add(time.Duration(appt.Duration) * time.Minute)

	uid := UID(appt.Date, appt.Time, appt.Type)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//REVENTOR.EU//REVENTOR Calendar Appointment Booking//EN")

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, c.now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	event.Props.SetText(ical.PropSummary, appt.Type+" - "+appt.Name)
	event.Props.SetText(ical.PropDescription, appointmentDescription(appt))
	if appt.VideoURL != "" {
		event.Props.SetText(ical.PropLocation, appt.VideoURL)
		event.Props.SetText(ical.PropURL, appt.VideoURL)
	} else {
		event.Props.SetText(ical.PropLocation, "Online Meeting")
	}
	event.Props.SetText(ical.PropStatus, "CONFIRMED")
	cal.Children = append(cal.Children, event.Component)

	path, err := c.eventPath(uid)
	if err != nil {
		return err
	}
	if _, err := c.dav.PutCalendarObject(ctx, path, cal); err != nil {
		return fmt.Errorf("creating caldav event %s: %w", uid, err)
	}
	c.logger.Info("caldav event created", "uid", uid, "date", appt.Date, "time", appt.Time)
	return nil
}

// UpdateEvent replaces an event by deleting the old identity and creating
// the new one. The two steps are not atomic: a crash in between loses the
// appointment.
func (c *Client) UpdateEvent(ctx context.Context, updated, previous Appointment) error {
	if err := c.DeleteEvent(ctx, previous); err != nil {
		c.logger.Warn("old event not removed before update", "error", err)
	}
	return c.CreateEvent(ctx, updated)
}

// DeleteEvent removes the event matching the appointment. The read path
// stores no UID, so the day's events are re-fetched and matched by start
// time and a type substring in the summary before the deterministic UID is
// recomputed for the DELETE. A 404 means already gone and counts as success.
func (c *Client) DeleteEvent(ctx context.Context, appt Appointment) error {
	if !c.configured() {
		return ErrNotConfigured
	}

	events, err := c.FetchEventsForDate(ctx, appt.Date)
	if err != nil {
		return err
	}
	for _, ev := range events {
		startLabel := time.Unix(ev.Start, 0).UTC().Format("15:04")
		if startLabel != appt.Time || !strings.Contains(ev.Summary, appt.Type) {
			continue
		}
		return c.deleteByUID(ctx, UID(appt.Date, appt.Time, appt.Type))
	}
	return fmt.Errorf("no caldav event matches %s %s (%s)", appt.Date, appt.Time, appt.Type)
}

func (c *Client) deleteByUID(ctx context.Context, uid string) error {
	target := strings.TrimSuffix(c.cfg.URL, "/") + "/" + uid + ".ics"
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting caldav event %s: %w", uid, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		c.logger.Info("caldav event deleted", "uid", uid, "status", resp.StatusCode)
		return nil
	default:
		return fmt.Errorf("deleting caldav event %s: unexpected status %d", uid, resp.StatusCode)
	}
}

// eventPath is the collection-relative object path for a UID.
func (c *Client) eventPath(uid string) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid caldav url: %w", err)
	}
	return strings.TrimSuffix(u.Path, "/") + "/" + uid + ".ics", nil
}

func appointmentDescription(appt Appointment) string {
	var b strings.Builder
	b.WriteString("Name: " + appt.Name + "\n")
	b.WriteString("Email: " + appt.Email + "\n")
	phone := appt.Phone
	if phone == "" {
		phone = "---"
	}
	b.WriteString("Phone: " + phone + "\n")
	if appt.VideoURL != "" {
		b.WriteString("Video Meeting: " + appt.VideoURL + "\n")
	}
	b.WriteString("Type: " + appt.Type + "\n")
	b.WriteString("Date: " + appt.Date + "\n")
	b.WriteString("Time: " + appt.Time)
	if appt.Notes != "" {
		b.WriteString("\nNotes: " + appt.Notes)
	}
	return b.String()
}
