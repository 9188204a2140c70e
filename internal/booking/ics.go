package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/example/appointment-booking/internal/caldav"
)

// GenerateICS renders the confirmation attachment for a booked appointment:
// a standalone VCALENDAR/VEVENT with UTC timestamps. Text escaping
// (backslash, newline, comma, semicolon) is handled by the go-ical encoder.
func GenerateICS(conf Confirmation, siteName, siteHost string, now time.Time) (string, error) {
	loc, err := time.LoadLocation(conf.UserTimezone)
	if err != nil {
		return "", fmt.Errorf("invalid confirmation timezone %q: %w", conf.UserTimezone, err)
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", conf.Date+" "+conf.Time, loc)
	if err != nil {
		return "", fmt.Errorf("invalid appointment date/time: %w", err)
	}
	end := start.Add(time.Duration(conf.Duration) * time.Minute)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//"+siteName+"//REVENTOR Calendar Appointment Booking//EN")
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")
	cal.Props.SetText(ical.PropMethod, "PUBLISH")

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, confirmationUID(conf)+"@"+siteHost)
	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	event.Props.SetText(ical.PropSummary, fmt.Sprintf("%s - %s - %d min", siteName, conf.Type, conf.Duration))
	event.Props.SetText(ical.PropDescription, confirmationDescription(conf))
	if conf.VideoURL != "" {
		event.Props.SetText(ical.PropLocation, conf.VideoURL)
		event.Props.SetText(ical.PropURL, conf.VideoURL)
	} else {
		event.Props.SetText(ical.PropLocation, "Online Meeting")
	}
	event.Props.SetText(ical.PropStatus, "CONFIRMED")
	cal.Children = append(cal.Children, event.Component)

	var out strings.Builder
	if err := ical.NewEncoder(&out).Encode(cal); err != nil {
		return "", fmt.Errorf("encoding ics: %w", err)
	}
	return out.String(), nil
}

// confirmationUID mirrors the deterministic CalDAV identity so the emailed
// event and the server event reference the same booking.
func confirmationUID(conf Confirmation) string {
	return "reventorcab-" + strings.TrimPrefix(caldav.UID(conf.Date, conf.Time, conf.Type), "eab-")
}

func confirmationDescription(conf Confirmation) string {
	var b strings.Builder
	b.WriteString("Appointment details:\n")
	b.WriteString("Service: " + conf.Type + "\n")
	b.WriteString("Date: " + conf.Date + "\n")
	b.WriteString("Time: " + conf.Time + "\n")
	fmt.Fprintf(&b, "Duration: %d minutes\n", conf.Duration)
	b.WriteString("Name: " + conf.Name + "\n")
	phone := conf.Phone
	if phone == "" {
		phone = "---"
	}
	b.WriteString("Phone: " + phone + "\n")
	if conf.VideoURL != "" {
		b.WriteString("Video Meeting: " + conf.VideoURL + "\n")
	}
	if conf.Notes != "" {
		b.WriteString("Notes: " + conf.Notes + "\n")
	}
	return b.String()
}
