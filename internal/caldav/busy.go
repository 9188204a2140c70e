package caldav

import (
	"time"
	_ "time/tzdata"
)

// BusyInterval is one occupied range parsed from a remote VEVENT. Start and
// End are Unix comparison keys, not true instants: explicit-UTC event times
// are re-expressed as the plugin-timezone wall clock and that wall clock is
// reinterpreted as UTC (see FrameShiftKey). Slot keys in internal/schedule
// are built the same way, so the two sides line up. Intervals are rebuilt on
// every request and never cached.
type BusyInterval struct {
	Start   int64
	End     int64
	Summary string
}

// FrameShiftKey converts a true instant into the comparison key used
// throughout conflict detection: the wall clock that t shows in loc,
// reinterpreted as if it were UTC. This is an internal normalization
// convention, not a general-purpose time conversion.
func FrameShiftKey(t time.Time, loc *time.Location) int64 {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), lt.Minute(), lt.Second(), 0, time.UTC).Unix()
}

// floating layouts tried for values that are neither date-only nor
// explicitly UTC. They are interpreted as UTC; a TZID parameter on the
// property is deliberately ignored, matching how slot keys are built.
var floatingLayouts = []string{
	"20060102T150405",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// decodeDateTime turns a raw DTSTART/DTEND value into a comparison key.
//
//	YYYYMMDD          -> midnight UTC (whole-day event, no frame shift)
//	YYYYMMDDTHHMMSSZ  -> UTC instant, frame-shifted into loc's wall clock
//	anything else     -> best-effort parse as a UTC-zoned value, no shift
//
// ok is false when the value cannot be decoded; the caller drops the event.
func decodeDateTime(value string, loc *time.Location) (key int64, ok bool) {
	switch {
	case value == "":
		return 0, false
	case len(value) == 8:
		t, err := time.ParseInLocation("20060102", value, time.UTC)
		if err != nil {
			return 0, false
		}
		return t.Unix(), true
	case len(value) == 16 && value[15] == 'Z':
		t, err := time.ParseInLocation("20060102T150405Z", value, time.UTC)
		if err != nil {
			return 0, false
		}
		return FrameShiftKey(t, loc), true
	default:
		for _, layout := range floatingLayouts {
			if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
				return t.Unix(), true
			}
		}
		return 0, false
	}
}
