package caldav

import (
	"bytes"
	"encoding/xml"
	"strings"
	"time"
)

// ParseEvents extracts busy intervals from a raw multistatus REPORT body.
// Malformed XML or iCalendar content is never an error: whatever was
// successfully extracted up to that point is returned, so a flaky remote
// calendar degrades to fewer detected conflicts rather than a failed request.
func ParseEvents(body []byte, loc *time.Location) []BusyInterval {
	var events []BusyInterval
	for _, data := range extractCalendarData(body) {
		events = append(events, parseCalendarData(data, loc)...)
	}
	return events
}

// extractCalendarData collects the text content of every <calendar-data>
// node. It tokenizes rather than unmarshals so a decode error mid-document
// still yields the nodes read before it.
func extractCalendarData(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	var (
		nodes   []string
		current strings.Builder
		inside  bool
	)
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nodes
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "calendar-data" {
				inside = true
				current.Reset()
			}
		case xml.CharData:
			if inside {
				current.Write(t)
			}
		case xml.EndElement:
			if inside && t.Name.Local == "calendar-data" {
				inside = false
				nodes = append(nodes, current.String())
			}
		}
	}
}

// parseCalendarData scans one iCalendar payload line by line, collecting
// DTSTART, DTEND and SUMMARY between BEGIN:VEVENT/END:VEVENT markers. An
// event is kept only when both endpoints decoded.
func parseCalendarData(data string, loc *time.Location) []BusyInterval {
	var (
		events  []BusyInterval
		inEvent bool
		current BusyInterval
		startOK bool
		endOK   bool
	)
	lines := strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case line == "BEGIN:VEVENT":
			inEvent = true
			current = BusyInterval{}
			startOK, endOK = false, false
		case line == "END:VEVENT" && inEvent:
			if startOK && endOK {
				events = append(events, current)
			}
			inEvent = false
		case inEvent && strings.HasPrefix(line, "DTSTART"):
			current.Start, startOK = decodeDateTime(propertyValue(line), loc)
		case inEvent && strings.HasPrefix(line, "DTEND"):
			current.End, endOK = decodeDateTime(propertyValue(line), loc)
		case inEvent && strings.HasPrefix(line, "SUMMARY"):
			current.Summary = propertyValue(line)
		}
	}
	return events
}

// propertyValue returns the value part of a content line, skipping the
// property name and any parameters before the first colon.
func propertyValue(line string) string {
	if _, value, found := strings.Cut(line, ":"); found {
		return strings.TrimSpace(value)
	}
	return ""
}
