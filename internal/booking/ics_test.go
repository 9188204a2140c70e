package booking

import (
	"strings"
	"testing"
	"time"
)

func icsFixture() Confirmation {
	return Confirmation{
		Name:         "Jane Doe",
		Email:        "jane@example.com",
		Type:         "Consultation",
		Date:         "2025-01-15",
		Time:         "10:00",
		Duration:     30,
		Notes:        "Ring twice; use the side door, please",
		VideoURL:     "https://meet.jit.si/fixedroom",
		UserTimezone: "Europe/Berlin",
	}
}

// unfold removes RFC 5545 line folding so fragments can be matched without
// caring where the encoder broke the line.
func unfold(ics string) string {
	return strings.ReplaceAll(ics, "\r\n ", "")
}

func TestGenerateICS(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	ics, err := GenerateICS(icsFixture(), "Example Clinic", "clinic.example.com", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flat := unfold(ics)

	// 10:00 Berlin in January is 09:00 UTC.
	for _, fragment := range []string{
		"BEGIN:VCALENDAR",
		"METHOD:PUBLISH",
		"CALSCALE:GREGORIAN",
		"DTSTART:20250115T090000Z",
		"DTEND:20250115T093000Z",
		"DTSTAMP:20250110T090000Z",
		"SUMMARY:Example Clinic - Consultation - 30 min",
		"LOCATION:https://meet.jit.si/fixedroom",
		"STATUS:CONFIRMED",
	} {
		if !strings.Contains(flat, fragment) {
			t.Errorf("ICS missing %q:\n%s", fragment, ics)
		}
	}
}

func TestGenerateICSUIDMatchesCalendarIdentity(t *testing.T) {
	conf := icsFixture()
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	ics, err := GenerateICS(conf, "Example Clinic", "clinic.example.com", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flat := unfold(ics)

	want := "UID:" + confirmationUID(conf) + "@clinic.example.com"
	if !strings.Contains(flat, want) {
		t.Fatalf("ICS missing %q:\n%s", want, ics)
	}

	// Same bookable slot, different customer: identical UID.
	other := conf
	other.Name, other.Email = "John Roe", "john@example.com"
	if confirmationUID(other) != confirmationUID(conf) {
		t.Fatal("UID must depend only on date, time and type")
	}
}

func TestGenerateICSEscapesText(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	ics, err := GenerateICS(icsFixture(), "Example Clinic", "clinic.example.com", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flat := unfold(ics)

	if !strings.Contains(flat, `side door\, please`) {
		t.Fatalf("comma in notes not escaped:\n%s", ics)
	}
	if !strings.Contains(flat, `Ring twice\;`) {
		t.Fatalf("semicolon in notes not escaped:\n%s", ics)
	}
	if !strings.Contains(flat, `Appointment details:\n`) {
		t.Fatalf("newlines in description not escaped:\n%s", ics)
	}
}

func TestGenerateICSWithoutVideoURL(t *testing.T) {
	conf := icsFixture()
	conf.VideoURL = ""
	ics, err := GenerateICS(conf, "Example Clinic", "clinic.example.com", time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(unfold(ics), "LOCATION:Online Meeting") {
		t.Fatalf("expected the placeholder location:\n%s", ics)
	}
}

func TestGenerateICSRejectsBadInput(t *testing.T) {
	conf := icsFixture()
	conf.UserTimezone = "Not/AZone"
	if _, err := GenerateICS(conf, "Example Clinic", "clinic.example.com", time.Now()); err == nil {
		t.Fatal("expected an error for an invalid timezone")
	}

	conf = icsFixture()
	conf.Time = "ten o'clock"
	if _, err := GenerateICS(conf, "Example Clinic", "clinic.example.com", time.Now()); err == nil {
		t.Fatal("expected an error for an unparseable time")
	}
}
