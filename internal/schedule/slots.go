package schedule

import (
	"fmt"
	"time"
)

// GenerateSlots produces the candidate time-of-day labels for one date.
//
// The [start, end) range comes from interpreting the date plus working-hour
// bounds in the plugin timezone, stepped by the calendar granularity. Labels
// are formatted in the display timezone so a visitor in another zone sees
// their own wall clock; in preview mode labels stay in the plugin timezone
// and nothing is filtered (statuses are decided by the resolver instead).
// Outside preview a slot is emitted only when it starts strictly after now
// and at or after the minimum-advance deadline.
func GenerateSlots(date string, cal WorkingCalendar, pluginLoc, displayLoc *time.Location, now time.Time, preview bool) ([]string, error) {
	start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+cal.HoursStart, pluginLoc)
	if err != nil {
		return nil, fmt.Errorf("invalid working-hours start for %s: %w", date, err)
	}
	end, err := time.ParseInLocation("2006-01-02 15:04", date+" "+cal.HoursEnd, pluginLoc)
	if err != nil {
		return nil, fmt.Errorf("invalid working-hours end for %s: %w", date, err)
	}

	step := time.Duration(cal.Granularity) * time.Minute
	deadline := cal.MinimumAdvance.Deadline(now, pluginLoc)

	var slots []string
	for t := start; t.Before(end); t = t.Add(step) {
		if preview {
			slots = append(slots, t.In(pluginLoc).Format("15:04"))
			continue
		}
		if t.After(now) && !t.Before(deadline) {
			slots = append(slots, t.In(displayLoc).Format("15:04"))
		}
	}
	return slots, nil
}
