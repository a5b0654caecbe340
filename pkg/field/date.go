package field

import (
	"fmt"
	"strings"
	"time"
)

// dateLayout is the ISO-8601 instant half of the canonical date-with-timezone
// string, always rendered in UTC with millisecond precision.
const dateLayout = "2006-01-02T15:04:05.000Z"

// DateValue is the parsed form of a canonical date-with-timezone string:
// an instant plus the IANA zone name it was originally expressed in.
type DateValue struct {
	Instant time.Time
	Zone    string
}

// ParseDate parses the canonical form `<ISO-8601 instant in UTC>|<IANA zone
// name>`, e.g. "2025-10-28T10:30:00.000Z|America/New_York". Any other form
// is rejected.
func ParseDate(s string) (DateValue, error) {
	parts := strings.SplitN(s, "|", 2)
	if len(parts) != 2 {
		return DateValue{}, fmt.Errorf("date %q missing '|<zone>' suffix", s)
	}
	instantStr, zone := parts[0], parts[1]

	instant, err := time.Parse(dateLayout, instantStr)
	if err != nil {
		return DateValue{}, fmt.Errorf("date %q: instant not in canonical form: %w", s, err)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return DateValue{}, fmt.Errorf("date %q: unknown IANA zone %q: %w", s, zone, err)
	}
	return DateValue{Instant: instant.In(loc), Zone: zone}, nil
}

// FormatDate renders a DateValue back to its canonical string form.
func FormatDate(v DateValue) string {
	return v.Instant.UTC().Format(dateLayout) + "|" + v.Zone
}

// NewDate builds a DateValue for "now" in the given IANA zone, for use as a
// field Default generator.
func NewDate(zone string) func() any {
	return func() any {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			loc = time.UTC
			zone = "UTC"
		}
		return FormatDate(DateValue{Instant: time.Now().In(loc), Zone: zone})
	}
}
