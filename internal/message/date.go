package message

import (
	"fmt"
	"time"
)

// DateLayout renders a medium date followed by a long time. Dates are always
// formatted in UTC so every device reads back the same instant.
const DateLayout = "Jan 2, 2006 at 3:04:05 PM MST"

// FormatDate renders t with DateLayout.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a string produced by FormatDate.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t.UTC(), nil
}
