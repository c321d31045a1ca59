package clock

import (
	"fmt"
	"time"
)

// Layout is the timestamp format used in stored documents and API payloads.
const Layout = "2006-01-02 15:04:05"

// DateLayout is the date-only format used for promo code expiry dates.
const DateLayout = "2006-01-02"

func Now() string {
	return time.Now().Format(Layout)
}

func Format(t time.Time) string {
	return t.Format(Layout)
}

func Today() string {
	return time.Now().Format(DateLayout)
}

// Parse parses a stored timestamp string.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a valid timestamp: %s", s)
	}
	return t, nil
}

// ParseDate parses a date-only string as the end of that calendar day,
// so a code dated today stays redeemable until midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		// stored promo expiry may carry a full timestamp instead of a bare date
		full, ferr := time.Parse(Layout, s)
		if ferr != nil {
			return time.Time{}, fmt.Errorf("not a valid date: %s", s)
		}
		return full, nil
	}
	return t.Add(24*time.Hour - time.Second), nil
}

// DaysUntil returns whole days from now until the given timestamp string.
// Negative when the timestamp is in the past.
func DaysUntil(now time.Time, s string) (int, error) {
	t, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return int(t.Sub(now).Hours() / 24), nil
}

// DaysSince returns whole days elapsed from the given timestamp string until now.
func DaysSince(now time.Time, s string) (int, error) {
	t, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return int(now.Sub(t).Hours() / 24), nil
}
