package slots

import (
	"fmt"
	"time"
)

// Interval is the fixed bookable slot length.
const Interval = 30 * time.Minute

// Working blocks of the clinic day, clinic-local. Labels are generated at
// Interval granularity within each block; block ends are exclusive.
var blocks = []struct {
	start string
	end   string
}{
	{"08:00", "14:00"},
	{"15:00", "17:00"},
}

// Labels returns the ordered bookable time labels for any working day.
// Pure and deterministic: same output on every call.
func Labels() []string {
	var labels []string
	for _, b := range blocks {
		start := mustClock(b.start)
		end := mustClock(b.end)
		for t := start; t < end; t += Interval {
			labels = append(labels, format(t))
		}
	}
	return labels
}

// IsLabel reports whether s is one of the calendar's bookable labels.
func IsLabel(s string) bool {
	for _, l := range Labels() {
		if l == s {
			return true
		}
	}
	return false
}

// Normalize floors an "HH:MM" time to its slot label ("09:15" -> "09:00").
// Returns false when s is not a parseable clock time.
func Normalize(s string) (string, bool) {
	t, err := parseClock(s)
	if err != nil {
		return "", false
	}
	return format(t - t%Interval), true
}

func parseClock(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func mustClock(s string) time.Duration {
	d, err := parseClock(s)
	if err != nil {
		panic(err)
	}
	return d
}

func format(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
