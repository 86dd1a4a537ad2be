package attendance

import (
	"time"
)

var zonedLayouts = []string{time.RFC3339Nano, time.RFC3339}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"15:04:05",
}

// FormatTimeOfDay renders a server timestamp as "hh:mm:ss am" in loc.
// Values without a zone are taken as wall time in loc. Unparseable values come back unchanged.
func FormatTimeOfDay(s string, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	t, ok := parseServerTime(s, loc)
	if !ok {
		return s
	}
	return t.In(loc).Format("03:04:05 pm")
}

func parseServerTime(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range zonedLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	for _, l := range localLayouts {
		if t, err := time.ParseInLocation(l, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
