package policy

import (
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
)

var weekdays = map[string]int{
	"mon": 1,
	"tue": 2,
	"wed": 3,
	"thu": 4,
	"fri": 5,
	"sat": 6,
	"sun": 7,
}

// IsWithinDisallowedWindow reports whether ref falls inside any disallow
// window configured for env. Each window is the half-open interval
// [start, end) where start is the latest occurrence of From at or before ref
// and end is the first occurrence of To after start.
func IsWithinDisallowedWindow(windows map[string]ChangeWindowSet, env string, ref time.Time) bool {
	set, ok := windows[env]
	if !ok {
		return false
	}
	for _, w := range set.Disallow {
		if windowHit(w, ref) {
			return true
		}
	}
	return false
}

func windowHit(w Window, ref time.Time) bool {
	now := ref.In(location(w.TZ))

	start := anchorSameWeek(now, w.From)
	if start.After(now) {
		start = start.AddDate(0, 0, -7)
	}
	end := anchorSameWeek(start, w.To)
	if !end.After(start) {
		end = end.AddDate(0, 0, 7)
	}
	return !now.Before(start) && now.Before(end)
}

// anchorSameWeek places label's weekday and time inside the Monday-based week
// containing ref, in ref's location.
func anchorSameWeek(ref time.Time, label string) time.Time {
	day, hour, minute := parseLabel(label)
	d := ref.AddDate(0, 0, day-isoWeekday(ref.Weekday()))
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, ref.Location())
}

func parseLabel(label string) (day, hour, minute int) {
	parts := strings.Fields(label)
	dayStr, timeStr := "", "00:00"
	if len(parts) > 0 {
		dayStr = parts[0]
	}
	if len(parts) > 1 {
		timeStr = parts[1]
	}
	hh, mm, _ := strings.Cut(timeStr, ":")
	hour, _ = strconv.Atoi(hh)
	minute, _ = strconv.Atoi(mm)
	return weekdayNumber(dayStr), hour, minute
}

// weekdayNumber maps a case-insensitive day name to its ISO number by its
// first three letters. Unknown names mean Monday.
func weekdayNumber(day string) int {
	key := []rune(cases.Fold().String(day))
	if len(key) > 3 {
		key = key[:3]
	}
	if n, ok := weekdays[string(key)]; ok {
		return n
	}
	return 1
}

func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

func location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn().Err(err).Str("tz", tz).Msg("unknown change window timezone, using UTC")
		return time.UTC
	}
	return loc
}
