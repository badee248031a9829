package agent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// BookingTimezone is the zone appointment times are read and written in.
const BookingTimezone = "Europe/Stockholm"

var stockholm = mustLoadLocation(BookingTimezone)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

const (
	clarifyTomorrow   = "Please include a time (for example: tomorrow 15:00)."
	clarifyWeekday    = "Please include a time with the weekday (for example: Tue 15:00)."
	clarifyDateNoTime = "Please include a time with the date (for example: 2026-02-14 15:00)."
	clarifyTimeNoDate = "Please include a date with the time (for example: 2026-02-14 15:00)."
	clarifyBadTime    = "I could not parse the time. Please include HH:MM (24h) or 3pm."
	clarifyBadDate    = "I could not parse the date/time. Please use format YYYY-MM-DD HH:MM."
)

var (
	isoDateTimePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}[T\s]\d{2}:\d{2}(?::\d{2})?(?:Z|[+-]\d{2}:\d{2})?)`)
	dateOnlyPattern    = regexp.MustCompile(`\b(20\d{2}-\d{2}-\d{2})\b`)
	dateTimePattern    = regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2})\s+(\d{1,2}:\d{2}(?:\s*[ap]m)?)\b`)
	timePattern        = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*([ap]m)?\b`)
	hhmmPattern        = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	dateAtTimePattern  = regexp.MustCompile(`(?i)\b(20\d{2}-\d{2}-\d{2})\s+at\s+([01]?\d|2[0-3]):([0-5]\d)\b`)
	timeOnDatePattern  = regexp.MustCompile(`(?i)\b([01]?\d|2[0-3]):([0-5]\d)\s+on\s+(20\d{2}-\d{2}-\d{2})\b`)
	weekdayPattern     = regexp.MustCompile(`(?i)\b(mon(?:day)?|tue(?:s|sday)?|wed(?:nesday)?|thu(?:r|rs|rsday)?|fri(?:day)?|sat(?:urday)?|sun(?:day)?)\b`)
)

var weekdays = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

var isoLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// parseRequestedTime finds an appointment time in text, relative to now.
// When text hints at a time but is incomplete, the zero time and a
// clarification question are returned. Neither is set when text has no
// date or time at all.
func parseRequestedTime(text string, now time.Time) (time.Time, string) {
	now = now.In(stockholm)

	if m := isoDateTimePattern.FindStringSubmatch(text); m != nil {
		raw := strings.Replace(m[1], " ", "T", 1)
		for _, layout := range isoLayouts {
			if t, err := time.ParseInLocation(layout, raw, stockholm); err == nil {
				return t.In(stockholm), ""
			}
		}
		return time.Time{}, clarifyBadDate
	}

	lower := strings.ToLower(text)
	hour, minute, hasTime := parseClock(textWithoutDates(text))

	if strings.Contains(lower, "tomorrow") {
		if !hasTime {
			return time.Time{}, clarifyTomorrow
		}
		d := now.AddDate(0, 0, 1)
		return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, stockholm), ""
	}

	if m := weekdayPattern.FindStringSubmatch(lower); m != nil {
		if !hasTime {
			return time.Time{}, clarifyWeekday
		}
		delta := (int(weekdays[m[1]]) - int(now.Weekday()) + 7) % 7
		d := now.AddDate(0, 0, delta)
		t := time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, stockholm)
		if !t.After(now) {
			t = t.AddDate(0, 0, 7)
		}
		return t, ""
	}

	if m := dateTimePattern.FindStringSubmatch(text); m != nil {
		h, mi, ok := parseClock(m[2])
		if !ok {
			return time.Time{}, clarifyBadTime
		}
		return onDate(m[1], h, mi)
	}
	if m := dateAtTimePattern.FindStringSubmatch(text); m != nil {
		return onDate(m[1], atoi(m[2]), atoi(m[3]))
	}
	if m := timeOnDatePattern.FindStringSubmatch(text); m != nil {
		return onDate(m[3], atoi(m[1]), atoi(m[2]))
	}

	date := dateOnlyPattern.FindStringSubmatch(text)
	clock := hhmmPattern.FindStringSubmatch(text)
	switch {
	case date != nil && clock != nil:
		return onDate(date[1], atoi(clock[1]), atoi(clock[2]))
	case date != nil:
		return time.Time{}, clarifyDateNoTime
	case clock != nil:
		return time.Time{}, clarifyTimeNoDate
	}
	return time.Time{}, ""
}

// parseClock reads the first "15:00", "3pm" or "9:30 am" style time.
func parseClock(text string) (hour, minute int, ok bool) {
	m := timePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	hour = atoi(m[1])
	if m[2] != "" {
		minute = atoi(m[2])
	}
	if minute > 59 {
		return 0, 0, false
	}
	switch ampm := strings.ToLower(m[3]); ampm {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if ampm == "pm" && hour != 12 {
			hour += 12
		}
		if ampm == "am" && hour == 12 {
			hour = 0
		}
	default:
		if hour > 23 {
			return 0, 0, false
		}
	}
	return hour, minute, true
}

// textWithoutDates hides YYYY-MM-DD dates so their digits are not read as a clock.
func textWithoutDates(text string) string {
	return dateOnlyPattern.ReplaceAllString(text, " ")
}

func onDate(date string, hour, minute int) (time.Time, string) {
	d, err := time.ParseInLocation("2006-01-02", date, stockholm)
	if err != nil {
		return time.Time{}, clarifyBadDate
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, stockholm), ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// formatBookingTime renders t as "2006-01-02 15:04" in the booking zone.
func formatBookingTime(t time.Time) string {
	return t.In(stockholm).Format("2006-01-02 15:04")
}
