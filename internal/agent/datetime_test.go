package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRequestedTime(t *testing.T) {
	t.Parallel()

	at := func(y int, m time.Month, d, h, mi int) time.Time {
		return time.Date(y, m, d, h, mi, 0, 0, stockholm)
	}
	tests := []struct {
		text    string
		want    time.Time
		clarify string
	}{
		{"2026-02-14 15:00", at(2026, 2, 14, 15, 0), ""},
		{"2026-02-14T15:00:00Z", at(2026, 2, 14, 16, 0), ""},
		{"tomorrow 15:00", at(2026, 2, 11, 15, 0), ""},
		{"tomorrow at 3pm", at(2026, 2, 11, 15, 0), ""},
		{"Friday 14:30", at(2026, 2, 13, 14, 30), ""},
		{"Tue 09:00", at(2026, 2, 17, 9, 0), ""},
		{"on 2026-02-17 at 14:00", at(2026, 2, 17, 14, 0), ""},
		{"14:00 on 2026-02-17", at(2026, 2, 17, 14, 0), ""},
		{"2026-02-17 3:30pm", at(2026, 2, 17, 15, 30), ""},
		{"tomorrow", time.Time{}, clarifyTomorrow},
		{"sometime on Tue", time.Time{}, clarifyWeekday},
		{"2026-02-14", time.Time{}, clarifyDateNoTime},
		{"15:00", time.Time{}, clarifyTimeNoDate},
		{"2026-13-40 10:00", time.Time{}, clarifyBadDate},
		{"hello there", time.Time{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, clarify := parseRequestedTime(tt.text, testNow)
			assert.Equal(t, tt.clarify, clarify)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		hour   int
		minute int
		ok     bool
	}{
		{"15:00", 15, 0, true},
		{"9:30 am", 9, 30, true},
		{"12am", 0, 0, true},
		{"12pm", 12, 0, true},
		{"13pm", 0, 0, false},
		{"25:00", 0, 0, false},
		{"noon", 0, 0, false},
	}
	for _, tt := range tests {
		h, m, ok := parseClock(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if ok {
			assert.Equal(t, tt.hour, h, tt.in)
			assert.Equal(t, tt.minute, m, tt.in)
		}
	}
}

func TestFormatBookingTime(t *testing.T) {
	t.Parallel()

	utc := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-07-01 14:00", formatBookingTime(utc))
}
