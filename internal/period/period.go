// Package period computes billing day and month boundaries in a single
// civil time zone.
package period

import (
	"fmt"
	"strings"
	"time"
	// Embedded zone database for hosts without /usr/share/zoneinfo.
	_ "time/tzdata"

	"codeberg.org/mutker/pzemd/internal/errors"
)

const (
	ErrInvalidResetTime     = errors.ErrorCode("period_invalid_reset_time")
	ErrInvalidMonthStartDay = errors.ErrorCode("period_invalid_month_start_day")

	// MaxMonthStartDay keeps the month start inside every month.
	MaxMonthStartDay = 28
)

// Calendar anchors day and month boundaries to a reset time-of-day and a
// month start day, all evaluated in loc.
type Calendar struct {
	loc           *time.Location
	resetHour     int
	resetMinute   int
	monthStartDay int
}

// New builds a Calendar. resetTime is "HH:MM" on a 24h clock.
func New(loc *time.Location, resetTime string, monthStartDay int) (Calendar, error) {
	errFactory := errors.New()

	if loc == nil {
		loc = time.Local
	}

	hour, minute, err := ParseResetTime(resetTime)
	if err != nil {
		return Calendar{}, err
	}

	if monthStartDay < 1 || monthStartDay > MaxMonthStartDay {
		return Calendar{}, errFactory.WithData(ErrInvalidMonthStartDay, monthStartDay)
	}

	return Calendar{
		loc:           loc,
		resetHour:     hour,
		resetMinute:   minute,
		monthStartDay: monthStartDay,
	}, nil
}

// ParseResetTime parses "HH:MM".
func ParseResetTime(s string) (hour, minute int, err error) {
	t, perr := time.Parse("15:04", strings.TrimSpace(s))
	if perr != nil {
		return 0, 0, errors.New().WithData(ErrInvalidResetTime, s)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseLocation accepts an IANA zone name ("Asia/Ho_Chi_Minh"), "Local",
// or a fixed UTC offset ("+07:00", "-0330").
func ParseLocation(s string) (*time.Location, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "Local":
		return time.Local, nil
	case "UTC", "Z":
		return time.UTC, nil
	}

	if s[0] == '+' || s[0] == '-' {
		for _, layout := range []string{"-07:00", "-0700", "-07"} {
			if t, err := time.Parse(layout, s); err == nil {
				_, offset := t.Zone()
				return time.FixedZone(fmt.Sprintf("UTC%s", s), offset), nil
			}
		}
		return nil, errors.New().WithData(errors.ErrInvalidTimezone, s)
	}

	loc, err := time.LoadLocation(s)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidTimezone, err)
	}
	return loc, nil
}

// Location returns the zone boundaries are computed in. The zero Calendar
// uses time.Local with a midnight reset on the 1st.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

func (c Calendar) MonthStartDay() int {
	if c.monthStartDay < 1 {
		return 1
	}
	return c.monthStartDay
}

// ResetTime returns the configured reset time as "HH:MM".
func (c Calendar) ResetTime() string {
	return fmt.Sprintf("%02d:%02d", c.resetHour, c.resetMinute)
}

// DayStart returns the latest daily reset boundary at or before t.
func (c Calendar) DayStart(t time.Time) time.Time {
	loc := c.Location()
	local := t.In(loc)
	y, m, d := local.Date()

	boundary := time.Date(y, m, d, c.resetHour, c.resetMinute, 0, 0, loc)
	if local.Before(boundary) {
		boundary = time.Date(y, m, d-1, c.resetHour, c.resetMinute, 0, 0, loc)
	}
	return boundary
}

// MonthStart returns the latest billing month boundary at or before t.
func (c Calendar) MonthStart(t time.Time) time.Time {
	loc := c.Location()
	day := c.MonthStartDay()
	local := t.In(loc)
	y, m, _ := local.Date()

	boundary := time.Date(y, m, day, c.resetHour, c.resetMinute, 0, 0, loc)
	if local.Before(boundary) {
		boundary = time.Date(y, m-1, day, c.resetHour, c.resetMinute, 0, 0, loc)
	}
	return boundary
}

// IsMonthStart reports whether the day boundary containing t is also a
// month boundary.
func (c Calendar) IsMonthStart(t time.Time) bool {
	return c.DayStart(t).Equal(c.MonthStart(t))
}
