// Package period models calendar billing months ("YYYY-MM").
package period

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var ErrInvalidMonth = errors.New("invalid_month")

var monthPattern = regexp.MustCompile(`^(\d{4})-(0[1-9]|1[0-2])$`)

// Month is a calendar month. The zero value is not a valid month.
type Month struct {
	Year  int
	Month time.Month
}

// Parse accepts exactly "YYYY-MM".
func Parse(raw string) (Month, error) {
	m := monthPattern.FindStringSubmatch(raw)
	if m == nil {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, raw)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	return Month{Year: year, Month: time.Month(month)}, nil
}

// Valid reports whether raw is a well-formed month string.
func Valid(raw string) bool {
	return monthPattern.MatchString(raw)
}

func Of(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Valid reports whether m names a real calendar month.
func (m Month) Valid() bool {
	return m.Year > 0 && m.Year <= 9999 && m.Month >= time.January && m.Month <= time.December
}

func (m Month) index() int {
	return m.Year*12 + int(m.Month) - 1
}

// Compare returns -1, 0 or +1.
func (m Month) Compare(other Month) int {
	a, b := m.index(), other.index()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (m Month) Before(other Month) bool { return m.Compare(other) < 0 }
func (m Month) After(other Month) bool  { return m.Compare(other) > 0 }

func (m Month) AddMonths(n int) Month {
	idx := m.index() + n
	return Month{Year: idx / 12, Month: time.Month(idx%12 + 1)}
}

// Start is the first instant of the month in UTC.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Days is the number of days in the month.
func (m Month) Days() int {
	return m.Start().AddDate(0, 1, -1).Day()
}

// Date returns the given day of the month, clamped to the month length.
func (m Month) Date(day int) time.Time {
	if day < 1 {
		day = 1
	}
	if last := m.Days(); day > last {
		day = last
	}
	return time.Date(m.Year, m.Month, day, 0, 0, 0, 0, time.UTC)
}

// Contains reports whether t falls inside the month (compared in t's own location).
func (m Month) Contains(t time.Time) bool {
	return t.Year() == m.Year && t.Month() == m.Month
}

// Range lists every month from..to inclusive; empty when from is after to.
func Range(from, to Month) []Month {
	if from.After(to) {
		return nil
	}
	out := make([]Month, 0, to.index()-from.index()+1)
	for m := from; !m.After(to); m = m.AddMonths(1) {
		out = append(out, m)
	}
	return out
}

func Max(a, b Month) Month {
	if a.After(b) {
		return a
	}
	return b
}

func Min(a, b Month) Month {
	if a.Before(b) {
		return a
	}
	return b
}
