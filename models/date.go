package models

import (
	"fmt"
	"time"
)

const (
	dateLayout    = "2006-01-02"
	displayLayout = "02.01.2006"
)

// Date is a calendar day without a time or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses the storage form (2006-01-02).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// ParseDisplayDate parses the DD.MM.YYYY form users type into the chat.
// Impossible days such as 31.02.2025 are rejected.
func ParseDisplayDate(s string) (Date, error) {
	t, err := time.Parse(displayLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string  { return d.time().Format(dateLayout) }
func (d Date) Display() string { return d.time().Format(displayLayout) }

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) Before(o Date) bool { return d.time().Before(o.time()) }
func (d Date) After(o Date) bool  { return d.time().After(o.time()) }

func (d Date) AddDays(n int) Date { return DateOf(d.time().AddDate(0, 0, n)) }
