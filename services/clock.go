package services

import (
	"fmt"
	"time"

	"ice-telegram/models"
)

// DefaultUTCOffset is the venues' civil time (Almaty, UTC+6).
const DefaultUTCOffset = 6 * time.Hour

// DefaultCutoffHour: same-day orders are accepted strictly before 17:00 local.
const DefaultCutoffHour = 17

// Clock yields the current instant in the venues' fixed-offset zone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// ClockFunc adapts a time source (time.Now in production, a fixed instant in
// tests) to Clock in the given zone.
type ClockFunc struct {
	Source func() time.Time
	Loc    *time.Location
}

func (c ClockFunc) Now() time.Time { return c.Source().In(c.Loc) }

func (c ClockFunc) Location() *time.Location { return c.Loc }

// FixedZone returns the zone for a whole-hour UTC offset.
func FixedZone(offset time.Duration) *time.Location {
	hours := int(offset / time.Hour)
	name := fmt.Sprintf("UTC%+d", hours)
	if hours == 0 {
		name = "UTC"
	}
	return time.FixedZone(name, int(offset/time.Second))
}

// NewClock returns the wall clock seen from the fixed offset.
func NewClock(offset time.Duration) Clock {
	return ClockFunc{Source: time.Now, Loc: FixedZone(offset)}
}

// Today is the current civil date of the clock's zone.
func Today(c Clock) models.Date {
	return models.DateOf(c.Now())
}

// DateRules holds the delivery-date policy.
type DateRules struct {
	Clock      Clock
	CutoffHour int
}

// SameDayOpen reports whether a delivery for today can still be ordered.
func (r DateRules) SameDayOpen() bool {
	return r.Clock.Now().Hour() < r.CutoffHour
}

// Check validates a requested delivery date: not before today, and not today
// once the cutoff has passed.
func (r DateRules) Check(d models.Date) error {
	today := Today(r.Clock)
	if d.Before(today) {
		return ErrPastDate
	}
	if d == today && !r.SameDayOpen() {
		return ErrPastCutoff
	}
	return nil
}

func (r DateRules) Today() models.Date    { return Today(r.Clock) }
func (r DateRules) Tomorrow() models.Date { return Today(r.Clock).AddDays(1) }
