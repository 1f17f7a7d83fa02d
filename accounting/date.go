package accounting

import (
	"time"
)

// =============================================================================
// DATE - Calendar day, the only time granularity accounting needs
// =============================================================================

const DateLayout = "2006-01-02"

// Date is a calendar day in UTC. The zero value means "not set".
type Date struct {
	Time time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }
func (d Date) IsZero() bool                  { return d.Time.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

// AddMonths adds n calendar months, clamping to the last day of the target
// month (Jan 31 + 1 month = Feb 28), unlike time.AddDate which overflows.
func (d Date) AddMonths(n int) Date {
	y, m, day := d.Time.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return NewDate(first.Year(), first.Month(), day)
}

func (d Date) String() string {
	return d.Time.Format(DateLayout)
}

// MonthsBetween returns the number of whole months from "from" to "to",
// or a negative count when to is before from.
func MonthsBetween(from, to Date) int {
	months := (to.Time.Year()-from.Time.Year())*12 + int(to.Time.Month()-from.Time.Month())
	if months > 0 && from.AddMonths(months).After(to) {
		months--
	}
	if months < 0 && from.AddMonths(months).Before(to) {
		months++
	}
	return months
}

// orToday returns d, or today's date from clock when d is zero.
func (d Date) orToday(clock func() Date) Date {
	if d.IsZero() {
		return clock()
	}
	return d
}
