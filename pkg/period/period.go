package period

import (
	"fmt"
	"strings"
	"time"
)

// Interval is the unit a period length is expressed in.
type Interval string

const (
	Hour  Interval = "hour"
	Day   Interval = "day"
	Week  Interval = "week"
	Month Interval = "month"
)

// Valid reports whether i is one of the supported units.
func (i Interval) Valid() bool {
	switch i {
	case Hour, Day, Week, Month:
		return true
	}
	return false
}

func (i Interval) String() string {
	return string(i)
}

// ParseInterval converts a case-insensitive unit name into an Interval.
func ParseInterval(s string) (Interval, error) {
	i := Interval(strings.ToLower(strings.TrimSpace(s)))
	if !i.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	return i, nil
}

// Period is a half-open time window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// New computes the period of count intervals anchored at anchor.
// A zero count yields a degenerate period where End equals Start.
func New(interval Interval, count int, anchor time.Time) (Period, error) {
	if count < 0 {
		return Period{}, fmt.Errorf("%w: %d", ErrNegativeCount, count)
	}
	end, err := Add(anchor, interval, count)
	if err != nil {
		return Period{}, err
	}
	return Period{Start: anchor, End: end}, nil
}

// MustNew is like New but panics on error.
func MustNew(interval Interval, count int, anchor time.Time) Period {
	p, err := New(interval, count, anchor)
	if err != nil {
		panic(fmt.Sprintf("period: %v", err))
	}
	return p
}

// Contains reports whether t falls inside [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// IsDegenerate reports whether the period has no length.
func (p Period) IsDegenerate() bool {
	return !p.End.After(p.Start)
}

func (p Period) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// Add moves t by count intervals. Count may be negative.
// Hours and days are fixed durations, weeks and months follow the calendar,
// and month arithmetic clamps to the last day of the target month.
// A zero count returns t unchanged for any interval, including an empty one.
func Add(t time.Time, interval Interval, count int) (time.Time, error) {
	if count == 0 {
		return t, nil
	}

	switch interval {
	case Hour:
		return t.Add(time.Duration(count) * time.Hour), nil
	case Day:
		return t.Add(time.Duration(count) * 24 * time.Hour), nil
	case Week:
		return t.AddDate(0, 0, 7*count), nil
	case Month:
		return AddMonthsClamped(t, count), nil
	default:
		return t, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
}

// AddMonthsClamped adds months to t keeping the day of month when it exists in
// the target month and falling back to the month's last day otherwise,
// so 2024-01-31 plus one month is 2024-02-29.
func AddMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	total := int(m) - 1 + months
	year := y + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)

	if last := daysIn(year, month, t.Location()); d > last {
		d = last
	}

	return time.Date(year, month, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// WholeDays returns the number of complete 24h days between from and to,
// truncated toward zero. The result is negative when to precedes from.
func WholeDays(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
