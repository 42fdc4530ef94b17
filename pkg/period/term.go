package period

import (
	"fmt"
	"time"
)

// Term is a length expressed in a unit, e.g. 14 days or 1 month.
// The zero Term means "none": no trial, no grace window, never resets.
type Term struct {
	Length   int      `json:"length" yaml:"length"`
	Interval Interval `json:"interval" yaml:"interval"`
}

// Days is a shorthand for a day-based term.
func Days(n int) Term { return Term{Length: n, Interval: Day} }

// Months is a shorthand for a month-based term.
func Months(n int) Term { return Term{Length: n, Interval: Month} }

func (t Term) IsZero() bool {
	return t.Length == 0
}

// Validate checks that a non-zero term carries a known unit.
func (t Term) Validate() error {
	if t.Length < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeCount, t.Length)
	}
	if t.Length > 0 && !t.Interval.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidInterval, t.Interval)
	}
	return nil
}

// Times multiplies the term length by n.
func (t Term) Times(n int) Term {
	return Term{Length: t.Length * n, Interval: t.Interval}
}

// From returns the period covered by the term starting at anchor.
func (t Term) From(anchor time.Time) (Period, error) {
	return New(t.Interval, t.Length, anchor)
}

// After returns the instant one term after at.
func (t Term) After(at time.Time) (time.Time, error) {
	return Add(at, t.Interval, t.Length)
}

// Before returns the instant one term before at.
func (t Term) Before(at time.Time) (time.Time, error) {
	return Add(at, t.Interval, -t.Length)
}

func (t Term) String() string {
	if t.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%d %s", t.Length, t.Interval)
}
