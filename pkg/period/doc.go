// Package period computes half-open billing windows from an interval unit,
// a count and an anchor instant.
//
// Hours and days are added as fixed durations. Weeks follow the calendar and
// months are clamped to the last valid day of the target month, which keeps
// month-end anchors stable across short months:
//
//	p, err := period.New(period.Month, 1, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
//	// p.End == 2024-02-29 00:00 UTC
//
// A count of zero is not an error: it produces a degenerate period whose end
// equals its start. Callers decide what such a period means for them.
//
// Term bundles a length with its unit and is the shape stored on plans and
// subscriptions for trial, grace, invoice and feature reset windows.
package period
