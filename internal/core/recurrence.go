package core

import (
	"fmt"
	"time"
)

// Stepper advances a date by one recurrence period.
type Stepper interface {
	Next(from time.Time) time.Time
}

// DayStep advances by a fixed number of calendar days.
type DayStep int

func (s DayStep) Next(from time.Time) time.Time {
	return from.AddDate(0, 0, int(s))
}

// MonthStep advances by whole calendar months, keeping the day of month
// where the target month has it and using the target month's last day
// otherwise (Jan 31 + 1 month = Feb 28/29).
type MonthStep int

func (s MonthStep) Next(from time.Time) time.Time {
	y, m, d := from.Date()
	hh, mm, ss := from.Clock()
	loc := from.Location()

	last := time.Date(y, m+time.Month(s)+1, 0, 0, 0, 0, 0, loc).Day()
	if d > last {
		d = last
	}
	return time.Date(y, m+time.Month(s), d, hh, mm, ss, from.Nanosecond(), loc)
}

var steppers = map[RecurringInterval]Stepper{
	Daily:   DayStep(1),
	Weekly:  DayStep(7),
	Monthly: MonthStep(1),
	Yearly:  MonthStep(12),
}

// StepperFor returns the stepper registered for an interval.
func StepperFor(interval RecurringInterval) (Stepper, error) {
	s, ok := steppers[interval]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	return s, nil
}

// NextOccurrence returns the date one interval after from. The location of
// from is preserved; no timezone normalisation happens.
func NextOccurrence(from time.Time, interval RecurringInterval) (time.Time, error) {
	s, err := StepperFor(interval)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(from), nil
}

// ScheduleNext fills NextRecurringDate for a recurring transaction with an
// interval and clears it otherwise.
func ScheduleNext(t *Transaction) error {
	if !t.IsRecurring || t.RecurringInterval == "" {
		t.NextRecurringDate = nil
		return nil
	}
	next, err := NextOccurrence(t.Date, t.RecurringInterval)
	if err != nil {
		return err
	}
	t.NextRecurringDate = &next
	return nil
}

// IsDue reports whether a recurring template should be materialised at now.
func IsDue(t Transaction, now time.Time) bool {
	if !t.IsRecurring || t.NextRecurringDate == nil {
		return false
	}
	if t.Status != "" && t.Status != StatusCompleted {
		return false
	}
	return !t.NextRecurringDate.After(now)
}
