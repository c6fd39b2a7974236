// Package calendar implements the date arithmetic used to lay payments out on
// a loan schedule. All dates are calendar days in UTC.
package calendar

import (
	"time"

	"github.com/mcclellann/loanschedule/pkg/models"
)

// Date returns the UTC midnight of the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the time of day, keeping the calendar day of t.
func Truncate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return Date(t.Year(), t.Month(), t.Day())
}

func daysIn(year int, month time.Month) int {
	return Date(year, month+1, 1).AddDate(0, 0, -1).Day()
}

// EndOfMonth returns the last day of the month of t.
func EndOfMonth(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), daysIn(t.Year(), t.Month()))
}

// IsEndOfMonth reports whether t is the last day of its month.
func IsEndOfMonth(t time.Time) bool {
	return t.Day() == daysIn(t.Year(), t.Month())
}

// AddDays shifts t by n days.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// AddMonths shifts t by n months, clamping the day to the target month
// (Jan 31 + 1 month = Feb 28). With stickToEndOfMonth, a date on the last day
// of its month lands on the last day of the target month
// (Feb 28 + 1 month = Mar 31).
func AddMonths(t time.Time, n int, stickToEndOfMonth bool) time.Time {
	total := int(t.Month()) - 1 + n
	year := t.Year() + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)
	day := t.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	next := Date(year, month, day)
	if stickToEndOfMonth && IsEndOfMonth(t) {
		return EndOfMonth(next)
	}
	return next
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// AddDuration returns the first day of the period n periods of frequency f
// after t.
func AddDuration(t time.Time, f models.Frequency, n int, stickToEndOfMonth bool) time.Time {
	return AddMonths(t, n*f.MonthsPerPeriod(), stickToEndOfMonth)
}

// EndOfPeriod returns the last day of the n periods of frequency f starting on t.
func EndOfPeriod(t time.Time, f models.Frequency, n int) time.Time {
	return AddDays(AddDuration(t, f, n, false), -1)
}

// DaysBetween counts the days of [start, end], both ends included.
func DaysBetween(start, end time.Time) int {
	return int(Truncate(end).Sub(Truncate(start)).Hours()/24) + 1
}

// MonthsBetween counts the whole months of [start, end], both ends included:
// Jan 1 to Jan 31 is one month. An empty or reversed range counts zero.
func MonthsBetween(start, end time.Time) int {
	end = AddDays(Truncate(end), 1)
	start = Truncate(start)
	if !end.After(start) {
		return 0
	}
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	for months > 0 && AddMonths(start, months, false).After(end) {
		months--
	}
	return months
}

// YearsBetween counts the whole years of [start, end], both ends included.
func YearsBetween(start, end time.Time) int {
	return MonthsBetween(start, end) / 12
}

// DurationBetween counts the whole periods of frequency f in [start, end].
func DurationBetween(start, end time.Time, f models.Frequency) int {
	per := f.MonthsPerPeriod()
	if per == 0 {
		return 0
	}
	return floorDiv(MonthsBetween(start, end), per)
}

// DurationBetweenExact is DurationBetween, also reporting whether [start, end]
// is made of whole periods only.
func DurationBetweenExact(start, end time.Time, f models.Frequency) (int, bool) {
	n := DurationBetween(start, end, f)
	return n, EndOfPeriod(Truncate(start), f, n).Equal(Truncate(end))
}
