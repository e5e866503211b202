package settlement

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The calendar month being settled
// =============================================================================

// Period is a settlement period: one calendar month as a half-open UTC
// range [Start, End). End is the first instant of the following month.
// Immutable once computed.
type Period struct {
	Year  int
	Month time.Month
	Start time.Time
	End   time.Time
}

// MonthOf returns the period for the month containing t (in UTC).
func MonthOf(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Year:  start.Year(),
		Month: start.Month(),
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}
}

// PriorMonth returns the period for the month before the one containing now.
// This is the month a settlement run reconciles.
func PriorMonth(now time.Time) Period {
	return MonthOf(MonthOf(now).Start.AddDate(0, 0, -1))
}

// Key returns the period identifier used to tag revenue records, e.g. "2026-07".
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Contains reports whether t falls inside [Start, End).
func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) String() string {
	return fmt.Sprintf("%s [%s, %s)", p.Key(),
		p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
}
