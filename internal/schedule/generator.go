package schedule

import (
	"fmt"
	"time"

	"kidscan/internal/types"
)

// Window is a closed date range, typically one calendar month.
type Window struct {
	Start time.Time
	End   time.Time
}

// CurrentMonth returns the Window for the calendar month containing now.
func CurrentMonth(now time.Time) Window {
	start, end := MonthWindow(now)
	return Window{Start: start, End: end}
}

// Entry is one service occurrence to be persisted as a pending task.
// The price is captured here so that the task row records the
// billing-of-record amount at generation time.
type Entry struct {
	Date       time.Time
	CanNumber  int
	PriceCents int64
	Note       string
}

// Generate produces one entry per weekly occurrence of each pickup day
// within the window. The service date is one calendar day before the
// nominal pickup weekday: prep happens the evening before pickup.
//
// For each pickup day the first pickup occurrence within the window is
// located, then the walk advances in 7-day steps over pickup dates,
// re-deriving the service date as occurrence minus one day each step
// rather than adding 7 days to the service date, so the two sequences
// cannot drift apart. A service date is emitted while it does not exceed
// the window end; the first service date may precede the window start by
// one day (a pickup on the 1st is prepped on the last day of the prior
// month) and is still emitted.
//
// Entries are grouped by pickup day, not sorted chronologically across the
// whole output. Callers must not rely on output order beyond feeding a
// bulk insert.
func Generate(days []types.PickupDay, w Window, priceCents int64) []Entry {
	var entries []Entry
	for _, pd := range days {
		weekday := WeekdayIndex(pd.DayOfWeek)

		pickup := FirstOnOrAfter(w.Start, weekday)
		if pickup.After(w.End) {
			continue
		}

		for ; ; pickup = pickup.AddDate(0, 0, 7) {
			serviceDate := pickup.AddDate(0, 0, -1)
			if serviceDate.After(w.End) {
				break
			}
			entries = append(entries, Entry{
				Date:       serviceDate,
				CanNumber:  pd.CanNumber,
				PriceCents: priceCents,
				Note:       fmt.Sprintf("Trash pickup - Can %d", pd.CanNumber),
			})
		}
	}
	return entries
}
