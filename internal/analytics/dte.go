package analytics

import (
	"math"
	"time"

	"optionsurface/internal/domain/calendar"
)

// DaysPerYear annualizes contract days
const DaysPerYear = 365.0

// DTECalculator computes business-day time to expiry against a session calendar
type DTECalculator struct {
	cal *calendar.Calendar
}

// NewDTECalculator creates a calculator bound to cal
func NewDTECalculator(cal *calendar.Calendar) *DTECalculator {
	return &DTECalculator{cal: cal}
}

// TodayFraction is the share of one session left between now and today's close, floored at 0
func (d *DTECalculator) TodayFraction(now time.Time) float64 {
	remaining := d.cal.SessionClose(now).Sub(now).Hours()
	return math.Max(remaining/d.cal.SessionHours(), 0)
}

// Days returns contract days to expiry observed at now.
//
// Over the boundary list (now, today's close, then each calendar day's close
// up to expiry) only the expiry entry is kept: max(nd-1+f, nd-1), where nd
// counts business days from today's close to the expiry close and f is
// TodayFraction. An expiry already behind today yields f.
func (d *DTECalculator) Days(expiry, now time.Time) float64 {
	f := d.TodayFraction(now)
	if d.cal.Date(expiry).Before(d.cal.Date(now)) {
		return f
	}

	nd := float64(d.cal.BusinessDaysBetween(d.cal.SessionClose(now), d.cal.SessionClose(expiry)))
	return math.Max(nd-1+f, nd-1)
}

// Years returns Days annualized by 365
func (d *DTECalculator) Years(expiry, now time.Time) float64 {
	return d.Days(expiry, now) / DaysPerYear
}
