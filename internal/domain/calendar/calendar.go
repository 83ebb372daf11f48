package calendar

import (
	"sort"
	"strings"
	"time"

	"optionsurface/pkg/errors"
)

const dateLayout = "2006-01-02"

// DefaultHolidays are NSE trading holidays for 2023 and 2024
var DefaultHolidays = []string{
	"2023-01-26", "2023-03-07", "2023-03-30", "2023-04-04", "2023-04-07",
	"2023-04-14", "2023-05-01", "2023-06-29", "2023-08-15", "2023-09-19",
	"2023-10-02", "2023-10-24", "2023-11-14", "2023-11-27", "2023-12-25",
	"2024-01-22", "2024-01-26", "2024-03-08", "2024-03-25", "2024-03-29",
	"2024-04-11", "2024-04-17", "2024-05-01", "2024-06-17", "2024-07-17",
	"2024-08-15", "2024-10-02", "2024-11-01", "2024-11-15", "2024-12-25",
}

// Phase is the position of an instant relative to the trading session
type Phase int

const (
	PhaseClosed Phase = iota
	PhasePreOpen
	PhaseOpen
)

func (p Phase) String() string {
	switch p {
	case PhasePreOpen:
		return "pre_open"
	case PhaseOpen:
		return "open"
	default:
		return "closed"
	}
}

// Config describes the exchange session
type Config struct {
	Timezone      string
	Open          string // HH:MM exchange-local
	Close         string // HH:MM exchange-local
	PreOpenWindow time.Duration
	Holidays      []string // YYYY-MM-DD
}

// Calendar is the exchange session and holiday calendar.
// It is immutable after New and safe for concurrent use.
type Calendar struct {
	loc           *time.Location
	open          time.Duration // offset from local midnight
	close         time.Duration
	preOpenWindow time.Duration
	holidays      map[string]struct{}
}

// New builds a Calendar from config
func New(cfg Config) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown timezone %q", cfg.Timezone)
	}

	open, err := parseClock(cfg.Open)
	if err != nil {
		return nil, errors.Wrap(err, "session open")
	}
	closeAt, err := parseClock(cfg.Close)
	if err != nil {
		return nil, errors.Wrap(err, "session close")
	}
	if closeAt <= open {
		return nil, errors.NewValidationError("close", "session close must be after open", cfg.Close)
	}
	if cfg.PreOpenWindow < 0 {
		return nil, errors.NewValidationError("pre_open_window", "must not be negative", cfg.PreOpenWindow)
	}

	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, raw := range cfg.Holidays {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		day, err := time.ParseInLocation(dateLayout, raw, loc)
		if err != nil {
			return nil, errors.NewValidationError("holidays", "expected YYYY-MM-DD", raw)
		}
		holidays[day.Format(dateLayout)] = struct{}{}
	}

	return &Calendar{
		loc:           loc,
		open:          open,
		close:         closeAt,
		preOpenWindow: cfg.PreOpenWindow,
		holidays:      holidays,
	}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, errors.NewValidationError("clock", "expected HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Location returns the exchange time zone
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Date returns local midnight of the exchange day containing t
func (c *Calendar) Date(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// SessionOpen returns the session open instant on the exchange day containing day
func (c *Calendar) SessionOpen(day time.Time) time.Time {
	return c.Date(day).Add(c.open)
}

// SessionClose returns the session close instant on the exchange day containing day
func (c *Calendar) SessionClose(day time.Time) time.Time {
	return c.Date(day).Add(c.close)
}

// SessionHours is the fixed session length in hours (6.25 for 09:15 to 15:30)
func (c *Calendar) SessionHours() float64 {
	return (c.close - c.open).Hours()
}

// PreOpenWindow returns the warm-up window before the open
func (c *Calendar) PreOpenWindow() time.Duration {
	return c.preOpenWindow
}

// IsHoliday reports whether the exchange day containing t is a configured holiday
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.holidays[c.Date(t).Format(dateLayout)]
	return ok
}

// IsTradingDay reports whether the exchange day containing t is a weekday and not a holiday
func (c *Calendar) IsTradingDay(t time.Time) bool {
	switch c.Date(t).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(t)
}

// BusinessDaysBetween counts trading days in the inclusive date range [from, to].
// Times of day are ignored. Returns 0 when to is before from.
func (c *Calendar) BusinessDaysBetween(from, to time.Time) int {
	start := c.Date(from)
	end := c.Date(to)
	if end.Before(start) {
		return 0
	}

	count := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			count++
		}
	}
	return count
}

// Phase classifies t as pre-open, open (inclusive of both session bounds) or closed
func (c *Calendar) Phase(t time.Time) Phase {
	if !c.IsTradingDay(t) {
		return PhaseClosed
	}

	open := c.SessionOpen(t)
	closeAt := c.SessionClose(t)
	switch {
	case !t.Before(open) && !t.After(closeAt):
		return PhaseOpen
	case c.preOpenWindow > 0 && !t.Before(open.Add(-c.preOpenWindow)) && t.Before(open):
		return PhasePreOpen
	default:
		return PhaseClosed
	}
}

// Holidays returns the configured holidays in ascending order
func (c *Calendar) Holidays() []string {
	out := make([]string, 0, len(c.holidays))
	for d := range c.holidays {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
