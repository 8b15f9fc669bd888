package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrUnknownDate is returned for queries outside the calendar horizon.
	ErrUnknownDate = errors.New("date outside calendar horizon")
	// ErrInvalidDate is returned for malformed or zero dates.
	ErrInvalidDate = errors.New("invalid date")
	// ErrNoTradingDay is returned when no trading day exists in the
	// requested direction within the horizon.
	ErrNoTradingDay = errors.New("no trading day within horizon")
)

// DateLayout is the canonical date format used across the module.
const DateLayout = "2006-01-02"

// Calendar answers trading-day membership and session ordering over a
// bounded horizon. Built once from a weekend mask plus an explicit holiday
// set; all lookups run against a precomputed ascending trading-day slice.
type Calendar struct {
	start    time.Time
	end      time.Time
	days     []time.Time // ascending, trading days only
	holidays map[time.Time]struct{}
}

// Holiday is a closed date range on which the market does not trade.
type Holiday struct {
	Start time.Time
	End   time.Time
	Name  string
}

// New builds a calendar covering [start, end]. Saturdays and Sundays are
// non-trading; holidays remove further days. Both bounds are truncated to
// midnight local time.
func New(start, end time.Time, holidays []Holiday) (*Calendar, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: zero horizon bound", ErrInvalidDate)
	}
	start = Midnight(start)
	end = Midnight(end)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: horizon end %s before start %s",
			ErrInvalidDate, end.Format(DateLayout), start.Format(DateLayout))
	}

	hm := make(map[time.Time]struct{})
	for _, h := range holidays {
		if h.Start.IsZero() || h.End.IsZero() || h.End.Before(h.Start) {
			return nil, fmt.Errorf("%w: holiday %q", ErrInvalidDate, h.Name)
		}
		for d := Midnight(h.Start); !d.After(Midnight(h.End)); d = d.AddDate(0, 0, 1) {
			hm[d] = struct{}{}
		}
	}

	c := &Calendar{start: start, end: end, holidays: hm}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.isSession(d) {
			c.days = append(c.days, d)
		}
	}
	return c, nil
}

// NewCN builds a calendar preloaded with the mainland exchange holiday
// schedule for the years covered by Holidays2024CN/Holidays2025CN. A
// horizon outside that window is refused: without holiday data the
// calendar would treat real holidays as sessions.
func NewCN(start, end time.Time) (*Calendar, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: zero horizon bound", ErrInvalidDate)
	}
	start = Midnight(start)
	end = Midnight(end)
	if start.Before(cnDataStart) || end.After(cnDataEnd) {
		return nil, fmt.Errorf("%w: [%s, %s] outside CN holiday data [%s, %s]",
			ErrUnknownDate,
			start.Format(DateLayout), end.Format(DateLayout),
			cnDataStart.Format(DateLayout), cnDataEnd.Format(DateLayout))
	}
	var hs []Holiday
	hs = append(hs, Holidays2024CN...)
	hs = append(hs, Holidays2025CN...)
	return New(start, end, hs)
}

// Midnight truncates t to 00:00:00 in its own location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func (c *Calendar) isSession(d time.Time) bool {
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := c.holidays[d]
	return !holiday
}

func (c *Calendar) checkHorizon(d time.Time) error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	if d.Before(c.start) || d.After(c.end) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrUnknownDate,
			d.Format(DateLayout), c.start.Format(DateLayout), c.end.Format(DateLayout))
	}
	return nil
}

// search returns the index of the first trading day not before d.
func (c *Calendar) search(d time.Time) int {
	return sort.Search(len(c.days), func(i int) bool {
		return !c.days[i].Before(d)
	})
}

// IsTradingDay reports whether d is a trading day.
func (c *Calendar) IsTradingDay(d time.Time) (bool, error) {
	d = Midnight(d)
	if err := c.checkHorizon(d); err != nil {
		return false, err
	}
	i := c.search(d)
	return i < len(c.days) && c.days[i].Equal(d), nil
}

// NextTradingDay returns the first trading day strictly after d.
func (c *Calendar) NextTradingDay(d time.Time) (time.Time, error) {
	d = Midnight(d)
	if err := c.checkHorizon(d); err != nil {
		return time.Time{}, err
	}
	i := c.search(d.AddDate(0, 0, 1))
	if i >= len(c.days) {
		return time.Time{}, fmt.Errorf("%w: after %s", ErrNoTradingDay, d.Format(DateLayout))
	}
	return c.days[i], nil
}

// PreviousTradingDay returns the last trading day strictly before d.
func (c *Calendar) PreviousTradingDay(d time.Time) (time.Time, error) {
	d = Midnight(d)
	if err := c.checkHorizon(d); err != nil {
		return time.Time{}, err
	}
	i := c.search(d)
	if i == 0 {
		return time.Time{}, fmt.Errorf("%w: before %s", ErrNoTradingDay, d.Format(DateLayout))
	}
	return c.days[i-1], nil
}

// TradingDaysBetween returns all trading days in [start, end], ascending.
func (c *Calendar) TradingDaysBetween(start, end time.Time) ([]time.Time, error) {
	start = Midnight(start)
	end = Midnight(end)
	if err := c.checkHorizon(start); err != nil {
		return nil, err
	}
	if err := c.checkHorizon(end); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: range end %s before start %s",
			ErrInvalidDate, end.Format(DateLayout), start.Format(DateLayout))
	}
	lo := c.search(start)
	hi := c.search(end.AddDate(0, 0, 1))
	out := make([]time.Time, hi-lo)
	copy(out, c.days[lo:hi])
	return out, nil
}

// Horizon returns the inclusive bounds the calendar covers.
func (c *Calendar) Horizon() (start, end time.Time) {
	return c.start, c.end
}
