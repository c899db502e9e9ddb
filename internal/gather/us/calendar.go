package us

import (
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// calendarSource is the slice of the Alpaca trading client used here.
type calendarSource interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// settleDelay is how long after the close a day's bar is treated as final.
const settleDelay = 4*time.Hour + 5*time.Minute

// NewCalendarResolver returns a function that reports the latest finished
// trading day according to the Alpaca trading calendar.
func NewCalendarResolver(apiKey, apiSecret, tradingURL string) func() (time.Time, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   tradingURL,
	})
	return func() (time.Time, error) {
		return latestFinishedDay(client, time.Now())
	}
}

// latestFinishedDay walks the last week of sessions backwards and returns
// the first one whose close plus settleDelay is not after now.
func latestFinishedDay(cal calendarSource, now time.Time) (time.Time, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now = now.In(et)

	days, err := cal.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}

	for i := len(days) - 1; i >= 0; i-- {
		day, err := time.ParseInLocation(time.DateOnly, days[i].Date, et)
		if err != nil {
			continue
		}
		closeAt := day.Add(16 * time.Hour)
		if c, err := time.Parse("15:04", days[i].Close); err == nil {
			closeAt = day.Add(time.Duration(c.Hour())*time.Hour + time.Duration(c.Minute())*time.Minute)
		}
		if !closeAt.Add(settleDelay).After(now) {
			return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, errors.New("no finished trading day in the last week")
}
