// Package gather pulls market data from external providers into the local
// bar store.
package gather

import (
	"context"
	"fmt"
	"time"
)

// Gatherer is a data-fetching job.
type Gatherer interface {
	// Name returns the gatherer identifier used in logs.
	Name() string
	// Run fetches until done or ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange parses YYYY-MM-DD bounds. An empty end means "open" and
// leaves End zero for the gatherer to resolve.
func ParseDateRange(start, end string) (DateRange, error) {
	var r DateRange
	var err error
	if r.Start, err = time.Parse(time.DateOnly, start); err != nil {
		return DateRange{}, fmt.Errorf("start date %q: %w", start, err)
	}
	if end == "" {
		return r, nil
	}
	if r.End, err = time.Parse(time.DateOnly, end); err != nil {
		return DateRange{}, fmt.Errorf("end date %q: %w", end, err)
	}
	if r.End.Before(r.Start) {
		return DateRange{}, fmt.Errorf("end date %s before start date %s", end, start)
	}
	return r, nil
}
