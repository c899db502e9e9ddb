package backtest

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RunBatch runs independent requests concurrently, at most parallelism at a
// time, and returns one Result per request in request order. A job that
// errors or panics gets a failed Result; it never cancels its siblings.
func (b *Backtester) RunBatch(ctx context.Context, jobs []Request, parallelism int) []*Result {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	results := make([]*Result, len(jobs))

	sem := make(chan struct{}, parallelism)
	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				results[i] = failedJob(job, b.cfg.Backtest.InitialCapital, gctx.Err())
				return nil
			}
			defer func() { <-sem }()
			results[i] = b.runJob(gctx, job)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	b.log.Info("batch finished", "jobs", len(jobs), "failed", failed, "parallelism", parallelism)
	return results
}

// runJob runs one request, converting errors and panics into a failed
// Result.
func (b *Backtester) runJob(ctx context.Context, job Request) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("backtest panicked", "strategy", job.Strategy, "symbol", job.Symbol, "panic", r)
			res = failedJob(job, b.cfg.Backtest.InitialCapital, fmt.Errorf("panic: %v", r))
		}
	}()
	res, err := b.Run(ctx, job)
	if err != nil {
		b.log.Warn("backtest failed", "strategy", job.Strategy, "symbol", job.Symbol, "err", err)
		return failedJob(job, b.cfg.Backtest.InitialCapital, err)
	}
	return res
}

func failedJob(job Request, capital float64, err error) *Result {
	r := &Result{
		ID:             uuid.NewString(),
		Strategy:       job.Strategy,
		Symbol:         strings.ToUpper(job.Symbol),
		Start:          job.Start,
		End:            job.End,
		InitialCapital: capital,
	}
	return r.fail(err)
}

// Sweep expands every strategy × symbol pair over one date range.
func Sweep(strategies, symbols []string, start, end time.Time) []Request {
	jobs := make([]Request, 0, len(strategies)*len(symbols))
	for _, s := range strategies {
		for _, sym := range symbols {
			jobs = append(jobs, Request{Strategy: s, Symbol: sym, Start: start, End: end})
		}
	}
	return jobs
}
