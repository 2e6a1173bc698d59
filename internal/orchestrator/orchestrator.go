// Package orchestrator expands a date range into individual dates and
// runs them through bounded concurrent Date Pipelines, isolating a
// single date's failure from the rest of the range.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"keywordpipe/internal/chunkworker"
	"keywordpipe/internal/datepipeline"
	"keywordpipe/internal/domain"
	"keywordpipe/internal/querybuilder"
)

// Config controls the range-level fan-out.
type Config struct {
	ConcurrentDates int // D
	Pipeline        datepipeline.Config
}

// Dates expands [start, end] inclusive into the ordered list of dates.
func Dates(start, end time.Time) []time.Time {
	start = start.Truncate(24 * time.Hour)
	end = end.Truncate(24 * time.Hour)
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Run dispatches one Date Pipeline per date in [start, end], up to
// cfg.ConcurrentDates concurrently. Unlike errgroup.WithContext's usual
// first-error cancellation, a single date's failure is recorded only
// against that date: the errgroup used here never returns an error from
// g.Go, so one bad date never cancels the others. The only thing that
// cancels the whole run is the caller's own ctx.
func Run(ctx context.Context, start, end time.Time, qb querybuilder.Builder, gw datepipeline.Streamer, oc chunkworker.Classifier, ins chunkworker.Inserter, cfg Config) domain.RunSummary {
	dates := Dates(start, end)

	var mu sync.Mutex
	summary := domain.RunSummary{PerDate: make(map[string]domain.DateSummary, len(dates))}

	g := new(errgroup.Group)
	g.SetLimit(cfg.ConcurrentDates)

	for _, date := range dates {
		date := date
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			dayStart := date
			// DistinctUtterances' window is an inclusive BETWEEN, so the
			// upper bound must fall short of the next day's start by one
			// nanosecond or a row landing exactly at midnight would match
			// both day D's and day D+1's window and get classified twice.
			dayEnd := date.Add(24*time.Hour - time.Nanosecond)
			ds := datepipeline.Run(ctx, date, qb.DistinctUtterances(), []any{dayStart, dayEnd}, gw, oc, ins, cfg.Pipeline)

			mu.Lock()
			defer mu.Unlock()
			summary.Extracted += ds.Extracted
			summary.Classified += ds.Classified
			summary.Inserted += ds.Inserted
			summary.Skipped += ds.Skipped
			summary.OracleFallbacks += ds.OracleFallbacks
			summary.FailedInsert += ds.Failed
			summary.PerDate[domain.DateKey(date)] = ds
			return nil
		})
	}

	g.Wait()
	return summary
}
