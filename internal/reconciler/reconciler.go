// Package reconciler detects and reprocesses utterances that exist in
// the source but have no corresponding row in the derived keyword
// table, reusing the same Chunk Worker / Store Gateway pipeline as
// normal batch processing, sourced from a different query.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"keywordpipe/internal/chunkworker"
	"keywordpipe/internal/domain"
	"keywordpipe/internal/querybuilder"
)

// Streamer is the subset of *store.Gateway the Reconciler needs.
type Streamer interface {
	Stream(ctx context.Context, out chan<- domain.Utterance, query string, args ...any) error
}

// Config controls the Reconciler's worker fan-out, mirroring
// datepipeline.Config since it shares the same Chunk Worker dispatch
// shape against a different source stream.
type Config struct {
	Workers   int
	ChunkSize int
	FlushSize int
}

// Reconciler exposes the three missing-data operations: a pure read
// (Check), a mutating reprocess (Process), and the combination of both
// around a reprocess (Auto).
type Reconciler struct {
	qb  querybuilder.Builder
	str Streamer
	oc  chunkworker.Classifier
	ins chunkworker.Inserter
	cfg Config
}

// New builds a Reconciler.
func New(qb querybuilder.Builder, str Streamer, oc chunkworker.Classifier, ins chunkworker.Inserter, cfg Config) *Reconciler {
	return &Reconciler{qb: qb, str: str, oc: oc, ins: ins, cfg: cfg}
}

// window turns the date range [start, end] into MissingUtterances' args:
// YYYY-MM-DD strings for the keyword side, and the first and last
// instant of the range for the chattings side's inclusive BETWEEN.
func window(start, end time.Time) []any {
	from := start.Truncate(24 * time.Hour)
	to := end.Truncate(24 * time.Hour).Add(24*time.Hour - time.Nanosecond)
	return []any{domain.DateKey(from), domain.DateKey(to), from, to}
}

// Check runs the missing-utterance query over the whole days of
// [start, end] and reports counts without mutating anything.
func (r *Reconciler) Check(ctx context.Context, start, end time.Time) (domain.MissingReport, error) {
	out := make(chan domain.Utterance, r.cfg.ChunkSize)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		errCh <- r.str.Stream(ctx, out, r.qb.MissingUtterances(), window(start, end)...)
	}()

	report := domain.MissingReport{PerDateMissing: make(map[string]int)}
	for u := range out {
		key := domain.DateKey(u.ObservedOn)
		report.PerDateMissing[key] += u.Occurrences
		report.TotalMissing += u.Occurrences
		report.TotalProcessed++
	}
	if err := <-errCh; err != nil {
		return report, fmt.Errorf("reconciler check: %w", err)
	}
	return report, nil
}

// Process streams the missing-utterance set, optionally capped at
// limit records (limit <= 0 means unbounded), and runs it through the
// same Chunk-Worker/Store-Gateway pipeline as a normal batch run. On
// completion it re-runs Check and records the count still missing in
// RunSummary.MissingAfter; it does not retry if that count is nonzero.
func (r *Reconciler) Process(ctx context.Context, start, end time.Time, limit int) (domain.RunSummary, error) {
	// The producer's cancellation is independent of the workers': once
	// limit is reached we stop the producer but let in-flight chunks
	// already handed to g.Go finish on the uncancelled worker context.
	producerCtx, cancelProducer := context.WithCancel(ctx)
	defer cancelProducer()

	out := make(chan domain.Utterance, r.cfg.ChunkSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers + 1)

	g.Go(func() error {
		defer close(out)
		err := r.str.Stream(producerCtx, out, r.qb.MissingUtterances(), window(start, end)...)
		if err != nil && producerCtx.Err() != nil && ctx.Err() == nil {
			// Stopped by cancelProducer at the limit: returning it would
			// make errgroup cancel gctx under the running workers.
			return nil
		}
		return err
	})

	summary := domain.RunSummary{PerDate: make(map[string]domain.DateSummary)}
	chunk := make([]domain.Utterance, 0, r.cfg.ChunkSize)
	seen := 0
	limitReached := false

	var mu sync.Mutex
	drain := func(c []domain.Utterance) {
		toRun := c
		g.Go(func() error {
			counters, err := chunkworker.Process(gctx, toRun, r.oc, r.ins, r.cfg.FlushSize)
			mu.Lock()
			defer mu.Unlock()
			summary.Classified += int(counters.Classified)
			summary.Inserted += int(counters.Inserted)
			summary.Skipped += int(counters.Skipped)
			summary.FailedInsert += int(counters.Failed)
			summary.OracleFallbacks += int(counters.Fallbacks)
			return err
		})
	}

	for u := range out {
		if limit > 0 && seen >= limit {
			limitReached = true
			cancelProducer()
			break
		}
		chunk = append(chunk, u)
		summary.Extracted++
		seen++
		if len(chunk) >= r.cfg.ChunkSize {
			drain(chunk)
			chunk = make([]domain.Utterance, 0, r.cfg.ChunkSize)
		}
	}
	if limit > 0 && seen >= limit {
		limitReached = true
		cancelProducer()
	}
	if len(chunk) > 0 {
		drain(chunk)
	}

	err := g.Wait()
	if err != nil && !(limitReached && isProducerCancellation(err)) {
		return summary, fmt.Errorf("reconciler process: %w", err)
	}

	after, err := r.Check(ctx, start, end)
	if err != nil {
		return summary, fmt.Errorf("reconciler process: check after: %w", err)
	}
	summary.MissingAfter = after.TotalMissing
	return summary, nil
}

// isProducerCancellation reports whether err is exactly the
// cancellation this package itself triggered to stop extraction once
// limit was reached, as opposed to a genuine extraction failure.
func isProducerCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Auto runs Process and reports the missing counts both before and
// after, so the caller can judge whether reconciliation reached a
// fixed point without having to call Check twice itself.
func (r *Reconciler) Auto(ctx context.Context, start, end time.Time, limit int) (domain.ReconcileResult, error) {
	before, err := r.Check(ctx, start, end)
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("reconciler auto: check before: %w", err)
	}

	summary, err := r.Process(ctx, start, end, limit)
	if err != nil {
		return domain.ReconcileResult{Before: before, Summary: summary}, fmt.Errorf("reconciler auto: process: %w", err)
	}

	after, err := r.Check(ctx, start, end)
	if err != nil {
		return domain.ReconcileResult{Before: before, Summary: summary}, fmt.Errorf("reconciler auto: check after: %w", err)
	}

	return domain.ReconcileResult{Before: before, After: after, Summary: summary}, nil
}
