// Package datepipeline runs one observed date end to end: stream the
// distinct utterances for that date, partition them into chunks, and
// dispatch the chunks to a bounded pool of Chunk Workers.
package datepipeline

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"keywordpipe/internal/chunkworker"
	"keywordpipe/internal/domain"
)

// Streamer is the subset of *store.Gateway a Date Pipeline needs to
// extract utterances for one date.
type Streamer interface {
	Stream(ctx context.Context, out chan<- domain.Utterance, query string, args ...any) error
}

// Config controls the per-date fan-out.
type Config struct {
	Workers   int // W: concurrent Chunk Workers
	ChunkSize int // K: utterances per chunk
	FlushSize int // B: records per InsertBatch flush (normally == ChunkSize)
}

// Run extracts and classifies every distinct utterance observed on
// date, dispatching chunks of size cfg.ChunkSize to cfg.Workers
// concurrent Chunk Workers via an errgroup.Group bounded by SetLimit.
// Backpressure comes entirely from that limit: a new chunk is only
// built and handed to g.Go once a Worker slot is free.
func Run(ctx context.Context, date time.Time, query string, args []any, gw Streamer, oc chunkworker.Classifier, ins chunkworker.Inserter, cfg Config) domain.DateSummary {
	start := time.Now()
	summary := domain.DateSummary{Date: date, State: domain.DateExtracting}

	var extracted, classified, inserted, skipped, failed, fallbacks atomic.Int64

	stream := make(chan domain.Utterance, cfg.ChunkSize)
	g, gctx := errgroup.WithContext(ctx)
	// +1 reserves a slot for the extraction goroutine itself, so the
	// configured Workers count is fully available to Chunk Workers.
	g.SetLimit(cfg.Workers + 1)

	g.Go(func() error {
		defer close(stream)
		return gw.Stream(gctx, stream, query, args...)
	})

	summary.State = domain.DateClassifying

	chunk := make([]domain.Utterance, 0, cfg.ChunkSize)
	for u := range stream {
		chunk = append(chunk, u)
		extracted.Add(1)
		if len(chunk) >= cfg.ChunkSize {
			toRun := chunk
			chunk = make([]domain.Utterance, 0, cfg.ChunkSize)
			g.Go(func() error {
				c, err := chunkworker.Process(gctx, toRun, oc, ins, cfg.FlushSize)
				classified.Add(c.Classified)
				inserted.Add(c.Inserted)
				skipped.Add(c.Skipped)
				failed.Add(c.Failed)
				fallbacks.Add(c.Fallbacks)
				return err
			})
		}
	}
	if len(chunk) > 0 {
		toRun := chunk
		g.Go(func() error {
			c, err := chunkworker.Process(gctx, toRun, oc, ins, cfg.FlushSize)
			classified.Add(c.Classified)
			inserted.Add(c.Inserted)
			skipped.Add(c.Skipped)
			failed.Add(c.Failed)
			fallbacks.Add(c.Fallbacks)
			return err
		})
	}

	summary.State = domain.DateFinalizing
	err := g.Wait()

	summary.Extracted = int(extracted.Load())
	summary.Classified = int(classified.Load())
	summary.Inserted = int(inserted.Load())
	summary.Skipped = int(skipped.Load())
	summary.Failed = int(failed.Load())
	summary.OracleFallbacks = int(fallbacks.Load())
	summary.Duration = time.Since(start)

	if err != nil {
		summary.State = domain.DateFailed
		summary.Err = err
		return summary
	}
	summary.State = domain.DateSucceeded
	return summary
}
