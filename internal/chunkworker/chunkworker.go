// Package chunkworker processes one bounded slice of utterances: call
// the Oracle for each, buffer the resulting records, and flush through
// the Store Gateway as soon as the buffer fills or the chunk is
// exhausted.
package chunkworker

import (
	"context"
	"time"

	"keywordpipe/internal/domain"
)

// Classifier is the subset of *oracle.Client a Worker needs. Accepting
// the interface instead of the concrete type keeps this package
// testable without a live Oracle call.
type Classifier interface {
	Classify(ctx context.Context, text string) domain.Classification
}

// Inserter is the subset of *store.Gateway a Worker needs.
type Inserter interface {
	InsertBatch(ctx context.Context, records []domain.KeywordRecord) (inserted, skipped, failed int, err error)
}

// Counters is the outcome of processing one chunk. Process returns it by
// value; callers fold it into their own run-wide counters.
type Counters struct {
	Classified int64
	Inserted   int64
	Skipped    int64
	Failed     int64
	Fallbacks  int64
}

// Process runs the Oracle over every utterance in chunk, in order,
// buffering KeywordRecords and flushing through gw whenever the buffer
// reaches flushSize or the chunk is exhausted. It returns the flush
// outcome summed across every flush in this chunk; the caller folds the
// result into its own run-wide counters.
func Process(ctx context.Context, chunk []domain.Utterance, oc Classifier, gw Inserter, flushSize int) (Counters, error) {
	var c Counters
	buf := make([]domain.KeywordRecord, 0, flushSize)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		// Stamped here, not at append time, so BatchCreatedAt reflects the
		// actual insert instant even when a chunk spans multiple flushes.
		now := time.Now().UTC()
		for i := range buf {
			buf[i].BatchCreatedAt = now
		}
		// A flush that has started runs to completion even if ctx is
		// cancelled, so the inserted/skipped counters stay accurate.
		inserted, skipped, failed, err := gw.InsertBatch(context.WithoutCancel(ctx), buf)
		c.Inserted += int64(inserted)
		c.Skipped += int64(skipped)
		c.Failed += int64(failed)
		buf = buf[:0]
		return err
	}

	for _, u := range chunk {
		cls := oc.Classify(ctx, u.Text)
		c.Classified++
		if cls.Fallback {
			c.Fallbacks++
		}

		buf = append(buf, domain.KeywordRecord{
			QueryText:  u.Text,
			Keyword:    cls.Keyword,
			CategoryID: cls.CategoryID,
			QueryCount: u.Occurrences,
			CreatedAt:  u.ObservedOn,
		})

		if len(buf) >= flushSize {
			if err := flush(); err != nil {
				return c, err
			}
		}
	}

	if err := flush(); err != nil {
		return c, err
	}
	return c, nil
}
