package datepipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"keywordpipe/internal/domain"
)

type fakeStreamer struct {
	utterances []domain.Utterance
	err        error
}

func (f *fakeStreamer) Stream(ctx context.Context, out chan<- domain.Utterance, _ string, _ ...any) error {
	for _, u := range f.utterances {
		select {
		case out <- u:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

type fakeClassifier struct{}

func (fakeClassifier) Classify(_ context.Context, text string) domain.Classification {
	return domain.Classification{Keyword: "kw-" + text, CategoryID: 1}
}

type fakeInserter struct {
	mu       sync.Mutex
	inserted int
}

func (f *fakeInserter) InsertBatch(_ context.Context, records []domain.KeywordRecord) (int, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted += len(records)
	return len(records), 0, 0, nil
}

func utterances(n int) []domain.Utterance {
	out := make([]domain.Utterance, n)
	day := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = domain.Utterance{Text: fmt.Sprintf("text-%d", i), ObservedOn: day, Occurrences: 1}
	}
	return out
}

func TestRunProcessesAllUtterancesAcrossChunks(t *testing.T) {
	date := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	streamer := &fakeStreamer{utterances: utterances(23)}
	ins := &fakeInserter{}

	summary := Run(context.Background(), date, "", nil, streamer, fakeClassifier{}, ins, Config{
		Workers:   4,
		ChunkSize: 5,
		FlushSize: 5,
	})

	if summary.State != domain.DateSucceeded {
		t.Fatalf("expected DateSucceeded, got %v (err=%v)", summary.State, summary.Err)
	}
	if summary.Extracted != 23 {
		t.Fatalf("expected 23 extracted, got %d", summary.Extracted)
	}
	if summary.Inserted != 23 {
		t.Fatalf("expected 23 inserted, got %d", summary.Inserted)
	}
	if ins.inserted != 23 {
		t.Fatalf("expected gateway to see 23 inserted records, got %d", ins.inserted)
	}
}

func TestRunFailsDateOnStreamError(t *testing.T) {
	date := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	streamer := &fakeStreamer{utterances: utterances(3), err: fmt.Errorf("connection lost mid-stream")}
	ins := &fakeInserter{}

	summary := Run(context.Background(), date, "", nil, streamer, fakeClassifier{}, ins, Config{
		Workers:   2,
		ChunkSize: 10,
		FlushSize: 10,
	})

	if summary.State != domain.DateFailed {
		t.Fatalf("expected DateFailed, got %v", summary.State)
	}
	if summary.Err == nil {
		t.Fatalf("expected Err to be set")
	}
}

func TestRunHandlesEmptyDate(t *testing.T) {
	date := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	streamer := &fakeStreamer{}
	ins := &fakeInserter{}

	summary := Run(context.Background(), date, "", nil, streamer, fakeClassifier{}, ins, Config{
		Workers:   2,
		ChunkSize: 10,
		FlushSize: 10,
	})

	if summary.State != domain.DateSucceeded {
		t.Fatalf("expected DateSucceeded for empty date, got %v", summary.State)
	}
	if summary.Extracted != 0 || summary.Inserted != 0 {
		t.Fatalf("expected zero counters for empty date, got %+v", summary)
	}
}
