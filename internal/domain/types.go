// Package domain holds the plain data types shared by every pipeline
// component: the unit of work (Utterance), its classification, the row
// shape written to the derived table, and the counters collected into a
// RunSummary.
package domain

import "time"

// Utterance is one distinct chat text observed on one date, with its
// occurrence count inside the date range that produced it. Immutable
// within a run.
type Utterance struct {
	Text       string
	ObservedOn time.Time
	Occurrences int
}

// Classification is the (keyword, category) pair produced by the Oracle
// or by local fallback for an Utterance.
type Classification struct {
	Keyword    string
	CategoryID int
	// Fallback is true when the Oracle's retries were exhausted and this
	// Classification was produced locally instead of by the LLM.
	Fallback bool
}

// KeywordRecord is one insertion unit: one row in the derived table.
type KeywordRecord struct {
	QueryText      string
	Keyword        string
	CategoryID     int
	QueryCount     int
	BatchCreatedAt time.Time
	CreatedAt      time.Time // carries Utterance.ObservedOn
}

// DateState is the terminal or in-flight state of a single date's
// processing within a run.
type DateState string

const (
	DateIdle        DateState = "idle"
	DateExtracting  DateState = "extracting"
	DateClassifying DateState = "classifying"
	DateFinalizing  DateState = "finalizing"
	DateSucceeded   DateState = "succeeded"
	DateFailed      DateState = "failed"
)

// DateSummary is the per-date fragment of a RunSummary.
type DateSummary struct {
	Date        time.Time
	State       DateState
	Extracted   int
	Classified  int
	Inserted    int
	Skipped     int
	Failed      int
	OracleFallbacks int
	Err         error
	Duration    time.Duration
}

// RunSummary is the result object returned to callers for any top-level
// invocation (batch or reconciliation).
type RunSummary struct {
	Extracted       int
	Classified      int
	Inserted        int
	Skipped         int
	FailedInsert    int
	OracleFallbacks int
	MissingBefore   int
	MissingAfter    int
	Wall            time.Duration
	PerDate         map[string]DateSummary // keyed by YYYY-MM-DD
}

// Success reports whether the run completed cleanly: no insert failures
// and no date entered the Failed state.
func (s RunSummary) Success() bool {
	if s.FailedInsert != 0 {
		return false
	}
	for _, d := range s.PerDate {
		if d.State == DateFailed {
			return false
		}
	}
	return true
}

// Merge folds another RunSummary's counters and per-date entries into s,
// returning the combined summary.
func (s RunSummary) Merge(other RunSummary) RunSummary {
	if s.PerDate == nil {
		s.PerDate = make(map[string]DateSummary, len(other.PerDate))
	}
	s.Extracted += other.Extracted
	s.Classified += other.Classified
	s.Inserted += other.Inserted
	s.Skipped += other.Skipped
	s.FailedInsert += other.FailedInsert
	s.OracleFallbacks += other.OracleFallbacks
	for k, v := range other.PerDate {
		s.PerDate[k] = v
	}
	return s
}

// MissingReport is the result of Reconciler.Check.
type MissingReport struct {
	PerDateMissing map[string]int // keyed by YYYY-MM-DD
	TotalMissing   int
	TotalProcessed int
}

// ReconcileResult is the result of Reconciler.Auto: the missing counts
// before and after reconciliation, plus the RunSummary of the process
// step itself.
type ReconcileResult struct {
	Before  MissingReport
	After   MissingReport
	Summary RunSummary
}

// DateKey formats t the way RunSummary.PerDate and MissingReport key
// their maps.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
