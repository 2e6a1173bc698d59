// Package querybuilder renders the three parameterized statements every
// other component runs against the store: the distinct-utterance scan,
// the missing-utterance anti-join, and the idempotent keyword insert.
// Table and column names come from config once at startup and are never
// interpolated from request-time data.
package querybuilder

import "fmt"

// Builder holds the configured table/column names and renders SQL text
// against them. It is built once in engine.New and shared
// read-only across every goroutine; Builder itself has no mutable
// state after construction.
type Builder struct {
	Chattings         string
	ChattingsPK       string
	ChattingsText     string
	ChattingsCreated  string
	Keywords          string
	KeywordsQueryText string
	KeywordsKeyword   string
	KeywordsCategory  string
	KeywordsCount     string
	KeywordsBatchAt   string
	KeywordsCreated   string
}

// New builds a Builder from the raw table/column names. Defaults for
// the keyword table's column names match the schema created by
// store.EnsureSchema; callers that point at a pre-existing table can
// override them.
func New(chattings, chattingsPK, chattingsText, chattingsCreated, keywords string) Builder {
	return Builder{
		Chattings:         chattings,
		ChattingsPK:       chattingsPK,
		ChattingsText:     chattingsText,
		ChattingsCreated:  chattingsCreated,
		Keywords:          keywords,
		KeywordsQueryText: "query_text",
		KeywordsKeyword:   "keyword",
		KeywordsCategory:  "category_id",
		KeywordsCount:     "query_count",
		KeywordsBatchAt:   "batch_created_at",
		KeywordsCreated:   "created_at",
	}
}

// DistinctUtterances renders Q1: one representative row per distinct
// text inside [start, end], with its total occurrence count in that
// window and the observed date of the representative row. Columns come
// out as observed_on, text, occurrences, the order Gateway.Stream scans
// (the same as MissingUtterances). Args, in order: start, end.
func (b Builder) DistinctUtterances() string {
	return fmt.Sprintf(`
WITH counted AS (
  SELECT %[1]s, %[2]s, %[3]s,
         ROW_NUMBER() OVER (PARTITION BY %[2]s ORDER BY %[3]s DESC) AS rn,
         COUNT(*)    OVER (PARTITION BY %[2]s)                       AS total
  FROM %[4]s
  WHERE %[3]s BETWEEN ? AND ?
)
SELECT DATE(%[3]s) AS observed_on, %[2]s AS text, total AS occurrences
FROM counted WHERE rn = 1
ORDER BY total DESC, observed_on ASC;
`, b.ChattingsPK, b.ChattingsText, b.ChattingsCreated, b.Chattings)
}

// MissingUtterances renders Q2: the distinct-utterance set inside
// [start, end] that has no row in the keyword table for the same
// (text, observed date). The join key on the keyword side is
// DATE(created_at) — the stored observed_on — never batch_created_at.
// Args, in order: start, end (keyword-side window, compared against
// DATE(created_at), so YYYY-MM-DD strings), start, end (chattings-side
// window, an inclusive BETWEEN on the raw timestamp).
func (b Builder) MissingUtterances() string {
	return fmt.Sprintf(`
SELECT DATE(c.%[1]s) AS observed_on, c.%[2]s AS text, COUNT(*) AS occurrences
FROM %[3]s c
LEFT JOIN (SELECT DISTINCT %[4]s, DATE(%[5]s) AS d
           FROM %[6]s
           WHERE DATE(%[5]s) BETWEEN ? AND ?) k
  ON c.%[2]s = k.%[4]s AND DATE(c.%[1]s) = k.d
WHERE k.%[4]s IS NULL
  AND c.%[1]s BETWEEN ? AND ?
GROUP BY observed_on, text
ORDER BY occurrences DESC;
`, b.ChattingsCreated, b.ChattingsText, b.Chattings, b.KeywordsQueryText, b.KeywordsCreated, b.Keywords)
}

// InsertKeyword renders Q3: an idempotent insert keyed on
// (query_text, DATE(created_at)). Args, in order: query_text, keyword,
// category_id, query_count, batch_created_at, created_at, query_text
// (repeated for the NOT EXISTS guard), created_at (repeated).
func (b Builder) InsertKeyword() string {
	return fmt.Sprintf(`
INSERT INTO %[1]s (%[2]s, %[3]s, %[4]s, %[5]s, %[6]s, %[7]s)
SELECT ?, ?, ?, ?, ?, ?
WHERE NOT EXISTS (
  SELECT 1 FROM %[1]s
  WHERE %[2]s = ? AND DATE(%[7]s) = DATE(?)
);
`, b.Keywords, b.KeywordsQueryText, b.KeywordsKeyword, b.KeywordsCategory, b.KeywordsCount, b.KeywordsBatchAt, b.KeywordsCreated)
}
