// Package store is the Store Gateway: connection pool management,
// streaming query execution, and idempotent batch insertion with a
// per-record fallback path.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"keywordpipe/internal/catalog"
	"keywordpipe/internal/domain"
	"keywordpipe/internal/querybuilder"
)

const maxKeywordLen = 100

// Gateway wraps the shared *sql.DB with the rendered queries and the
// category catalog needed for the pre-insert guard. A Gateway has no
// mutable state of its own; every method is safe for concurrent use
// from multiple Chunk Workers and Date Pipelines.
type Gateway struct {
	db      *sql.DB
	queries querybuilder.Builder
	cats    *catalog.Catalog
}

// New builds a Gateway over an already-opened, schema-ensured *sql.DB.
func New(db *sql.DB, queries querybuilder.Builder, cats *catalog.Catalog) *Gateway {
	return &Gateway{db: db, queries: queries, cats: cats}
}

// Stream runs query against the pool and sends one domain.Utterance per
// result row into out, blocking on send so the caller's channel
// capacity is the only backpressure the producer feels. The caller owns
// out: it must be created and closed by the caller, and Stream never
// closes it itself (retrying a failed Stream would otherwise require
// recreating a channel another goroutine might still be reading). A
// non-nil return means the stream ended early; rows already sent remain
// valid.
func (g *Gateway) Stream(ctx context.Context, out chan<- domain.Utterance, query string, args ...any) error {
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("stream query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u domain.Utterance
		var observedOn string
		if err := rows.Scan(&observedOn, &u.Text, &u.Occurrences); err != nil {
			return fmt.Errorf("stream scan: %w", err)
		}
		t, err := time.Parse("2006-01-02", observedOn)
		if err != nil {
			return fmt.Errorf("stream parse observed_on %q: %w", observedOn, err)
		}
		u.ObservedOn = t

		select {
		case out <- u:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return rows.Err()
}

// InsertBatch executes the idempotent insert for up to len(records)
// rows inside one transaction with one prepared statement. If the
// transaction itself fails to begin, prepare, or commit, it falls back
// to per-record autocommit execution so one bad batch does not cost
// every record in it.
func (g *Gateway) InsertBatch(ctx context.Context, records []domain.KeywordRecord) (inserted, skipped, failed int, err error) {
	records = g.guard(records)

	tx, txErr := g.db.BeginTx(ctx, nil)
	if txErr != nil {
		log.Printf("insert batch: begin failed, falling back to per-record: %v", txErr)
		return g.insertPerRecord(ctx, records)
	}

	stmt, prepErr := tx.PrepareContext(ctx, g.queries.InsertKeyword())
	if prepErr != nil {
		tx.Rollback()
		log.Printf("insert batch: prepare failed, falling back to per-record: %v", prepErr)
		return g.insertPerRecord(ctx, records)
	}

	for _, r := range records {
		res, execErr := stmt.ExecContext(ctx, insertArgs(r)...)
		if execErr != nil {
			stmt.Close()
			tx.Rollback()
			log.Printf("insert batch: exec failed mid-transaction, falling back to per-record: %v", execErr)
			return g.insertPerRecord(ctx, records)
		}
		rows, _ := res.RowsAffected()
		if rows > 0 {
			inserted++
		} else {
			skipped++
		}
	}
	stmt.Close()

	if commitErr := tx.Commit(); commitErr != nil {
		log.Printf("insert batch: commit failed, falling back to per-record: %v", commitErr)
		return g.insertPerRecord(ctx, records)
	}
	return inserted, skipped, 0, nil
}

// insertPerRecord is the autocommit fallback used when the batch
// transaction itself could not complete. Each row's failure is logged
// and counted but does not abort the remaining rows.
func (g *Gateway) insertPerRecord(ctx context.Context, records []domain.KeywordRecord) (inserted, skipped, failed int, err error) {
	query := g.queries.InsertKeyword()
	for _, r := range records {
		res, execErr := g.db.ExecContext(ctx, query, insertArgs(r)...)
		if execErr != nil {
			failed++
			log.Printf("insert record: query_text=%q observed_on=%s failed: %v", r.QueryText, r.CreatedAt.Format("2006-01-02"), execErr)
			continue
		}
		rows, _ := res.RowsAffected()
		if rows > 0 {
			inserted++
		} else {
			skipped++
		}
	}
	return inserted, skipped, failed, nil
}

// guard is the last line of defense described for the gateway: it
// truncates an overlong keyword and substitutes the catalog's fallback
// id for an unknown category, in case an upstream layer missed one.
func (g *Gateway) guard(records []domain.KeywordRecord) []domain.KeywordRecord {
	out := make([]domain.KeywordRecord, len(records))
	for i, r := range records {
		if runes := []rune(r.Keyword); len(runes) > maxKeywordLen {
			r.Keyword = string(runes[:maxKeywordLen-2]) + "…"
		}
		if g.cats != nil && !g.cats.Valid(r.CategoryID) {
			r.CategoryID = g.cats.FallbackID()
		}
		out[i] = r
	}
	return out
}

func insertArgs(r domain.KeywordRecord) []any {
	return []any{
		r.QueryText, r.Keyword, r.CategoryID, r.QueryCount, r.BatchCreatedAt, r.CreatedAt,
		r.QueryText, r.CreatedAt,
	}
}
