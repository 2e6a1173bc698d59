package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"keywordpipe/internal/catalog"
	"keywordpipe/internal/config"
	"keywordpipe/internal/engine"
	"keywordpipe/internal/store"
)

const dateLayout = "2006-01-02"

func main() {
	cfg := config.Load()

	cats, err := catalog.Load(cfg.CategoryCatalogPath)
	if err != nil {
		log.Fatalf("Failed to load category catalog: %v", err)
	}
	log.Printf("Loaded category catalog from %s: %d categories, fallback_id=%d", cfg.CategoryCatalogPath, cats.Len(), cats.FallbackID())

	db, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()
	log.Printf("Database initialized at %s", cfg.DBPath)

	if err := store.SyncCategories(db, cats.Names()); err != nil {
		log.Fatalf("Failed to sync category table: %v", err)
	}

	eng := engine.New(cfg, db, cats)

	op := flag.String("op", "batch", "operation to run: batch | missing-check | missing-process | missing-auto")
	start := flag.String("start", "", "range start date, YYYY-MM-DD")
	end := flag.String("end", "", "range end date, YYYY-MM-DD (defaults to -start)")
	limit := flag.Int("limit", 0, "cap on records reprocessed by missing-process/missing-auto (<=0 means unbounded)")
	flag.Parse()

	startDate, endDate, err := parseRange(*start, *end)
	if err != nil {
		log.Fatalf("Invalid date range: %v", err)
	}

	ctx := context.Background()
	switch *op {
	case "batch":
		summary, err := eng.Batch(ctx, startDate, endDate)
		if err != nil {
			log.Fatalf("Batch failed: %v", err)
		}
		log.Printf("batch complete: extracted=%d classified=%d inserted=%d skipped=%d failed_insert=%d oracle_fallbacks=%d wall=%s success=%v",
			summary.Extracted, summary.Classified, summary.Inserted, summary.Skipped, summary.FailedInsert, summary.OracleFallbacks, summary.Wall, summary.Success())
		if !summary.Success() {
			os.Exit(1)
		}
	case "missing-check":
		report, err := eng.MissingCheck(ctx, startDate, endDate)
		if err != nil {
			log.Fatalf("MissingCheck failed: %v", err)
		}
		log.Printf("missing check: total_missing=%d total_processed=%d per_date=%v", report.TotalMissing, report.TotalProcessed, report.PerDateMissing)
	case "missing-process":
		summary, err := eng.MissingProcess(ctx, startDate, endDate, *limit)
		if err != nil {
			log.Fatalf("MissingProcess failed: %v", err)
		}
		log.Printf("missing process: extracted=%d inserted=%d skipped=%d failed_insert=%d", summary.Extracted, summary.Inserted, summary.Skipped, summary.FailedInsert)
	case "missing-auto":
		result, err := eng.MissingAuto(ctx, startDate, endDate, *limit)
		if err != nil {
			log.Fatalf("MissingAuto failed: %v", err)
		}
		log.Printf("missing auto: before=%d after=%d", result.Before.TotalMissing, result.After.TotalMissing)
	default:
		log.Fatalf("unknown -op %q", *op)
	}
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	if start == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("-start is required")
	}
	if end == "" {
		end = start
	}
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("-start: %w", err)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("-end: %w", err)
	}
	return s, e, nil
}
