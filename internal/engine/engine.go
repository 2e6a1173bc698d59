// Package engine is the top-level invocation surface consumed by
// whatever out-of-process caller (CLI, scheduler) drives the pipeline:
// Batch for normal classification, and the three missing-data
// reconciliation operations. It wires the Query Builder, Store Gateway,
// Classification Oracle, Date Pipeline, Range Orchestrator, and
// Reconciler together from a single Config.
package engine

import (
	"context"
	"database/sql"
	"log"
	"time"

	"keywordpipe/internal/catalog"
	"keywordpipe/internal/chunkworker"
	"keywordpipe/internal/config"
	"keywordpipe/internal/datepipeline"
	"keywordpipe/internal/domain"
	"keywordpipe/internal/oracle"
	"keywordpipe/internal/orchestrator"
	"keywordpipe/internal/querybuilder"
	"keywordpipe/internal/reconciler"
	"keywordpipe/internal/store"
)

// Gateway is the subset of *store.Gateway the Engine needs: streaming
// extraction (shared by Date Pipelines and the Reconciler) plus
// idempotent batch insertion. Held as an interface, not *store.Gateway,
// so a fake can stand in wherever an Engine is built for a test.
type Gateway interface {
	datepipeline.Streamer
	chunkworker.Inserter
}

// Classifier is the subset of *oracle.Client the Engine needs. Held as
// an interface for the same reason as Gateway.
type Classifier interface {
	chunkworker.Classifier
}

// Engine holds every wired-up component needed to run a Batch or
// reconciliation invocation.
type Engine struct {
	qb   querybuilder.Builder
	gw   Gateway
	oc   Classifier
	rec  *reconciler.Reconciler
	oCfg orchestrator.Config
}

// New wires a complete Engine from cfg, an already-opened db (via
// store.Open), and the loaded category catalog.
func New(cfg config.Config, db *sql.DB, cats *catalog.Catalog) *Engine {
	qb := querybuilder.New(cfg.ChattingsTable, cfg.ChattingsPK, cfg.ChattingsText, cfg.ChattingsCreatedAt, cfg.KeywordsTable)
	gw := store.New(db, qb, cats)

	limiter := oracle.NewRateLimiter(cfg.RequestsPerMinute, time.Duration(cfg.MinIntervalSeconds*float64(time.Second)))
	oc := oracle.New(oracle.Options{
		APIKey:         cfg.AnthropicAPIKey,
		Model:          cfg.OracleModel,
		Limiter:        limiter,
		MaxRetries:     cfg.MaxRetries,
		BaseBackoff:    time.Duration(cfg.BaseBackoffSeconds * float64(time.Second)),
		RequestTimeout: cfg.RequestTimeout(),
		Catalog:        cats,
	})

	pipelineCfg := datepipeline.Config{
		Workers:   cfg.WorkersPerDate,
		ChunkSize: cfg.ChunkSize,
		FlushSize: cfg.InsertBatchSize,
	}
	rec := reconciler.New(qb, gw, oc, gw, reconciler.Config{
		Workers:   cfg.WorkersPerDate,
		ChunkSize: cfg.ChunkSize,
		FlushSize: cfg.InsertBatchSize,
	})

	return &Engine{
		qb:  qb,
		gw:  gw,
		oc:  oc,
		rec: rec,
		oCfg: orchestrator.Config{
			ConcurrentDates: cfg.ConcurrentDates,
			Pipeline:        pipelineCfg,
		},
	}
}

// Batch runs normal classification over [start, end] inclusive,
// fanning out across dates and chunks per the wired Config.
func (e *Engine) Batch(ctx context.Context, start, end time.Time) (domain.RunSummary, error) {
	startedAt := time.Now()
	summary := orchestrator.Run(ctx, start, end, e.qb, e.gw, e.oc, e.gw, e.oCfg)
	summary.Wall = time.Since(startedAt)
	if !summary.Success() {
		log.Printf("batch run completed with failures: failed_insert=%d", summary.FailedInsert)
	}
	return summary, nil
}

// MissingCheck reports, without mutation, which utterances in
// [start, end] have no corresponding keyword row.
func (e *Engine) MissingCheck(ctx context.Context, start, end time.Time) (domain.MissingReport, error) {
	return e.rec.Check(ctx, start, end)
}

// MissingProcess reprocesses up to limit missing utterances in
// [start, end] (limit <= 0 means unbounded).
func (e *Engine) MissingProcess(ctx context.Context, start, end time.Time, limit int) (domain.RunSummary, error) {
	return e.rec.Process(ctx, start, end, limit)
}

// MissingAuto reprocesses missing utterances and reports the missing
// counts both before and after.
func (e *Engine) MissingAuto(ctx context.Context, start, end time.Time, limit int) (domain.ReconcileResult, error) {
	return e.rec.Auto(ctx, start, end, limit)
}
