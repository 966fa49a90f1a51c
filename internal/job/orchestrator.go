package job

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/szefer-piotr/eco-data-extractor/internal/extraction"
	"github.com/szefer-piotr/eco-data-extractor/internal/feedback"
	"github.com/szefer-piotr/eco-data-extractor/internal/provider"
	"github.com/szefer-piotr/eco-data-extractor/internal/sentence"
)

// Config tunes the orchestrator.
type Config struct {
	// Concurrency bounds how many rows are in flight at once.
	Concurrency int

	// MaxAttempts bounds model calls per row, retrying transient
	// provider errors with exponential backoff.
	MaxAttempts int

	// BaseBackoff is the first retry delay; doubled per attempt.
	BaseBackoff time.Duration

	// FatalThreshold is how many rows may hit fatal provider errors
	// before the whole job is failed.
	FatalThreshold int

	// MaxExamples caps refinement context examples per category.
	MaxExamples int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		MaxAttempts:    3,
		BaseBackoff:    time.Second,
		FatalThreshold: 3,
		MaxExamples:    extraction.DefaultMaxExamples,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency < 1 {
		c.Concurrency = d.Concurrency
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.FatalThreshold < 1 {
		c.FatalThreshold = d.FatalThreshold
	}
	if c.MaxExamples < 1 {
		c.MaxExamples = d.MaxExamples
	}
	return c
}

// Orchestrator drives extraction jobs: it fans rows out to a bounded
// worker pool, runs each row's pipeline as one sequential unit, and
// settles the job's terminal status.
type Orchestrator struct {
	cfg        Config
	provider   provider.Provider
	builder    *extraction.PromptBuilder
	parser     *extraction.Parser
	aggregator *feedback.Aggregator
	logger     *zap.Logger
}

// NewOrchestrator creates an orchestrator. aggregator may be nil, in
// which case prompts carry no refinement context.
func NewOrchestrator(cfg Config, p provider.Provider, aggregator *feedback.Aggregator, logger *zap.Logger) (*Orchestrator, error) {
	if p == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:        cfg,
		provider:   p,
		builder:    extraction.NewPromptBuilder(cfg.MaxExamples),
		parser:     extraction.NewParser(extraction.DefaultParserOptions(), logger),
		aggregator: aggregator,
		logger:     logger,
	}, nil
}

// Run processes every row and settles the job's terminal status.
//
// Per-row extraction errors never fail the job; they are recorded on
// the RowResult and counted. Only recurring fatal provider errors
// (FatalThreshold distinct rows) fail the whole run. Cancellation is
// cooperative: checked between rows, in-flight rows finish, finished
// results are retained.
func (o *Orchestrator) Run(ctx context.Context, j *Job, rows []Row, categories []extraction.CategorySchema) error {
	if err := extraction.ValidateSchemas(categories); err != nil {
		j.finish(StatusFailed, err.Error())
		JobsFinishedTotal.WithLabelValues(string(StatusFailed)).Inc()
		return err
	}

	start := time.Now()
	j.markProcessing()
	ActiveJobs.Inc()
	defer ActiveJobs.Dec()
	defer func() { JobDuration.Observe(time.Since(start).Seconds()) }()

	contexts := o.refinementContexts(ctx, categories)

	var fatalMu sync.Mutex
	fatalRows := 0
	fatalExceeded := fmt.Errorf("fatal provider errors on %d rows", o.cfg.FatalThreshold)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for _, row := range rows {
		if gctx.Err() != nil || j.CancelRequested() {
			break
		}
		row := row
		g.Go(func() error {
			res, fatal := o.processRow(gctx, row, categories, contexts)
			j.recordResult(res)
			if res.Err != "" {
				RowsProcessedTotal.WithLabelValues("error").Inc()
			} else {
				RowsProcessedTotal.WithLabelValues("ok").Inc()
			}
			if fatal {
				fatalMu.Lock()
				fatalRows++
				exceeded := fatalRows >= o.cfg.FatalThreshold
				fatalMu.Unlock()
				if exceeded {
					return fatalExceeded
				}
			}
			return nil
		})
	}

	err := g.Wait()

	var status Status
	var msg string
	switch {
	case err == fatalExceeded:
		status, msg = StatusFailed, err.Error()
	case j.CancelRequested() || ctx.Err() != nil:
		status = StatusCancelled
	default:
		status = StatusCompleted
	}
	j.finish(status, msg)
	JobsFinishedTotal.WithLabelValues(string(status)).Inc()

	snap := j.Snapshot()
	o.logger.Info("extraction run finished",
		zap.String("job_id", j.ID()),
		zap.String("status", string(snap.Status)),
		zap.Int("processed_rows", snap.ProcessedRows),
		zap.Int("errored_rows", snap.ErroredRows),
		zap.Duration("duration", time.Since(start)))

	if status == StatusFailed {
		return err
	}
	return nil
}

// refinementContexts fetches per-category context once per run. A
// failing feedback read degrades to context-free prompts rather than
// blocking extraction.
func (o *Orchestrator) refinementContexts(ctx context.Context, categories []extraction.CategorySchema) map[string]*extraction.RefinementContext {
	if o.aggregator == nil {
		return nil
	}
	contexts, err := o.aggregator.BuildContexts(ctx, categories, o.cfg.MaxExamples)
	if err != nil {
		o.logger.Warn("failed to build refinement context", zap.Error(err))
		return nil
	}
	return contexts
}

// processRow runs one row's pipeline: enumerate, build prompt, call
// the model with bounded retries, parse, assemble. The fatal return
// marks rows that hit a non-retryable provider error.
func (o *Orchestrator) processRow(ctx context.Context, row Row, categories []extraction.CategorySchema, contexts map[string]*extraction.RefinementContext) (res *extraction.RowResult, fatal bool) {
	res = &extraction.RowResult{
		RowID:      row.ID,
		Categories: make(map[string]extraction.CategoryExtraction, len(categories)),
	}

	if !utf8.ValidString(row.Text) {
		res.Err = "enumeration failed: text is not valid UTF-8"
		return res, false
	}

	res.Sentences = sentence.Enumerate(row.Text)
	if len(res.Sentences) == 0 {
		// Nothing to cite; every category is an empty extraction.
		for _, cat := range categories {
			res.Categories[cat.Name] = extraction.CategoryExtraction{Evidence: []extraction.Evidence{}}
		}
		return res, false
	}

	req := o.builder.Build(categories, res.Sentences, contexts)

	raw, err := o.generateWithRetry(ctx, row.ID, req)
	if err != nil {
		res.Err = err.Error()
		return res, !provider.IsTransient(err) && ctx.Err() == nil
	}

	res.Categories = o.parser.Parse(raw, res.Sentences, categories)
	return res, false
}

// generateWithRetry calls the model, retrying transient failures with
// exponential backoff up to MaxAttempts.
func (o *Orchestrator) generateWithRetry(ctx context.Context, rowID string, req extraction.Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			ProviderRetriesTotal.Inc()
			backoff := o.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		raw, err := o.provider.Generate(ctx, req)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if !provider.IsTransient(err) {
			o.logger.Error("fatal provider error",
				zap.String("row_id", rowID), zap.Error(err))
			return "", err
		}
		o.logger.Warn("transient provider error",
			zap.String("row_id", rowID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", fmt.Errorf("model call failed after %d attempts: %w", o.cfg.MaxAttempts, lastErr)
}
