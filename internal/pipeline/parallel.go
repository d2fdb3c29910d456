package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// ProcessPages runs the pages of one document strictly in order. A failing
// page is recorded in its PageResult and does not stop the batch; only
// context cancellation does. Units inside a page are processed leniently.
func (c *Controller) ProcessPages(ctx context.Context, pages []PageInput, cfg Config, progress ProgressCallback) ([]PageResult, error) {
	if len(pages) == 0 {
		return nil, errors.New("no pages provided")
	}
	if progress == nil {
		progress = NoOpProgressCallback{}
	}
	cfg.Policy = ContinueOnError

	progress.OnStart(len(pages))
	defer progress.OnComplete()

	results := make([]PageResult, 0, len(pages))
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		start := time.Now()
		outcome, err := c.RunLayoutOcr(ctx, p.ImagePath, cfg)
		res := PageResult{Number: p.Number, Outcome: outcome, Err: err}
		results = append(results, res)

		if err != nil {
			slog.Warn("Page OCR failed", "page", p.Number, "error", err)
			progress.OnError(i+1, fmt.Errorf("page %d: %w", p.Number, err))
		} else {
			slog.Info("Page OCR complete", "page", p.Number, "mode", outcome.Mode,
				"units", len(outcome.Regions), "duration_ms", time.Since(start).Milliseconds())
		}
		if r, ok := progress.(PageReporter); ok {
			r.OnPage(res)
		}
		progress.OnProgress(i+1, len(pages))

		if err != nil && ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	return results, nil
}

// ParallelConfig holds configuration for multi-document processing.
type ParallelConfig struct {
	MaxWorkers int // 0 = runtime.NumCPU()
	Pipeline   Config
	// NewProgress optionally creates a per-document page progress callback.
	NewProgress func(docID string) ProgressCallback
}

// DefaultParallelConfig returns defaults for multi-document processing.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		MaxWorkers: runtime.NumCPU(),
		Pipeline:   DefaultConfig(),
	}
}

type documentJob struct {
	index int
	doc   DocumentInput
}

type documentResult struct {
	index  int
	result DocumentResult
}

// ProcessDocuments processes different documents concurrently using a worker
// pool; the pages of each document stay sequential. Results keep input order.
func (c *Controller) ProcessDocuments(ctx context.Context, docs []DocumentInput, config ParallelConfig) ([]DocumentResult, error) {
	if len(docs) == 0 {
		return nil, errors.New("no documents provided")
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	workers := min(config.MaxWorkers, len(docs))

	jobs := make(chan documentJob, len(docs))
	results := make(chan documentResult, len(docs))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go c.documentWorker(ctx, jobs, results, &wg, config)
	}

	go func() {
		defer close(jobs)
		for i, d := range docs {
			select {
			case jobs <- documentJob{index: i, doc: d}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]DocumentResult, len(docs))
	for r := range results {
		ordered[r.index] = r.result
	}

	if err := ctx.Err(); err != nil {
		return ordered, err
	}
	return ordered, nil
}

func (c *Controller) documentWorker(
	ctx context.Context,
	jobs <-chan documentJob,
	results chan<- documentResult,
	wg *sync.WaitGroup,
	config ParallelConfig,
) {
	defer wg.Done()

	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			var progress ProgressCallback
			if config.NewProgress != nil {
				progress = config.NewProgress(job.doc.ID)
			}
			pages, err := c.ProcessPages(ctx, job.doc.Pages, config.Pipeline, progress)
			res := documentResult{index: job.index, result: DocumentResult{ID: job.doc.ID, Pages: pages, Err: err}}

			select {
			case results <- res:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// BatchStats summarizes a document batch.
type BatchStats struct {
	Pages       int           `json:"pages"`
	Succeeded   int           `json:"succeeded"`
	Partial     int           `json:"partial"`
	Failed      int           `json:"failed"`
	TotalOCRDur time.Duration `json:"total_ocr_ns"`
}

// CalculateBatchStats counts page outcomes.
func CalculateBatchStats(results []PageResult) BatchStats {
	var st BatchStats
	for _, r := range results {
		st.Pages++
		var partial *PartialPageFailure
		switch {
		case r.Err == nil:
			st.Succeeded++
		case errors.As(r.Err, &partial):
			st.Partial++
		default:
			st.Failed++
		}
		if r.Outcome != nil {
			st.TotalOCRDur += time.Duration(r.Outcome.Processing.OCRNs)
		}
	}
	return st
}
