// Package batch runs a list of data records through the Ruleset Pipeline
// using a fixed-size worker pool, preserving input order in the results
// regardless of completion order (spec.md §4.7).
package batch

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
	"github.com/opensource-finance/rulecore/internal/evaluator"
	"github.com/opensource-finance/rulecore/internal/pipeline"
)

// Executor runs a Pipeline across many records concurrently.
type Executor struct {
	pipeline *pipeline.Pipeline
}

// New builds an Executor around a Pipeline.
func New(p *pipeline.Pipeline) *Executor {
	return &Executor{pipeline: p}
}

// Input is one batch execution request.
type Input struct {
	Ruleset    *domain.RulesetConfig
	Compiled   map[string]*evaluator.CompiledRule
	Records    []domain.DataRecord
	MaxWorkers int
	DryRun     bool
}

// Run dispatches records to a bounded worker pool: one goroutine per
// record, each acquiring a semaphore slot before it runs (the teacher's
// EvaluateAll pattern, generalized from one rule per goroutine to one
// whole-record Pipeline run per goroutine). A single record's failure
// never aborts the batch; context cancellation marks any records that
// did not get to run as cancelled rather than blocking forever.
func (e *Executor) Run(ctx context.Context, in Input) (*domain.BatchResult, error) {
	if len(in.Records) == 0 {
		return nil, &coreerrors.InputValidationError{Field: "records", Message: "batch requires at least one record"}
	}

	workers := resolveWorkerCount(in.MaxWorkers, len(in.Records))

	start := time.Now()
	results := make([]domain.BatchItemResult, len(in.Records))

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for i, record := range in.Records {
		wg.Add(1)
		go func(idx int, rec domain.DataRecord) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = domain.BatchItemResult{Index: idx, Cancelled: true}
				return
			}
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				results[idx] = domain.BatchItemResult{Index: idx, Cancelled: true}
				return
			default:
			}

			results[idx] = e.runOne(ctx, idx, in, rec)
		}(i, record)
	}

	wg.Wait()

	return summarize(results, time.Since(start)), nil
}

func (e *Executor) runOne(ctx context.Context, idx int, in Input, record domain.DataRecord) domain.BatchItemResult {
	if err := pipeline.ValidateInput(record); err != nil {
		return domain.BatchItemResult{Index: idx, Success: false, Error: err.Error(), ErrorType: "InputValidationError"}
	}

	execCtx := domain.ExecutionContext{Data: record, Ctx: ctx}

	result, err := e.pipeline.Execute(in.Ruleset, in.Compiled, execCtx, in.DryRun)
	if err != nil {
		return domain.BatchItemResult{Index: idx, Success: false, Error: err.Error(), ErrorType: errorType(err)}
	}

	return domain.BatchItemResult{Index: idx, Success: true, Result: result}
}

func errorType(err error) string {
	switch err.(type) {
	case *coreerrors.RuleEvaluationError:
		return "RuleEvaluationError"
	case *coreerrors.InputValidationError:
		return "InputValidationError"
	default:
		return "Error"
	}
}

// resolveWorkerCount applies spec.md §4.7's default: bounded by CPU count
// and input size when the caller does not pin a worker count.
func resolveWorkerCount(requested, recordCount int) int {
	if requested > 0 {
		if requested > recordCount {
			return recordCount
		}
		return requested
	}

	workers := runtime.NumCPU()
	if workers > recordCount {
		workers = recordCount
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

func summarize(results []domain.BatchItemResult, elapsed time.Duration) *domain.BatchResult {
	summary := &domain.BatchResult{
		Total:         len(results),
		TotalDuration: elapsed,
		TotalMs:       elapsed.Milliseconds(),
		Results:       results,
	}

	for _, r := range results {
		if r.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	if summary.Total > 0 {
		summary.SuccessRate = float64(summary.Successful) / float64(summary.Total)
		summary.AverageMs = float64(summary.TotalMs) / float64(summary.Total)
	}

	return summary
}
