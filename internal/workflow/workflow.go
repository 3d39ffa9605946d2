// Package workflow implements the Chain-of-Responsibility dispatcher that
// runs a data record through a named sequence of stages (spec.md §4.5).
package workflow

import (
	"log/slog"

	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
)

// Dispatcher resolves stage names to handlers via an injected factory and
// runs them in sequence. A Dispatcher is stateless and safe for concurrent
// use across workflow executions (spec.md §4.5).
type Dispatcher struct {
	factory domain.HandlerFactory
}

// New builds a Dispatcher around a stage-name resolver.
func New(factory domain.HandlerFactory) *Dispatcher {
	return &Dispatcher{factory: factory}
}

// Run executes stages in order, threading each handler's output into the
// next. An unresolved stage name aborts the chain with WorkflowStageUnknown;
// the partial result (stages run so far, data as of the failure) is still
// returned alongside the error so callers can inspect progress.
func (d *Dispatcher) Run(ctx domain.ExecutionContext, processName string, stages []string, data domain.DataRecord) (*domain.WorkflowResult, error) {
	result := &domain.WorkflowResult{
		ProcessName: processName,
	}

	current := data

	for _, stage := range stages {
		handler, ok := d.factory(stage)
		if !ok {
			err := &coreerrors.WorkflowStageUnknown{Stage: stage}
			result.StageErrors = append(result.StageErrors, domain.StageError{Stage: stage, Error: err.Error()})
			result.FinalData = current
			return result, err
		}

		next, err := handler(ctx, current)
		if err != nil {
			result.StageErrors = append(result.StageErrors, domain.StageError{Stage: stage, Error: err.Error()})
			result.FinalData = current
			return result, err
		}

		current = next
		result.Stages = append(result.Stages, stage)

		slog.Debug("workflow: stage complete",
			"process", processName,
			"stage", stage,
			"correlation_id", ctx.CorrelationID,
		)
	}

	result.FinalData = current
	return result, nil
}

// Terminator is the default fall-through handler: it passes the record
// through unchanged. Wire it as the factory's result for a recognized
// "noop"/terminal stage name rather than returning false from the factory.
func Terminator(ctx domain.ExecutionContext, data domain.DataRecord) (domain.DataRecord, error) {
	return data, nil
}

// MapFactory adapts a plain map of stage name -> handler into a
// domain.HandlerFactory, falling back to Terminator for a configured set of
// terminal stage names.
func MapFactory(handlers map[string]domain.WorkflowHandler, terminalStages ...string) domain.HandlerFactory {
	terminal := make(map[string]bool, len(terminalStages))
	for _, s := range terminalStages {
		terminal[s] = true
	}

	return func(stage string) (domain.WorkflowHandler, bool) {
		if h, ok := handlers[stage]; ok {
			return h, true
		}
		if terminal[stage] {
			return Terminator, true
		}
		return nil, false
	}
}
