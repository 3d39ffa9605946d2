package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/opensource-finance/rulecore/internal/abtest"
	"github.com/opensource-finance/rulecore/internal/batch"
	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/dmn"
	"github.com/opensource-finance/rulecore/internal/domain"
	"github.com/opensource-finance/rulecore/internal/evaluator"
	"github.com/opensource-finance/rulecore/internal/pipeline"
	"github.com/opensource-finance/rulecore/internal/registry"
	"github.com/opensource-finance/rulecore/internal/versioning"
	"github.com/opensource-finance/rulecore/internal/workflow"
)

// Handler holds the dependencies every evaluation-core endpoint needs.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	eval       *evaluator.Evaluator
	registry   *registry.Registry
	pipeline   *pipeline.Pipeline
	batch      *batch.Executor
	dispatcher *workflow.Dispatcher
	versions   *versioning.Manager
	abtests    *abtest.Manager
	version    string
	validate   *validator.Validate
}

// NewHandler creates a new API handler.
func NewHandler(
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	eval *evaluator.Evaluator,
	reg *registry.Registry,
	pipe *pipeline.Pipeline,
	batchExec *batch.Executor,
	dispatcher *workflow.Dispatcher,
	versions *versioning.Manager,
	abtests *abtest.Manager,
	version string,
) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		eval:       eval,
		registry:   reg,
		pipeline:   pipe,
		batch:      batchExec,
		dispatcher: dispatcher,
		versions:   versions,
		abtests:    abtests,
		version:    version,
		validate:   validator.New(),
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusForError maps the coreerrors taxonomy onto HTTP status codes.
func statusForError(err error) int {
	var validationErr *coreerrors.InputValidationError
	var compileErr *coreerrors.RuleCompileError
	var dmnErr *coreerrors.DMNParseError
	var stageErr *coreerrors.WorkflowStageUnknown
	var storageErr *coreerrors.StorageError
	var cancelledErr *coreerrors.CancelledError

	switch {
	case errors.As(err, &validationErr), errors.As(err, &compileErr), errors.As(err, &dmnErr), errors.As(err, &stageErr):
		return http.StatusBadRequest
	case errors.As(err, &cancelledErr):
		return 499
	case errors.As(err, &storageErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func resolveRuleset(reg *registry.Registry, rulesetID string) (*domain.RulesetConfig, bool) {
	if rulesetID == "" {
		return reg.DefaultRuleset()
	}
	return reg.GetRuleset(rulesetID)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// EvaluateRequest is the request body for POST /evaluate.
type EvaluateRequest struct {
	RulesetID     string            `json:"rulesetId,omitempty"`
	Data          domain.DataRecord `json:"data" validate:"required"`
	DryRun        bool              `json:"dryRun,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	ABTestID      string            `json:"abTestId,omitempty"`
	AssignmentKey string            `json:"assignmentKey,omitempty"`
}

// Evaluate handles POST /evaluate: one data record against one ruleset.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ruleset, ok := resolveRuleset(h.registry, req.RulesetID)
	if !ok {
		writeError(w, http.StatusNotFound, "ruleset not found")
		return
	}
	compiled := h.registry.CompiledRulesFor(ruleset)

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	execCtx := domain.ExecutionContext{
		Data:          req.Data,
		CorrelationID: correlationID,
		ABTestID:      req.ABTestID,
		Ctx:           ctx,
	}
	if req.ABTestID != "" && h.abtests != nil {
		assignKey := req.AssignmentKey
		if assignKey == "" {
			assignKey = correlationID
		}
		variant, assigned, err := h.abtests.Assign(ctx, req.ABTestID, assignKey)
		if err != nil {
			slog.Error("ab test assignment failed", "test_id", req.ABTestID, "error", err)
			writeError(w, statusForError(err), err.Error())
			return
		}
		if assigned {
			execCtx.ABVariant = string(variant)
		}
	}

	result, err := h.pipeline.Execute(ruleset, compiled, execCtx, req.DryRun)
	if err != nil {
		slog.Error("evaluation failed", "ruleset_id", ruleset.ID, "error", err)
		writeError(w, statusForError(err), err.Error())
		return
	}

	if !req.DryRun && h.repo != nil && ctx.Err() == nil {
		log := &domain.ExecutionLog{
			ExecutionID:          uuid.New().String(),
			Timestamp:            time.Now().UTC(),
			CorrelationID:        result.CorrelationID,
			InputSnapshot:        req.Data,
			TotalPoints:          result.TotalPoints,
			PatternResult:        result.PatternResult,
			ActionRecommendation: result.ActionRecommendation,
			DurationMs:           result.DurationMs,
			Success:              true,
			RulesetID:            ruleset.ID,
			ABTestID:             req.ABTestID,
			ABVariant:            execCtx.ABVariant,
		}
		if err := h.repo.InsertExecutionLog(ctx, log); err != nil {
			slog.Error("failed to persist execution log", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// BatchEvaluateRequest is the request body for POST /evaluate/batch.
type BatchEvaluateRequest struct {
	RulesetID  string              `json:"rulesetId,omitempty"`
	Records    []domain.DataRecord `json:"records" validate:"required,min=1"`
	DryRun     bool                `json:"dryRun,omitempty"`
	MaxWorkers int                 `json:"maxWorkers,omitempty"`
}

// EvaluateBatch handles POST /evaluate/batch: a bounded worker pool runs
// every record against the same ruleset and returns an order-preserving
// summary (spec.md §4.7).
func (h *Handler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchEvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ruleset, ok := resolveRuleset(h.registry, req.RulesetID)
	if !ok {
		writeError(w, http.StatusNotFound, "ruleset not found")
		return
	}
	compiled := h.registry.CompiledRulesFor(ruleset)

	result, err := h.batch.Run(ctx, batch.Input{
		Ruleset:    ruleset,
		Compiled:   compiled,
		Records:    req.Records,
		MaxWorkers: req.MaxWorkers,
		DryRun:     req.DryRun,
	})
	if err != nil {
		slog.Error("batch evaluation failed", "ruleset_id", ruleset.ID, "error", err)
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DMNEvaluateRequest is the request body for POST /evaluate/dmn.
type DMNEvaluateRequest struct {
	Document string            `json:"document" validate:"required"`
	Data     domain.DataRecord `json:"data" validate:"required"`
}

// DMNEvaluateResponse reports the compiled document's scheduled order plus
// every decision's result, in that order.
type DMNEvaluateResponse struct {
	Order        []string            `json:"order"`
	CycleWarning string              `json:"cycleWarning,omitempty"`
	Results      []dmn.DecisionResult `json:"results"`
}

// EvaluateDMN handles POST /evaluate/dmn: compiles a DMN XML document ad
// hoc and runs its decisions, in dependency-scheduled order, against a
// single data record (spec.md §4.3).
func (h *Handler) EvaluateDMN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DMNEvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, compiled, err := dmn.CompileDocument([]byte(req.Document))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	if ctx.Err() != nil {
		err := &coreerrors.CancelledError{Op: "Handler.EvaluateDMN"}
		writeError(w, statusForError(err), err.Error())
		return
	}

	results, err := dmn.Execute(h.eval, doc.Order, compiled, req.Data)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, DMNEvaluateResponse{
		Order:        doc.Order,
		CycleWarning: doc.CycleWarning,
		Results:      results,
	})
}

// ListRulesets returns every ruleset currently loaded in the registry.
func (h *Handler) ListRulesets(w http.ResponseWriter, r *http.Request) {
	rulesets := h.registry.AllRulesets()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rulesets": rulesets,
		"count":    len(rulesets),
	})
}

// GetRuleset retrieves a single ruleset by ID.
func (h *Handler) GetRuleset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rs, ok := h.registry.GetRuleset(id)
	if !ok {
		writeError(w, http.StatusNotFound, "ruleset not found")
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// ListRules returns every rule currently loaded in the registry.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.registry.AllRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule retrieves a single rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, ok := h.registry.GetRule(id)
	if !ok {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// UpsertRuleRequest is the request body for POST /rules and PUT /rules/{id}.
type UpsertRuleRequest struct {
	ID           string           `json:"ruleId" validate:"required"`
	RulesetID    string           `json:"rulesetId,omitempty"`
	Name         string           `json:"ruleName" validate:"required"`
	Priority     int              `json:"priority"`
	RulePoint    float64          `json:"rulePoint"`
	Weight       float64          `json:"weight"`
	ActionTag    string           `json:"actionResult"`
	Status       domain.RuleStatus `json:"status"`
	Attribute    string           `json:"attribute,omitempty"`
	Operator     domain.Operator  `json:"operator,omitempty"`
	Constant     any              `json:"constant,omitempty"`
	ConditionIDs []string         `json:"conditionIds,omitempty"`
	ChangeReason string           `json:"changeReason,omitempty"`
	Author       string           `json:"author,omitempty"`
}

func (req UpsertRuleRequest) toRuleConfig() *domain.RuleConfig {
	return &domain.RuleConfig{
		ID:           req.ID,
		RulesetID:    req.RulesetID,
		Name:         req.Name,
		Priority:     req.Priority,
		RulePoint:    req.RulePoint,
		Weight:       req.Weight,
		ActionTag:    req.ActionTag,
		Status:       req.Status,
		Attribute:    req.Attribute,
		Operator:     req.Operator,
		Constant:     req.Constant,
		ConditionIDs: req.ConditionIDs,
	}
}

// CreateRule adds a new rule: it is compiled and recorded as version 1
// before the registry's in-memory snapshot picks it up.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpsertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule := req.toRuleConfig()

	if h.versions != nil {
		if _, err := h.versions.Write(ctx, rule, req.ChangeReason, req.Author); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
	} else if err := h.registry.AddRule(ctx, rule); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule replaces an existing rule's definition, recording a new
// version and flipping is_current.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req UpsertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	req.ID = id

	rule := req.toRuleConfig()

	if h.versions != nil {
		if _, err := h.versions.Write(ctx, rule, req.ChangeReason, req.Author); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
	} else if err := h.registry.UpdateRule(ctx, rule); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	slog.Info("rule updated", "id", rule.ID)
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a rule from the registry and the repository.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.registry.RemoveRule(ctx, id); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	slog.Info("rule deleted", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "rule deleted"})
}

// ReloadRules reloads the full rule set from the repository, rejecting
// the reload as a whole if any rule fails to compile (spec.md §4.4).
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.registry.ReloadAll(ctx); err != nil {
		writeError(w, statusForError(err), "reload failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "registry reloaded",
		"generation": h.registry.Generation(),
	})
}

// RegistryStatus reports the registry's current generation, last reload
// outcome, rule count, monitor state, and staleness (spec.md §6).
func (h *Handler) RegistryStatus(w http.ResponseWriter, r *http.Request) {
	lastReload := h.registry.LastReloadTime()
	var lastReloadTime string
	if !lastReload.IsZero() {
		lastReloadTime = lastReload.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"registry_version":   h.registry.Generation(),
		"last_reload_time":   lastReloadTime,
		"last_reload_status": h.registry.LastReloadStatus(),
		"rule_count":         h.registry.RuleCount(),
		"monitoring_active":  h.registry.MonitoringActive(),
		"stale":              h.registry.Stale(),
	})
}

// GetRuleHistory returns every recorded version of a rule.
func (h *Handler) GetRuleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	history, err := h.versions.History(ctx, ruleID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ruleId":   ruleID,
		"versions": history,
	})
}

// RollbackRequest is the request body for POST /versions/{id}/rollback.
type RollbackRequest struct {
	VersionNumber int    `json:"versionNumber" validate:"required"`
	Author        string `json:"author,omitempty"`
}

// RollbackRule restores a prior version's snapshot as a new current
// version and pushes it into the live registry (spec.md §4.6).
func (h *Handler) RollbackRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	version, err := h.versions.Rollback(ctx, ruleID, req.VersionNumber, req.Author)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, version)
}

// CompareVersionsRequest is the request body for POST /versions/{id}/compare.
type CompareVersionsRequest struct {
	VersionA int `json:"versionA" validate:"required"`
	VersionB int `json:"versionB" validate:"required"`
}

// CompareVersions diffs two recorded versions of the same rule field by field.
func (h *Handler) CompareVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	var req CompareVersionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	a, err := h.repo.GetRuleVersion(ctx, ruleID, req.VersionA)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	b, err := h.repo.GetRuleVersion(ctx, ruleID, req.VersionB)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"diffs": versioning.Compare(a, b),
	})
}

// CreateABTestRequest is the request body for POST /ab-tests.
type CreateABTestRequest struct {
	TestID          string  `json:"testId" validate:"required"`
	RuleID          string  `json:"ruleId" validate:"required"`
	VariantAVersion string  `json:"variantAVersion" validate:"required"`
	VariantBVersion string  `json:"variantBVersion" validate:"required"`
	SplitA          float64 `json:"splitA"`
	MinSampleSize   int     `json:"minSampleSize"`
	ConfidenceLevel float64 `json:"confidenceLevel"`
}

// CreateABTest registers a new rule experiment in the draft state.
func (h *Handler) CreateABTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateABTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	splitA := req.SplitA
	if splitA == 0 {
		splitA = 0.5
	}

	test := &domain.ABTest{
		TestID:          req.TestID,
		RuleID:          req.RuleID,
		VariantAVersion: req.VariantAVersion,
		VariantBVersion: req.VariantBVersion,
		SplitA:          splitA,
		SplitB:          1 - splitA,
		Status:          domain.ABTestDraft,
		MinSampleSize:   req.MinSampleSize,
		ConfidenceLevel: req.ConfidenceLevel,
	}

	if err := h.repo.InsertABTest(ctx, test); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, test)
}

// GetABTest retrieves an A/B test by ID.
func (h *Handler) GetABTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	testID := chi.URLParam(r, "id")

	test, err := h.repo.GetABTest(ctx, testID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, test)
}

// AssignABTestRequest is the request body for POST /ab-tests/{id}/assign.
type AssignABTestRequest struct {
	AssignmentKey string `json:"assignmentKey" validate:"required"`
}

// AssignABTest deterministically assigns an assignment key to variant A
// or B, persisting the assignment on first sight (spec.md §4.6).
func (h *Handler) AssignABTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	testID := chi.URLParam(r, "id")

	var req AssignABTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	variant, running, err := h.abtests.Assign(ctx, testID, req.AssignmentKey)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if !running {
		writeError(w, http.StatusConflict, "test is not running")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"variant": string(variant)})
}

// RecordOutcomeRequest is the request body for POST /ab-tests/{id}/outcome.
type RecordOutcomeRequest struct {
	AssignmentKey string `json:"assignmentKey" validate:"required"`
	Success       bool   `json:"success"`
}

// RecordOutcome records a success/failure outcome against an existing
// assignment for later significance testing.
func (h *Handler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	testID := chi.URLParam(r, "id")

	var req RecordOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.abtests.RecordOutcome(ctx, testID, req.AssignmentKey, req.Success); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "outcome recorded"})
}

// ABTestSignificance reports whether a running test has reached a
// statistically significant result (spec.md §4.6).
func (h *Handler) ABTestSignificance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	testID := chi.URLParam(r, "id")

	test, err := h.repo.GetABTest(ctx, testID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	assignments, err := h.repo.ListAssignments(ctx, testID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	var aSuccess, aFailure, bSuccess, bFailure int64
	for _, a := range assignments {
		switch a.Variant {
		case domain.VariantA:
			aSuccess += a.Successes
			aFailure += a.Failures
		case domain.VariantB:
			bSuccess += a.Successes
			bFailure += a.Failures
		}
	}

	report := abtest.Significance(aSuccess, aFailure, bSuccess, bFailure, test.ConfidenceLevel, test.MinSampleSize)
	writeJSON(w, http.StatusOK, report)
}

// RunWorkflowRequest is the request body for POST /workflows/{name}/run.
type RunWorkflowRequest struct {
	Stages        []string          `json:"stages" validate:"required,min=1"`
	Data          domain.DataRecord `json:"data" validate:"required"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

// RunWorkflow dispatches a data record through a named chain of stages
// (spec.md §4.5).
func (h *Handler) RunWorkflow(w http.ResponseWriter, r *http.Request) {
	processName := chi.URLParam(r, "name")

	var req RunWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	execCtx := domain.ExecutionContext{Data: req.Data, CorrelationID: correlationID, Ctx: r.Context()}

	result, err := h.dispatcher.Run(execCtx, processName, req.Stages, req.Data)
	if err != nil {
		writeJSON(w, statusForError(err), map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}
