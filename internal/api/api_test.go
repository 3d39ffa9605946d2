package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/rulecore/internal/abtest"
	"github.com/opensource-finance/rulecore/internal/batch"
	"github.com/opensource-finance/rulecore/internal/bus"
	"github.com/opensource-finance/rulecore/internal/cache"
	"github.com/opensource-finance/rulecore/internal/domain"
	"github.com/opensource-finance/rulecore/internal/evaluator"
	"github.com/opensource-finance/rulecore/internal/pipeline"
	"github.com/opensource-finance/rulecore/internal/registry"
	"github.com/opensource-finance/rulecore/internal/repository"
	"github.com/opensource-finance/rulecore/internal/versioning"
	"github.com/opensource-finance/rulecore/internal/workflow"
)

func createTestServer(t *testing.T) *Server {
	t.Helper()

	repoPath := filepath.Join(t.TempDir(), "rules.json")
	repo, err := repository.NewFileRepository(repoPath)
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}

	ruleset := &domain.RulesetConfig{
		ID:        "default",
		Name:      "default",
		IsDefault: true,
		Patterns:  map[string]string{},
		Rules: []*domain.RuleConfig{
			{
				ID:        "high-value",
				RulesetID: "default",
				Name:      "High Value",
				Priority:  1,
				RulePoint: 10,
				Weight:    1.0,
				ActionTag: "Y",
				Status:    domain.StatusActive,
				Attribute: "amount",
				Operator:  domain.OpGreaterThan,
				Constant:  100000.0,
			},
		},
	}
	if err := repo.SaveRuleset(context.Background(), ruleset); err != nil {
		t.Fatalf("SaveRuleset: %v", err)
	}
	if err := repo.SaveRule(context.Background(), ruleset.Rules[0]); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}

	eval, err := evaluator.New()
	if err != nil {
		t.Fatalf("evaluator.New: %v", err)
	}

	eventBus := bus.NewChannelBus(16)

	reg, err := registry.New(context.Background(), domain.RegistryConfig{}, repo, eval, eventBus, nil)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	pipe := pipeline.New(eval)
	batchExec := batch.New(pipe)
	dispatcher := workflow.New(workflow.MapFactory(nil, "noop"))
	versionMgr := versioning.New(repo, reg)
	abtestMgr := abtest.New(repo, eventBus)

	localCache := cache.NewLRUCache(100)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(cfg, repo, localCache, eventBus, eval, reg, pipe, batchExec, dispatcher, versionMgr, abtestMgr, "test-v1")
}

func TestEvaluateEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("BelowThresholdNoMatch", func(t *testing.T) {
		reqBody := EvaluateRequest{
			Data: domain.DataRecord{"amount": 1000.50},
		}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.ExecutionResult
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.CorrelationID == "" {
			t.Error("expected a correlationId in the response")
		}
	})

	t.Run("AboveThresholdMatches", func(t *testing.T) {
		reqBody := EvaluateRequest{
			Data: domain.DataRecord{"amount": 250000.0},
		}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var resp domain.ExecutionResult
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.TotalPoints != 10 {
			t.Errorf("expected totalPoints 10, got %v", resp.TotalPoints)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingData", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownRuleset", func(t *testing.T) {
		reqBody := EvaluateRequest{RulesetID: "does-not-exist", Data: domain.DataRecord{"amount": 1.0}}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		reqBody := EvaluateRequest{Data: domain.DataRecord{"amount": 1.0}}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestEvaluateBatchEndpoint(t *testing.T) {
	server := createTestServer(t)

	reqBody := BatchEvaluateRequest{
		Records: []domain.DataRecord{
			{"amount": 1.0},
			{"amount": 250000.0},
		},
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/evaluate/batch", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp domain.BatchResult
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("expected total 2, got %d", resp.Total)
	}
}

func TestRulesEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("ListRules", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("GetUnknownRule", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules/does-not-exist", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ReloadRules", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/rules/reload", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestRegistryStatusEndpoint(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/registry/status", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &resp)

	for _, field := range []string{"registry_version", "last_reload_time", "last_reload_status", "rule_count", "monitoring_active", "stale"} {
		if _, ok := resp[field]; !ok {
			t.Errorf("expected %s in response, got %+v", field, resp)
		}
	}
	if resp["last_reload_status"] != "success" {
		t.Errorf("expected last_reload_status 'success' after a clean startup reload, got %v", resp["last_reload_status"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
