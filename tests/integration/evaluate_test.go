//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running rulecore
// instance, exercising the full evaluation pipeline over HTTP:
//
//	POST /rules (seed) -> POST /rules/reload -> POST /evaluate -> assert
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// These tests seed their own rules via the API rather than depending on an
// external fixture script, so they are self-contained against any fresh
// rulecore instance started with an empty repository.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration.
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("RULECORE_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching rulecore's API contract)
// ============================================================================

// EvaluateRequest is the data record sent to POST /evaluate.
type EvaluateRequest struct {
	RulesetID string         `json:"rulesetId,omitempty"`
	Data      map[string]any `json:"data"`
}

// EvaluateResponse is what POST /evaluate returns.
type EvaluateResponse struct {
	TotalPoints          float64 `json:"totalPoints"`
	PatternResult        string  `json:"patternResult"`
	ActionRecommendation *string `json:"actionRecommendation"`
	CorrelationID        string  `json:"correlationId"`
	RulesetID            string  `json:"rulesetId,omitempty"`
	DurationMs           int64   `json:"durationMs"`
	DryRun               bool    `json:"dryRun"`
}

// UpsertRuleRequest mirrors internal/api.UpsertRuleRequest's wire shape.
type UpsertRuleRequest struct {
	ID        string  `json:"ruleId"`
	RulesetID string  `json:"rulesetId,omitempty"`
	Name      string  `json:"ruleName"`
	Priority  int     `json:"priority"`
	RulePoint float64 `json:"rulePoint"`
	Weight    float64 `json:"weight"`
	ActionTag string  `json:"actionResult"`
	Status    string  `json:"status"`
	Attribute string  `json:"attribute,omitempty"`
	Operator  string  `json:"operator,omitempty"`
	Constant  any     `json:"constant,omitempty"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

// seedRule creates (or replaces) a rule via POST /rules and reloads the
// registry so the evaluator picks it up immediately.
func seedRule(t *testing.T, config TestConfig, rule UpsertRuleRequest) {
	t.Helper()

	status := doJSON(t, http.MethodPost, config.BaseURL+"/rules", rule, nil)
	if status != http.StatusOK && status != http.StatusCreated {
		t.Fatalf("failed to seed rule %s: status %d", rule.ID, status)
	}

	status = doJSON(t, http.MethodPost, config.BaseURL+"/rules/reload", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("failed to reload rules after seeding %s: status %d", rule.ID, status)
	}
}

func evaluate(t *testing.T, config TestConfig, req EvaluateRequest) EvaluateResponse {
	t.Helper()

	var result EvaluateResponse
	status := doJSON(t, http.MethodPost, config.BaseURL+"/evaluate", req, &result)
	if status != http.StatusOK {
		t.Fatalf("expected status 200, got %d", status)
	}
	return result
}

// ============================================================================
// SCENARIO 1: Normal Record (No Match)
// ============================================================================

func TestNormalRecord_NoMatch(t *testing.T) {
	/*
		SCENARIO: A $500 transaction against a rule that only fires above
		$10,000.

		FINAL DECISION: no rule fires, patternResult falls back to the
		ruleset's configured default (no match).
	*/
	config := getTestConfig()

	seedRule(t, config, UpsertRuleRequest{
		ID:        "high-value-001",
		Name:      "High Value Transfer",
		Priority:  1,
		RulePoint: 10,
		Weight:    1.0,
		ActionTag: "Y",
		Status:    "active",
		Attribute: "amount",
		Operator:  "greater_than",
		Constant:  10000.0,
	})

	req := EvaluateRequest{
		Data: map[string]any{"amount": 500.0},
	}

	result := evaluate(t, config, req)

	if result.PatternResult == "ALERT" {
		t.Errorf("expected no match for a $500 transaction, got patternResult=%s", result.PatternResult)
	}

	t.Logf("normal record: patternResult=%s totalPoints=%.2f", result.PatternResult, result.TotalPoints)
}

// ============================================================================
// SCENARIO 2: High Value Record (Rule Triggered)
// ============================================================================

func TestHighValueRecord_RuleTriggered(t *testing.T) {
	/*
		SCENARIO: A $50,000 transaction, well above the $10,000 threshold.

		EXPECTED BEHAVIOR: the high-value-001 rule fires, contributing its
		rule point to the total and tagging the result "Y".
	*/
	config := getTestConfig()

	seedRule(t, config, UpsertRuleRequest{
		ID:        "high-value-001",
		Name:      "High Value Transfer",
		Priority:  1,
		RulePoint: 10,
		Weight:    1.0,
		ActionTag: "Y",
		Status:    "active",
		Attribute: "amount",
		Operator:  "greater_than",
		Constant:  10000.0,
	})

	req := EvaluateRequest{
		Data: map[string]any{"amount": 50000.0},
	}

	result := evaluate(t, config, req)

	if result.TotalPoints <= 0 {
		t.Errorf("expected a positive totalPoints for a high-value record, got %.2f", result.TotalPoints)
	}

	t.Logf("high-value record: patternResult=%s totalPoints=%.2f", result.PatternResult, result.TotalPoints)
}

// ============================================================================
// SCENARIO 3: Threshold Boundary Testing (Exact $10,000)
// ============================================================================

func TestExactThreshold_NoMatch(t *testing.T) {
	/*
		SCENARIO: A transaction of exactly $10,000.

		EXPECTED BEHAVIOR: the rule's condition is "amount > 10000" (strict
		greater-than), so exactly $10,000 does not satisfy it and totalPoints
		stays at zero.
	*/
	config := getTestConfig()

	seedRule(t, config, UpsertRuleRequest{
		ID:        "high-value-001",
		Name:      "High Value Transfer",
		Priority:  1,
		RulePoint: 10,
		Weight:    1.0,
		ActionTag: "Y",
		Status:    "active",
		Attribute: "amount",
		Operator:  "greater_than",
		Constant:  10000.0,
	})

	req := EvaluateRequest{Data: map[string]any{"amount": 10000.0}}
	result := evaluate(t, config, req)

	if result.TotalPoints != 0 {
		t.Errorf("expected totalPoints 0 at exactly $10,000, got %.2f", result.TotalPoints)
	}

	t.Logf("exact threshold: totalPoints=%.2f", result.TotalPoints)
}

func TestJustAboveThreshold_RuleFires(t *testing.T) {
	config := getTestConfig()

	seedRule(t, config, UpsertRuleRequest{
		ID:        "high-value-001",
		Name:      "High Value Transfer",
		Priority:  1,
		RulePoint: 10,
		Weight:    1.0,
		ActionTag: "Y",
		Status:    "active",
		Attribute: "amount",
		Operator:  "greater_than",
		Constant:  10000.0,
	})

	req := EvaluateRequest{Data: map[string]any{"amount": 10000.01}}
	result := evaluate(t, config, req)

	if result.TotalPoints <= 0 {
		t.Errorf("expected positive totalPoints for amount just above threshold, got %.2f", result.TotalPoints)
	}

	t.Logf("just-above-threshold: $10,000.01 -> totalPoints=%.2f", result.TotalPoints)
}

// ============================================================================
// SCENARIO 4: Multiple Rules Triggering (Compound Score)
// ============================================================================

func TestMultipleRulesTriggered_CompoundScore(t *testing.T) {
	/*
		SCENARIO: two independent rules both fire on the same record.

		EXPECTED BEHAVIOR: totalPoints accumulates both rules' rule points,
		and is higher than either rule alone would contribute.
	*/
	config := getTestConfig()

	seedRule(t, config, UpsertRuleRequest{
		ID:        "high-value-001",
		Name:      "High Value Transfer",
		Priority:  1,
		RulePoint: 10,
		Weight:    1.0,
		ActionTag: "Y",
		Status:    "active",
		Attribute: "amount",
		Operator:  "greater_than",
		Constant:  10000.0,
	})
	seedRule(t, config, UpsertRuleRequest{
		ID:        "same-account-001",
		Name:      "Same Account Transfer",
		Priority:  2,
		RulePoint: 15,
		Weight:    1.0,
		ActionTag: "Y",
		Status:    "active",
		Attribute: "sameAccount",
		Operator:  "equal",
		Constant:  true,
	})

	req := EvaluateRequest{
		Data: map[string]any{"amount": 50000.0, "sameAccount": true},
	}

	result := evaluate(t, config, req)

	if result.TotalPoints < 25 {
		t.Errorf("expected totalPoints >= 25 for two rules firing, got %.2f", result.TotalPoints)
	}

	t.Logf("compound score: patternResult=%s totalPoints=%.2f", result.PatternResult, result.TotalPoints)
}

// ============================================================================
// SCENARIO 5: Input Validation
// ============================================================================

func TestMissingData_Error(t *testing.T) {
	/*
		SCENARIO: request body with no "data" field.

		EXPECTED: HTTP 400 Bad Request.
	*/
	config := getTestConfig()

	body, _ := json.Marshal(map[string]any{})
	httpReq, _ := http.NewRequest(http.MethodPost, config.BaseURL+"/evaluate", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing data, got %d", resp.StatusCode)
	}

	t.Logf("validation test passed: missing data -> HTTP %d", resp.StatusCode)
}

func TestUnknownRuleset_Error(t *testing.T) {
	/*
		SCENARIO: request names a rulesetId that doesn't exist.

		EXPECTED: a non-200 status -- never silently falls back to the
		default ruleset.
	*/
	config := getTestConfig()

	req := EvaluateRequest{
		RulesetID: fmt.Sprintf("nonexistent-ruleset-%d", time.Now().UnixNano()%1_000_000),
		Data:      map[string]any{"amount": 100.0},
	}

	body, _ := json.Marshal(req)
	httpReq, _ := http.NewRequest(http.MethodPost, config.BaseURL+"/evaluate", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		t.Errorf("expected a non-200 status for an unknown ruleset, got %d", resp.StatusCode)
	}

	t.Logf("validation test passed: unknown ruleset -> HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 6: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
		SCENARIO: verify the response includes all required metadata fields,
		so the API contract is stable for clients.
	*/
	config := getTestConfig()

	seedRule(t, config, UpsertRuleRequest{
		ID:        "high-value-001",
		Name:      "High Value Transfer",
		Priority:  1,
		RulePoint: 10,
		Weight:    1.0,
		ActionTag: "Y",
		Status:    "active",
		Attribute: "amount",
		Operator:  "greater_than",
		Constant:  10000.0,
	})

	req := EvaluateRequest{Data: map[string]any{"amount": 100.0}}
	result := evaluate(t, config, req)

	if result.CorrelationID == "" {
		t.Error("missing correlationId")
	}
	if result.PatternResult == "" {
		t.Error("missing patternResult")
	}
	if result.DurationMs < 0 {
		t.Error("invalid durationMs (negative)")
	}

	t.Logf("metadata complete: correlationId=%s patternResult=%s durationMs=%d",
		result.CorrelationID, result.PatternResult, result.DurationMs)
}
