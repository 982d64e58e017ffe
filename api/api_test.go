package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/audit"
	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/storage"
)

type testAPI struct {
	api    *API
	events *storage.MockEventStorage
	rules  *storage.MockRuleStorage
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zap.NewNop().Sugar()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.API.RateLimit.RequestsPerSecond = 10000
	cfg.API.RateLimit.Burst = 10000

	events := storage.NewMockEventStorage()
	rules := storage.NewMockRuleStorage()

	recorder := audit.NewRecorder(events, audit.RecorderConfig{FlushInterval: time.Hour}, logger)
	t.Cleanup(recorder.Stop)

	evaluator, err := detect.NewEvaluator(rules, events, detect.EvaluatorConfig{RuleRefreshInterval: time.Hour}, logger)
	require.NoError(t, err)
	t.Cleanup(evaluator.Stop)

	a := NewAPI(recorder, evaluator, events, rules, cfg, logger)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	return &testAPI{api: a, events: events, rules: rules}
}

func (ta *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	ta.api.Handler().ServeHTTP(rec, req)
	return rec
}

func eventPayload() map[string]interface{} {
	return map[string]interface{}{
		"org_id":         "org-1",
		"event_type":     "login_failed",
		"event_category": "authentication",
		"risk_score":     30,
		"event_data":     map[string]interface{}{"attempt": 3},
	}
}

func TestLogEvent_Accepted(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, "POST", "/api/events", eventPayload())
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["event_id"])
}

func TestLogEvent_NonNumericRiskScoreAccepted(t *testing.T) {
	ta := newTestAPI(t)

	payload := eventPayload()
	payload["risk_score"] = "not-a-number"
	rec := ta.do(t, "POST", "/api/events", payload)
	assert.Equal(t, http.StatusAccepted, rec.Code, "risk score coerces to 0 rather than rejecting")
}

func TestLogEvent_MissingRequiredFields(t *testing.T) {
	ta := newTestAPI(t)

	payload := eventPayload()
	delete(payload, "org_id")
	rec := ta.do(t, "POST", "/api/events", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogEvent_UnknownCategory(t *testing.T) {
	ta := newTestAPI(t)

	payload := eventPayload()
	payload["event_category"] = "weather"
	rec := ta.do(t, "POST", "/api/events", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogEvent_InvalidJSON(t *testing.T) {
	ta := newTestAPI(t)

	req := httptest.NewRequest("POST", "/api/events", bytes.NewReader([]byte("{not json")))
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	ta.api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeEvent(t *testing.T) {
	ta := newTestAPI(t)

	ta.events.CountValue = 10
	ta.rules.SetRules([]core.ThreatRule{{
		ID:            "r1",
		OrgID:         "org-1",
		Name:          "excessive failed logins",
		RuleType:      core.RuleTypeThreshold,
		Severity:      core.SeverityHigh,
		IsActive:      true,
		AccuracyScore: 0.9,
		Config: map[string]interface{}{
			"event_type": "login_failed",
			"threshold":  5,
		},
	}})

	rec := ta.do(t, "POST", "/api/events/analyze", eventPayload())
	require.Equal(t, http.StatusOK, rec.Code)

	var result core.ThreatDetectionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.IsThreat)
	assert.Equal(t, 100, result.RiskScore)
	assert.Equal(t, []string{"excessive failed logins"}, result.TriggeredRules)

	// Analysis must not record the event.
	assert.Empty(t, ta.events.StoredEvents())
}

func TestAnalyzeEvent_NoThreat(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, "POST", "/api/events/analyze", eventPayload())
	require.Equal(t, http.StatusOK, rec.Code)

	var result core.ThreatDetectionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.IsThreat)
	assert.Equal(t, 0, result.RiskScore)
}

func TestGetEvents(t *testing.T) {
	ta := newTestAPI(t)

	require.NoError(t, ta.events.InsertEvent(context.Background(), &core.SecurityEvent{
		EventID: "e1", OrgID: "org-1", EventType: "x", EventCategory: core.CategorySystem,
	}))

	rec := ta.do(t, "GET", "/api/events?org_id=org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []core.SecurityEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "e1", resp.Events[0].EventID)
}

func TestGetEvents_RequiresOrgID(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, "GET", "/api/events", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEvents_LimitValidation(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, "GET", "/api/events?org_id=org-1&limit=5000", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetFalsePositive(t *testing.T) {
	ta := newTestAPI(t)

	require.NoError(t, ta.events.InsertEvent(context.Background(), &core.SecurityEvent{
		EventID: "e1", OrgID: "org-1",
	}))

	rec := ta.do(t, "POST", "/api/events/e1/false-positive", map[string]bool{"false_positive": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ta.events.StoredEvents()[0].FalsePositive)

	rec = ta.do(t, "POST", "/api/events/missing/false-positive", map[string]bool{"false_positive": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func rulePayload() map[string]interface{} {
	return map[string]interface{}{
		"org_id":         "org-1",
		"name":           "tor exits",
		"rule_type":      "pattern",
		"severity":       "medium",
		"is_active":      true,
		"accuracy_score": 0.8,
		"config": map[string]interface{}{
			"pattern":    "(tor|proxy)",
			"field":      "ip_address",
			"risk_score": 60,
		},
	}
}

func TestCreateRule(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, "POST", "/api/rules", rulePayload())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created core.ThreatRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	rec = ta.do(t, "GET", "/api/rules/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRule_Invalid(t *testing.T) {
	ta := newTestAPI(t)

	payload := rulePayload()
	payload["rule_type"] = "bogus"
	rec := ta.do(t, "POST", "/api/rules", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRule_InvalidatesRuleCache(t *testing.T) {
	ta := newTestAPI(t)

	// Prime the cache with the empty rule set.
	rec := ta.do(t, "POST", "/api/events/analyze", eventPayload())
	require.Equal(t, http.StatusOK, rec.Code)

	payload := rulePayload()
	payload["rule_type"] = "threshold"
	payload["config"] = map[string]interface{}{
		"event_type": "login_failed",
		"threshold":  5,
	}
	ta.events.CountValue = 10
	rec = ta.do(t, "POST", "/api/rules", payload)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ta.do(t, "POST", "/api/events/analyze", eventPayload())
	require.Equal(t, http.StatusOK, rec.Code)
	var result core.ThreatDetectionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.IsThreat, "new rule must take effect without waiting for the refresh interval")
}

func TestGetRules(t *testing.T) {
	ta := newTestAPI(t)

	ta.rules.SetRules([]core.ThreatRule{
		{ID: "r1", OrgID: "org-1", Name: "a"},
		{ID: "r2", OrgID: "org-2", Name: "b"},
	})

	rec := ta.do(t, "GET", "/api/rules?org_id=org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Rules []core.ThreatRule `json:"rules"`
		Total int64             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rules, 1)
	assert.Equal(t, int64(1), resp.Total)
}

func TestGetRules_PaginationValidation(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, "GET", "/api/rules?org_id=org-1&limit=5000", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, "GET", "/api/rules?org_id=org-1&limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, "GET", "/api/rules?org_id=org-1&offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, "GET", "/api/rules?org_id=org-1&limit=10&offset=0", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateRule(t *testing.T) {
	ta := newTestAPI(t)

	ta.rules.SetRules([]core.ThreatRule{{
		ID: "r1", OrgID: "org-1", Name: "before",
		RuleType: core.RuleTypePattern, Severity: core.SeverityLow, IsActive: true,
	}})

	payload := rulePayload()
	payload["name"] = "after"
	rec := ta.do(t, "PUT", "/api/rules/r1", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := ta.rules.GetRule(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)

	rec = ta.do(t, "PUT", "/api/rules/missing", rulePayload())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRule(t *testing.T) {
	ta := newTestAPI(t)

	ta.rules.SetRules([]core.ThreatRule{{ID: "r1", OrgID: "org-1", Name: "doomed"}})

	rec := ta.do(t, "DELETE", "/api/rules/r1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ta.do(t, "DELETE", "/api/rules/r1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRateLimit(t *testing.T) {
	ta := newTestAPI(t)
	ta.api.config.API.RateLimit.RequestsPerSecond = 1
	ta.api.config.API.RateLimit.Burst = 2

	var limited bool
	for i := 0; i < 10; i++ {
		rec := ta.do(t, "GET", fmt.Sprintf("/health?i=%d", i), nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst exhaustion must return 429")
}
