package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/core"
	"argus/storage"
)

func patternRule(pattern, field string, riskScore int) core.ThreatRule {
	return core.ThreatRule{
		ID:       "rule-pattern",
		OrgID:    "org-1",
		Name:     "pattern rule",
		RuleType: core.RuleTypePattern,
		IsActive: true,
		Config: map[string]interface{}{
			"pattern":    pattern,
			"field":      field,
			"risk_score": riskScore,
		},
	}
}

func TestEvaluatePattern_NamedField(t *testing.T) {
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), storage.NewMockEventStorage(), EvaluatorConfig{})
	rule := patternRule("(tor|proxy|vpn)", "ip_address", 70)

	ev := authEvent("org-1")
	ev.IPAddress = "1.2.3.4 via TOR exit node"
	trigger, err := e.evaluatePattern(rule, ev)
	require.NoError(t, err)
	assert.True(t, trigger.Triggered, "match must be case-insensitive")
	assert.Equal(t, 70, trigger.RiskScore)

	ev.IPAddress = "8.8.8.8"
	trigger, err = e.evaluatePattern(rule, ev)
	require.NoError(t, err)
	assert.False(t, trigger.Triggered)
}

func TestEvaluatePattern_DefaultFieldIsEventData(t *testing.T) {
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), storage.NewMockEventStorage(), EvaluatorConfig{})
	rule := patternRule("sqlmap", "", 80)

	ev := authEvent("org-1")
	ev.EventData = map[string]interface{}{"query": "id=1' OR sqlmap probe"}
	trigger, err := e.evaluatePattern(rule, ev)
	require.NoError(t, err)
	assert.True(t, trigger.Triggered)
}

func TestEvaluatePattern_EventDataField(t *testing.T) {
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), storage.NewMockEventStorage(), EvaluatorConfig{})
	rule := patternRule("admin", "target_role", 40)

	ev := authEvent("org-1")
	ev.EventData = map[string]interface{}{"target_role": "ADMIN"}
	trigger, err := e.evaluatePattern(rule, ev)
	require.NoError(t, err)
	assert.True(t, trigger.Triggered)

	// Absent field yields empty input, not an error.
	ev.EventData = nil
	trigger, err = e.evaluatePattern(rule, ev)
	require.NoError(t, err)
	assert.False(t, trigger.Triggered)
}

func TestEvaluatePattern_MissingPattern(t *testing.T) {
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), storage.NewMockEventStorage(), EvaluatorConfig{})
	rule := patternRule("", "", 0)

	_, err := e.evaluatePattern(rule, authEvent("org-1"))
	assert.Error(t, err)
}

func TestEvaluatePattern_DefaultRiskScore(t *testing.T) {
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), storage.NewMockEventStorage(), EvaluatorConfig{})
	rule := core.ThreatRule{
		RuleType: core.RuleTypePattern,
		Config:   map[string]interface{}{"pattern": "x", "field": "event_type"},
	}

	ev := authEvent("org-1")
	ev.EventType = "x_occurred"
	trigger, err := e.evaluatePattern(rule, ev)
	require.NoError(t, err)
	assert.True(t, trigger.Triggered)
	assert.Equal(t, defaultPatternRiskScore, trigger.RiskScore)
}

func anomalyRule(metric string, deviationThreshold float64) core.ThreatRule {
	return core.ThreatRule{
		ID:       "rule-anomaly",
		OrgID:    "org-1",
		Name:     "anomaly rule",
		RuleType: core.RuleTypeAnomaly,
		IsActive: true,
		Config: map[string]interface{}{
			"metric":              metric,
			"deviation_threshold": deviationThreshold,
		},
	}
}

func TestEvaluateAnomaly_InsufficientBaseline(t *testing.T) {
	events := storage.NewMockEventStorage()
	events.MetricValues = []float64{1, 2, 3, 4, 5, 6, 7, 8, 9} // 9 < anomalyMinSamples
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), events, EvaluatorConfig{})

	ev := authEvent("org-1")
	ev.EventData = map[string]interface{}{"bytes_out": float64(1e9)}
	trigger, err := e.evaluateAnomaly(context.Background(), anomalyRule("bytes_out", 3), ev)
	require.NoError(t, err)
	assert.False(t, trigger.Triggered, "fewer than %d samples must never trigger", anomalyMinSamples)
}

func TestEvaluateAnomaly_Outlier(t *testing.T) {
	events := storage.NewMockEventStorage()
	baseline := make([]float64, 20)
	for i := range baseline {
		baseline[i] = 100 + float64(i%3) // tight cluster around 101
	}
	events.MetricValues = baseline
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), events, EvaluatorConfig{})

	ev := authEvent("org-1")
	ev.EventData = map[string]interface{}{"bytes_out": float64(500)}
	trigger, err := e.evaluateAnomaly(context.Background(), anomalyRule("bytes_out", 3), ev)
	require.NoError(t, err)
	assert.True(t, trigger.Triggered)
	assert.Equal(t, 100, trigger.RiskScore, "extreme z-score clamps to 100")
}

func TestEvaluateAnomaly_WithinBaseline(t *testing.T) {
	events := storage.NewMockEventStorage()
	baseline := make([]float64, 20)
	for i := range baseline {
		baseline[i] = 100 + float64(i%3)
	}
	events.MetricValues = baseline
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), events, EvaluatorConfig{})

	ev := authEvent("org-1")
	ev.EventData = map[string]interface{}{"bytes_out": float64(101)}
	trigger, err := e.evaluateAnomaly(context.Background(), anomalyRule("bytes_out", 3), ev)
	require.NoError(t, err)
	assert.False(t, trigger.Triggered)
}

func TestEvaluateAnomaly_FlatBaseline(t *testing.T) {
	events := storage.NewMockEventStorage()
	baseline := make([]float64, 15)
	for i := range baseline {
		baseline[i] = 42
	}
	events.MetricValues = baseline
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), events, EvaluatorConfig{})

	ev := authEvent("org-1")
	ev.EventData = map[string]interface{}{"bytes_out": float64(42)}
	trigger, err := e.evaluateAnomaly(context.Background(), anomalyRule("bytes_out", 3), ev)
	require.NoError(t, err)
	assert.False(t, trigger.Triggered, "value equal to a flat baseline is not anomalous")

	ev.EventData["bytes_out"] = float64(43)
	trigger, err = e.evaluateAnomaly(context.Background(), anomalyRule("bytes_out", 3), ev)
	require.NoError(t, err)
	assert.True(t, trigger.Triggered, "any divergence from a flat baseline is anomalous")
	assert.Equal(t, 100, trigger.RiskScore)
}

func TestEvaluateAnomaly_MetricAbsentFromEvent(t *testing.T) {
	events := storage.NewMockEventStorage()
	events.MetricValues = make([]float64, 20)
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), events, EvaluatorConfig{})

	trigger, err := e.evaluateAnomaly(context.Background(), anomalyRule("bytes_out", 3), authEvent("org-1"))
	require.NoError(t, err)
	assert.False(t, trigger.Triggered)
}

func mlRule(features map[string]interface{}, threshold float64) core.ThreatRule {
	cfg := map[string]interface{}{"features": features}
	if threshold > 0 {
		cfg["threshold"] = threshold
	}
	return core.ThreatRule{
		ID:       "rule-ml",
		OrgID:    "org-1",
		Name:     "ml rule",
		RuleType: core.RuleTypeML,
		IsActive: true,
		Config:   cfg,
	}
}

func TestEvaluateML_WeightedAverage(t *testing.T) {
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), storage.NewMockEventStorage(), EvaluatorConfig{})

	rule := mlRule(map[string]interface{}{
		"risk_score":     1.0,
		"has_ip_address": 1.0,
	}, 0.7)

	ev := authEvent("org-1")
	ev.RiskScore = 50
	ev.IPAddress = "10.0.0.1"
	// avg of 0.5 and 1.0 = 0.75 > 0.7
	trigger, err := e.evaluateML(rule, ev)
	require.NoError(t, err)
	assert.True(t, trigger.Triggered)
	assert.Equal(t, 75, trigger.RiskScore)

	ev.IPAddress = ""
	// avg of 0.5 and 0.0 = 0.25 <= 0.7
	trigger, err = e.evaluateML(rule, ev)
	require.NoError(t, err)
	assert.False(t, trigger.Triggered)
}

func TestEvaluateML_UnresolvedFeaturesExcluded(t *testing.T) {
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), storage.NewMockEventStorage(), EvaluatorConfig{})

	rule := mlRule(map[string]interface{}{
		"risk_score":          1.0,
		"event_data.no_such":  1.0,
		"not_a_real_feature":  1.0,
		"location_data.other": 1.0,
	}, 0.7)

	ev := authEvent("org-1")
	ev.RiskScore = 75
	// Only risk_score resolves: avg = 0.75 > 0.7.
	trigger, err := e.evaluateML(rule, ev)
	require.NoError(t, err)
	assert.True(t, trigger.Triggered)
	assert.Equal(t, 75, trigger.RiskScore)
}

func TestEvaluateML_NoResolvableFeatures(t *testing.T) {
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), storage.NewMockEventStorage(), EvaluatorConfig{})

	rule := mlRule(map[string]interface{}{"event_data.missing": 1.0}, 0)
	trigger, err := e.evaluateML(rule, authEvent("org-1"))
	require.NoError(t, err)
	assert.False(t, trigger.Triggered)
}

func TestEvaluateML_MissingFeatures(t *testing.T) {
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), storage.NewMockEventStorage(), EvaluatorConfig{})

	rule := core.ThreatRule{RuleType: core.RuleTypeML, Config: map[string]interface{}{}}
	_, err := e.evaluateML(rule, authEvent("org-1"))
	assert.Error(t, err)
}

func TestEvaluateThreshold_ScoreScalesWithCount(t *testing.T) {
	events := storage.NewMockEventStorage()
	events.CountValue = 8
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), events, EvaluatorConfig{})

	trigger, err := e.evaluateThreshold(context.Background(), thresholdRule("org-1", 4), authEvent("org-1"))
	require.NoError(t, err)
	assert.True(t, trigger.Triggered)
	assert.Equal(t, 100, trigger.RiskScore) // 8/4*50

	events.CountValue = 4
	trigger, err = e.evaluateThreshold(context.Background(), thresholdRule("org-1", 4), authEvent("org-1"))
	require.NoError(t, err)
	assert.True(t, trigger.Triggered, "count equal to threshold triggers")
	assert.Equal(t, 50, trigger.RiskScore)
}

func TestEvaluateThreshold_InvalidThreshold(t *testing.T) {
	e := newTestEvaluator(t, storage.NewMockRuleStorage(), storage.NewMockEventStorage(), EvaluatorConfig{})

	rule := thresholdRule("org-1", 0)
	_, err := e.evaluateThreshold(context.Background(), rule, authEvent("org-1"))
	assert.Error(t, err)
}

func TestMeanStddev(t *testing.T) {
	mean, stddev := meanStddev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.0, stddev, 1e-9)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, clampScore(-3))
	assert.Equal(t, 55, clampScore(55.9))
	assert.Equal(t, 100, clampScore(250))
}

func TestConfigAccessors(t *testing.T) {
	cfg := map[string]interface{}{
		"s":     "value",
		"empty": "",
		"f":     2.5,
		"i":     7,
	}

	assert.Equal(t, "value", configString(cfg, "s", "d"))
	assert.Equal(t, "d", configString(cfg, "empty", "d"))
	assert.Equal(t, "d", configString(cfg, "missing", "d"))
	assert.InDelta(t, 2.5, configFloat(cfg, "f", 0), 1e-9)
	assert.InDelta(t, 1.0, configFloat(cfg, "missing", 1), 1e-9)
	assert.Equal(t, 7, configInt(cfg, "i", 0))
}
