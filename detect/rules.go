package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"argus/core"
	"argus/util"
)

// Defaults for rule configuration values left unset.
const (
	defaultTimeWindowMinutes  = 15
	defaultPatternRiskScore   = 50
	defaultDeviationThreshold = 3.0
	defaultMLThreshold        = 0.7

	// anomalyHistoryDays is the trailing window for anomaly baselines.
	anomalyHistoryDays = 7
	// anomalyMaxSamples caps the history fetched per evaluation.
	anomalyMaxSamples = 100
	// anomalyMinSamples is the minimum baseline size; below it the rule fails
	// closed to "not triggered".
	anomalyMinSamples = 10
)

var notTriggered = core.RuleTrigger{}

// evaluateRule dispatches to the rule-type-specific evaluator. Any evaluation
// error or panic counts as "not triggered" so one malformed rule cannot block
// the rest of the rule set.
func (e *Evaluator) evaluateRule(ctx context.Context, rule core.ThreatRule, event *core.SecurityEvent) (trigger core.RuleTrigger) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("Rule evaluation panicked, treated as not triggered",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"panic", r)
			trigger = notTriggered
		}
	}()

	if rule.Config == nil {
		return notTriggered
	}

	var err error
	switch rule.RuleType {
	case core.RuleTypeThreshold:
		trigger, err = e.evaluateThreshold(ctx, rule, event)
	case core.RuleTypePattern:
		trigger, err = e.evaluatePattern(rule, event)
	case core.RuleTypeAnomaly:
		trigger, err = e.evaluateAnomaly(ctx, rule, event)
	case core.RuleTypeML:
		trigger, err = e.evaluateML(rule, event)
	default:
		return notTriggered
	}

	if err != nil {
		e.logger.Warnw("Rule evaluation failed, treated as not triggered",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"rule_type", string(rule.RuleType),
			"error", util.SanitizeError(err))
		return notTriggered
	}
	return trigger
}

// evaluateThreshold counts same-org events of the configured type within the
// trailing time window and triggers when the count reaches the threshold.
func (e *Evaluator) evaluateThreshold(ctx context.Context, rule core.ThreatRule, event *core.SecurityEvent) (core.RuleTrigger, error) {
	threshold := configInt(rule.Config, "threshold", 0)
	if threshold <= 0 {
		return notTriggered, fmt.Errorf("threshold rule requires a positive threshold")
	}
	eventType := configString(rule.Config, "event_type", event.EventType)
	windowMinutes := configInt(rule.Config, "time_window_minutes", defaultTimeWindowMinutes)
	since := time.Now().UTC().Add(-time.Duration(windowMinutes) * time.Minute)

	count, err := e.events.CountEventsSince(ctx, event.OrgID, eventType, since)
	if err != nil {
		return notTriggered, fmt.Errorf("threshold count query failed: %w", err)
	}
	if count < int64(threshold) {
		return notTriggered, nil
	}

	score := clampScore(float64(count) / float64(threshold) * 50)
	return core.RuleTrigger{
		Triggered: true,
		RiskScore: score,
		Recommendations: []string{
			fmt.Sprintf("Review recent %q activity for this organization", eventType),
			"Consider rate limiting or temporarily locking the affected account",
		},
	}, nil
}

// evaluatePattern applies a case-insensitive regular expression to a named
// event field (default: the serialized event-data bag).
func (e *Evaluator) evaluatePattern(rule core.ThreatRule, event *core.SecurityEvent) (core.RuleTrigger, error) {
	pattern := configString(rule.Config, "pattern", "")
	if pattern == "" {
		return notTriggered, fmt.Errorf("pattern rule requires a pattern")
	}

	field := configString(rule.Config, "field", "")
	input, err := patternInput(event, field)
	if err != nil {
		return notTriggered, err
	}

	matched, err := e.matcher.Match(pattern, input)
	if err != nil {
		return notTriggered, fmt.Errorf("pattern match failed: %w", err)
	}
	if !matched {
		return notTriggered, nil
	}

	score := clampScore(configFloat(rule.Config, "risk_score", defaultPatternRiskScore))
	return core.RuleTrigger{
		Triggered: true,
		RiskScore: score,
		Recommendations: []string{
			"Inspect the matched event data for indicators of compromise",
			"Verify the source of this activity with the affected user",
		},
	}, nil
}

// patternInput resolves the field a pattern rule matches against.
func patternInput(event *core.SecurityEvent, field string) (string, error) {
	switch field {
	case "":
		data, err := json.Marshal(event.EventData)
		if err != nil {
			return "", fmt.Errorf("failed to serialize event data: %w", err)
		}
		return string(data), nil
	case "ip_address":
		return event.IPAddress, nil
	case "user_agent":
		return event.UserAgent, nil
	case "event_type":
		return event.EventType, nil
	case "device_fingerprint":
		return event.DeviceFingerprint, nil
	case "user_id":
		return event.UserID, nil
	case "session_id":
		return event.SessionID, nil
	default:
		if event.EventData != nil {
			if v, ok := event.EventData[field]; ok {
				return fmt.Sprintf("%v", v), nil
			}
		}
		return "", nil
	}
}

// evaluateAnomaly compares the event's value of a configured numeric metric
// against a 7-day same-org, same-event-type baseline using a z-score. Fewer
// than anomalyMinSamples baseline samples means the rule never triggers.
func (e *Evaluator) evaluateAnomaly(ctx context.Context, rule core.ThreatRule, event *core.SecurityEvent) (core.RuleTrigger, error) {
	metric := configString(rule.Config, "metric", "")
	if metric == "" {
		return notTriggered, fmt.Errorf("anomaly rule requires a metric")
	}

	value, ok := bagFeature(event.EventData, metric)
	if !ok {
		// The event does not carry the metric; nothing to compare.
		return notTriggered, nil
	}

	since := time.Now().UTC().Add(-anomalyHistoryDays * 24 * time.Hour)
	history, err := e.events.MetricValuesSince(ctx, event.OrgID, event.EventType, metric, since, anomalyMaxSamples)
	if err != nil {
		return notTriggered, fmt.Errorf("anomaly history query failed: %w", err)
	}
	if len(history) < anomalyMinSamples {
		return notTriggered, nil
	}

	mean, stddev := meanStddev(history)
	deviationThreshold := configFloat(rule.Config, "deviation_threshold", defaultDeviationThreshold)

	var z float64
	if stddev == 0 {
		if value == mean {
			return notTriggered, nil
		}
		// A flat baseline with a divergent value is maximally anomalous.
		z = math.Inf(1)
	} else {
		z = (value - mean) / stddev
	}

	if math.Abs(z) <= deviationThreshold {
		return notTriggered, nil
	}

	return core.RuleTrigger{
		Triggered: true,
		RiskScore: clampScore(math.Abs(z) * 20),
		Recommendations: []string{
			fmt.Sprintf("Metric %q deviates from its 7-day baseline, verify the activity is expected", metric),
			"Compare against peer activity for the same organization",
		},
	}, nil
}

// evaluateML averages weighted feature values resolved through the typed
// feature accessors and triggers when the average exceeds the threshold.
// Features that cannot be resolved are excluded from the average.
func (e *Evaluator) evaluateML(rule core.ThreatRule, event *core.SecurityEvent) (core.RuleTrigger, error) {
	featuresRaw, ok := rule.Config["features"].(map[string]interface{})
	if !ok || len(featuresRaw) == 0 {
		return notTriggered, fmt.Errorf("ml rule requires a features map")
	}

	var sum float64
	var resolved int
	for name, weightRaw := range featuresRaw {
		weight := coerceFloat(weightRaw, 1)
		value, ok := resolveFeature(event, name)
		if !ok {
			continue
		}
		sum += weight * value
		resolved++
	}
	if resolved == 0 {
		return notTriggered, nil
	}

	avg := sum / float64(resolved)
	threshold := configFloat(rule.Config, "threshold", defaultMLThreshold)
	if avg <= threshold {
		return notTriggered, nil
	}

	return core.RuleTrigger{
		Triggered: true,
		RiskScore: clampScore(avg * 100),
		Recommendations: []string{
			"Correlate this event with the user's recent session history",
			"Flag the session for analyst review",
		},
	}, nil
}

// meanStddev computes the population mean and standard deviation.
func meanStddev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func clampScore(score float64) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// Config accessors tolerant of JSON and YAML decoding types.

func configString(cfg map[string]interface{}, key, fallback string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func configFloat(cfg map[string]interface{}, key string, fallback float64) float64 {
	v, ok := cfg[key]
	if !ok {
		return fallback
	}
	return coerceFloat(v, fallback)
}

func configInt(cfg map[string]interface{}, key string, fallback int) int {
	return int(configFloat(cfg, key, float64(fallback)))
}

func coerceFloat(v interface{}, fallback float64) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return fallback
		}
		return f
	default:
		return fallback
	}
}
