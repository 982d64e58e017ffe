package detect

import (
	"strings"

	"argus/core"
)

// FeatureFunc extracts one numeric feature from an event. The boolean result
// reports whether the feature could be resolved; unresolved features are
// excluded from the ml rule's average rather than failing the rule.
type FeatureFunc func(event *core.SecurityEvent) (float64, bool)

// fixedFeatures are the typed accessors over SecurityEvent's own fields.
// Values are scaled to roughly [0,1] so weighted averages compare cleanly
// against the ml rule threshold.
var fixedFeatures = map[string]FeatureFunc{
	"risk_score": func(e *core.SecurityEvent) (float64, bool) {
		return float64(e.RiskScore) / 100, true
	},
	"false_positive": func(e *core.SecurityEvent) (float64, bool) {
		return boolFeature(e.FalsePositive), true
	},
	"detection_rule_count": func(e *core.SecurityEvent) (float64, bool) {
		return float64(len(e.DetectionRules)) / float64(core.MaxDetectionRules), true
	},
	"has_ip_address": func(e *core.SecurityEvent) (float64, bool) {
		return boolFeature(e.IPAddress != ""), true
	},
	"has_device_fingerprint": func(e *core.SecurityEvent) (float64, bool) {
		return boolFeature(e.DeviceFingerprint != ""), true
	},
	"user_agent_length": func(e *core.SecurityEvent) (float64, bool) {
		return stringFeature(e.UserAgent), true
	},
}

// resolveFeature maps a feature name to a value. Names prefixed with
// "event_data." or "location_data." resolve into the corresponding bag:
// numbers are used as-is, booleans map to 0/1, strings map to their scaled
// length. Anything unresolvable reports false.
func resolveFeature(event *core.SecurityEvent, name string) (float64, bool) {
	if fn, ok := fixedFeatures[name]; ok {
		return fn(event)
	}
	if key, ok := strings.CutPrefix(name, "event_data."); ok {
		return bagFeature(event.EventData, key)
	}
	if key, ok := strings.CutPrefix(name, "location_data."); ok {
		return bagFeature(event.LocationData, key)
	}
	return 0, false
}

func bagFeature(bag map[string]interface{}, key string) (float64, bool) {
	if bag == nil {
		return 0, false
	}
	v, ok := bag[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case bool:
		return boolFeature(val), true
	case string:
		return stringFeature(val), true
	default:
		return 0, false
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// stringFeature scales a string's length against the stored maximum so it
// stays in [0,1].
func stringFeature(s string) float64 {
	const maxLen = 1000
	if len(s) >= maxLen {
		return 1
	}
	return float64(len(s)) / maxLen
}
