package core

import (
	"encoding/json"
	"math"
	"strconv"

	"argus/util"
)

// MaxDetectionRules caps the number of rule names recorded on a single event.
const MaxDetectionRules = 10

// ClampRiskScore coerces an arbitrary value to an integer risk score in
// [0,100]. Non-numeric values, NaN and infinities coerce to 0.
func ClampRiskScore(v interface{}) int {
	var score float64
	switch val := v.(type) {
	case int:
		score = float64(val)
	case int64:
		score = float64(val)
	case float64:
		score = val
	case float32:
		score = float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0
		}
		score = f
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		score = f
	default:
		return 0
	}

	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// Sanitize normalizes an event in place before persistence. It is total: any
// input shape yields a valid event, never an error.
//
// Post-conditions: RiskScore in [0,100]; EventData and LocationData contain no
// key whose lowercased form includes "password", "secret" or "token" at any
// nesting depth; string leaf values are truncated to util.MaxStringLength;
// DetectionRules holds at most MaxDetectionRules entries.
func (e *SecurityEvent) Sanitize() {
	e.RiskScore = ClampRiskScore(e.RiskScore)
	e.EventData = util.ScrubMap(e.EventData)
	e.LocationData = util.ScrubMap(e.LocationData)

	e.EventType = util.TruncateString(e.EventType)
	e.IPAddress = util.TruncateString(e.IPAddress)
	e.UserAgent = util.TruncateString(e.UserAgent)
	e.DeviceFingerprint = util.TruncateString(e.DeviceFingerprint)

	if len(e.DetectionRules) > MaxDetectionRules {
		e.DetectionRules = e.DetectionRules[:MaxDetectionRules]
	}
	for i, name := range e.DetectionRules {
		e.DetectionRules[i] = util.TruncateString(name)
	}
}
