package core

import (
	"fmt"
	"time"
)

// RuleType identifies the evaluation strategy for a threat rule.
type RuleType string

const (
	RuleTypeThreshold RuleType = "threshold"
	RuleTypePattern   RuleType = "pattern"
	RuleTypeAnomaly   RuleType = "anomaly"
	RuleTypeML        RuleType = "ml"
)

// IsValid reports whether the rule type is one of the known values.
func (t RuleType) IsValid() bool {
	switch t {
	case RuleTypeThreshold, RuleTypePattern, RuleTypeAnomaly, RuleTypeML:
		return true
	}
	return false
}

// Severity levels for threat rules.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether the severity is one of the known values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ThreatRule is a declarative detection definition. Config keys depend on
// RuleType:
//
//	threshold: event_type, threshold, time_window_minutes
//	pattern:   pattern, field (optional), risk_score
//	anomaly:   metric, deviation_threshold
//	ml:        features (name -> weight), threshold (optional, default 0.7)
type ThreatRule struct {
	ID                string                 `json:"id"`
	OrgID             string                 `json:"org_id"`
	Name              string                 `json:"name"`
	RuleType          RuleType               `json:"rule_type"`
	Config            map[string]interface{} `json:"config"`
	Description       string                 `json:"description,omitempty"`
	Severity          Severity               `json:"severity"`
	IsActive          bool                   `json:"is_active"`
	FalsePositiveRate float64                `json:"false_positive_rate"`
	AccuracyScore     float64                `json:"accuracy_score"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Validate checks the structural invariants of a rule before persistence.
func (r *ThreatRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.OrgID == "" {
		return fmt.Errorf("rule org_id is required")
	}
	if !r.RuleType.IsValid() {
		return fmt.Errorf("invalid rule type: %q", r.RuleType)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %q", r.Severity)
	}
	if r.AccuracyScore < 0 || r.AccuracyScore > 1 {
		return fmt.Errorf("accuracy score must be in [0,1], got %v", r.AccuracyScore)
	}
	return nil
}

// RuleTrigger is the outcome of one rule's evaluator for a given event.
type RuleTrigger struct {
	Triggered       bool
	RiskScore       int
	Recommendations []string
}

// ThreatDetectionResult is the aggregated verdict across all active rules for
// one event: max risk score, union of triggered rule names and recommendations,
// max confidence.
type ThreatDetectionResult struct {
	IsThreat        bool     `json:"is_threat"`
	RiskScore       int      `json:"risk_score"`
	TriggeredRules  []string `json:"triggered_rules"`
	Recommendations []string `json:"recommendations"`
	Confidence      float64  `json:"confidence"`
}
