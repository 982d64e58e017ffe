package storage

import (
	"context"
	"time"

	"argus/core"
)

// EventStorageInterface defines the interface for the append-only security
// event store. All methods accept a context so callers can bound call duration.
type EventStorageInterface interface {
	// InsertEvent persists a single event (critical path, bypasses batching).
	InsertEvent(ctx context.Context, event *core.SecurityEvent) error
	// InsertEvents persists a batch of events in one statement. The batch is
	// all-or-nothing: on error no event from the batch is persisted.
	InsertEvents(ctx context.Context, events []*core.SecurityEvent) error
	// CountEventsSince counts events of a type for an organization observed at
	// or after the given time.
	CountEventsSince(ctx context.Context, orgID, eventType string, since time.Time) (int64, error)
	// MetricValuesSince returns up to limit numeric values of a named
	// event-data metric for the same org and event type, newest first.
	MetricValuesSince(ctx context.Context, orgID, eventType, metric string, since time.Time, limit int) ([]float64, error)
	// GetRecentEvents returns the most recent events for an organization.
	GetRecentEvents(ctx context.Context, orgID string, limit int) ([]core.SecurityEvent, error)
	// SetFalsePositive updates the human-review flag on a persisted event.
	SetFalsePositive(ctx context.Context, eventID string, falsePositive bool) error
	EnsureIndexes() error
}

// RuleStorageInterface defines the interface for threat rule storage
// (read-mostly, tenant-scoped).
type RuleStorageInterface interface {
	// GetActiveRules returns rules with is_active = true for an organization.
	GetActiveRules(ctx context.Context, orgID string) ([]core.ThreatRule, error)
	GetRules(ctx context.Context, orgID string, limit, offset int) ([]core.ThreatRule, error)
	GetRule(ctx context.Context, id string) (*core.ThreatRule, error)
	GetRuleCount(ctx context.Context, orgID string) (int64, error)
	CreateRule(ctx context.Context, rule *core.ThreatRule) error
	UpdateRule(ctx context.Context, id string, rule *core.ThreatRule) error
	DeleteRule(ctx context.Context, id string) error
	EnsureIndexes() error
}
