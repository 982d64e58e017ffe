package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"argus/core"
)

// ErrMockFailure is returned by mocks configured to fail.
var ErrMockFailure = errors.New("mock storage failure")

// MockEventStorage implements EventStorageInterface for testing. It records
// every insert call and can be configured to fail.
type MockEventStorage struct {
	mu sync.Mutex

	Events       []*core.SecurityEvent
	SingleCalls  [][]*core.SecurityEvent
	BatchCalls   [][]*core.SecurityEvent
	FailInserts  bool
	CountValue   int64
	MetricValues []float64
}

// NewMockEventStorage creates an empty mock event store.
func NewMockEventStorage() *MockEventStorage {
	return &MockEventStorage{}
}

func (m *MockEventStorage) InsertEvent(ctx context.Context, event *core.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SingleCalls = append(m.SingleCalls, []*core.SecurityEvent{event})
	if m.FailInserts {
		return ErrMockFailure
	}
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockEventStorage) InsertEvents(ctx context.Context, events []*core.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := make([]*core.SecurityEvent, len(events))
	copy(batch, events)
	m.BatchCalls = append(m.BatchCalls, batch)
	if m.FailInserts {
		return ErrMockFailure
	}
	m.Events = append(m.Events, batch...)
	return nil
}

func (m *MockEventStorage) CountEventsSince(ctx context.Context, orgID, eventType string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CountValue, nil
}

func (m *MockEventStorage) MetricValuesSince(ctx context.Context, orgID, eventType, metric string, since time.Time, limit int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	values := make([]float64, len(m.MetricValues))
	copy(values, m.MetricValues)
	if len(values) > limit {
		values = values[:limit]
	}
	return values, nil
}

func (m *MockEventStorage) GetRecentEvents(ctx context.Context, orgID string, limit int) ([]core.SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []core.SecurityEvent
	for _, e := range m.Events {
		if e.OrgID == orgID {
			events = append(events, *e)
		}
	}
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *MockEventStorage) SetFalsePositive(ctx context.Context, eventID string, falsePositive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Events {
		if e.EventID == eventID {
			e.FalsePositive = falsePositive
			return nil
		}
	}
	return ErrEventNotFound
}

func (m *MockEventStorage) EnsureIndexes() error { return nil }

// SetFailInserts toggles insert failures under the mock's lock.
func (m *MockEventStorage) SetFailInserts(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailInserts = fail
}

// StoredEvents returns a snapshot of all persisted events.
func (m *MockEventStorage) StoredEvents() []*core.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]*core.SecurityEvent, len(m.Events))
	copy(events, m.Events)
	return events
}

// BatchCallCount returns the number of InsertEvents calls made so far.
func (m *MockEventStorage) BatchCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.BatchCalls)
}

// SingleCallCount returns the number of InsertEvent calls made so far.
func (m *MockEventStorage) SingleCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SingleCalls)
}

// Batches returns a snapshot of all batch insert calls.
func (m *MockEventStorage) Batches() [][]*core.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	batches := make([][]*core.SecurityEvent, len(m.BatchCalls))
	copy(batches, m.BatchCalls)
	return batches
}

// MockRuleStorage implements RuleStorageInterface for testing.
type MockRuleStorage struct {
	mu sync.Mutex

	Rules     []core.ThreatRule
	FailLoads bool
	LoadCalls int
}

// NewMockRuleStorage creates a mock rule store seeded with the given rules.
func NewMockRuleStorage(rules ...core.ThreatRule) *MockRuleStorage {
	return &MockRuleStorage{Rules: rules}
}

func (m *MockRuleStorage) GetActiveRules(ctx context.Context, orgID string) ([]core.ThreatRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoadCalls++
	if m.FailLoads {
		return nil, ErrMockFailure
	}
	var active []core.ThreatRule
	for _, r := range m.Rules {
		if r.IsActive && r.OrgID == orgID {
			active = append(active, r)
		}
	}
	return active, nil
}

func (m *MockRuleStorage) GetRules(ctx context.Context, orgID string, limit, offset int) ([]core.ThreatRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rules []core.ThreatRule
	for _, r := range m.Rules {
		if r.OrgID == orgID {
			rules = append(rules, r)
		}
	}
	return rules, nil
}

func (m *MockRuleStorage) GetRule(ctx context.Context, id string) (*core.ThreatRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Rules {
		if m.Rules[i].ID == id {
			rule := m.Rules[i]
			return &rule, nil
		}
	}
	return nil, ErrRuleNotFound
}

func (m *MockRuleStorage) GetRuleCount(ctx context.Context, orgID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, r := range m.Rules {
		if r.OrgID == orgID {
			count++
		}
	}
	return count, nil
}

func (m *MockRuleStorage) CreateRule(ctx context.Context, rule *core.ThreatRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rules = append(m.Rules, *rule)
	return nil
}

func (m *MockRuleStorage) UpdateRule(ctx context.Context, id string, rule *core.ThreatRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Rules {
		if m.Rules[i].ID == id {
			m.Rules[i] = *rule
			m.Rules[i].ID = id
			return nil
		}
	}
	return ErrRuleNotFound
}

func (m *MockRuleStorage) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Rules {
		if m.Rules[i].ID == id {
			m.Rules = append(m.Rules[:i], m.Rules[i+1:]...)
			return nil
		}
	}
	return ErrRuleNotFound
}

func (m *MockRuleStorage) EnsureIndexes() error { return nil }

// SetRules replaces the rule set under the mock's lock.
func (m *MockRuleStorage) SetRules(rules []core.ThreatRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rules = rules
}

// SetFailLoads toggles load failures under the mock's lock.
func (m *MockRuleStorage) SetFailLoads(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailLoads = fail
}

// LoadCallCount returns the number of GetActiveRules calls made so far.
func (m *MockRuleStorage) LoadCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LoadCalls
}
