// Package detect evaluates security events against tenant-scoped declarative
// threat rules and produces aggregated verdicts.
package detect

import (
	"context"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/storage"
	"argus/util"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

// DefaultRuleRefreshInterval is how long a loaded rule set stays fresh. A
// background loop also proactively reloads on the same interval.
const DefaultRuleRefreshInterval = 5 * time.Minute

// DefaultQueryTimeout bounds storage queries issued during evaluation.
const DefaultQueryTimeout = 10 * time.Second

// EvaluatorConfig configures the rule evaluator. Zero values select defaults.
type EvaluatorConfig struct {
	RuleRefreshInterval time.Duration
	RegexTimeout        time.Duration
	QueryTimeout        time.Duration
}

func (c *EvaluatorConfig) applyDefaults() {
	if c.RuleRefreshInterval <= 0 {
		c.RuleRefreshInterval = DefaultRuleRefreshInterval
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
}

// ruleCacheEntry holds one organization's loaded rule set.
type ruleCacheEntry struct {
	rules    []core.ThreatRule
	loadedAt time.Time
}

// Evaluator holds a periodically refreshed set of active threat rules per
// organization and decides whether events constitute threats. AnalyzeEvent
// never surfaces an error: reload failures fall back to the stale rule set and
// per-rule failures count as "not triggered".
type Evaluator struct {
	rules  storage.RuleStorageInterface
	events storage.EventStorageInterface
	logger *zap.SugaredLogger
	cfg    EvaluatorConfig

	matcher *PatternMatcher

	mu    sync.RWMutex
	cache map[string]*ruleCacheEntry

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewEvaluator creates an evaluator and starts its background rule refresh
// loop.
func NewEvaluator(ruleStorage storage.RuleStorageInterface, eventStorage storage.EventStorageInterface, cfg EvaluatorConfig, logger *zap.SugaredLogger) (*Evaluator, error) {
	cfg.applyDefaults()

	matcher, err := NewPatternMatcher(cfg.RegexTimeout)
	if err != nil {
		return nil, err
	}

	e := &Evaluator{
		rules:   ruleStorage,
		events:  eventStorage,
		logger:  logger,
		cfg:     cfg,
		matcher: matcher,
		cache:   make(map[string]*ruleCacheEntry),
		stopCh:  make(chan struct{}),
	}

	e.wg.Add(1)
	go e.refreshLoop()

	return e, nil
}

// AnalyzeEvent evaluates one event against the organization's active rule set
// and returns the aggregated verdict: max risk score across triggered rules,
// union of rule names and recommendations, max confidence.
func (e *Evaluator) AnalyzeEvent(ctx context.Context, event *core.SecurityEvent) core.ThreatDetectionResult {
	start := time.Now()
	defer func() {
		metrics.AnalyzeDuration.Observe(time.Since(start).Seconds())
	}()

	result := core.ThreatDetectionResult{
		TriggeredRules:  []string{},
		Recommendations: []string{},
	}
	if event == nil {
		return result
	}

	rules := e.activeRules(ctx, event.OrgID)
	seen := make(map[string]bool)

	for _, rule := range rules {
		metrics.RulesEvaluated.WithLabelValues(string(rule.RuleType)).Inc()

		queryCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
		trigger := e.evaluateRule(queryCtx, rule, event)
		cancel()

		if !trigger.Triggered {
			continue
		}
		metrics.RulesTriggered.WithLabelValues(string(rule.RuleType)).Inc()

		result.IsThreat = true
		if trigger.RiskScore > result.RiskScore {
			result.RiskScore = trigger.RiskScore
		}
		result.TriggeredRules = append(result.TriggeredRules, rule.Name)
		for _, rec := range trigger.Recommendations {
			if !seen[rec] {
				seen[rec] = true
				result.Recommendations = append(result.Recommendations, rec)
			}
		}
		if rule.AccuracyScore > result.Confidence {
			result.Confidence = rule.AccuracyScore
		}
	}

	return result
}

// activeRules returns the organization's rule set, reloading it from storage
// when the cached copy is older than the refresh interval. On reload failure
// the previous (stale) set keeps serving.
func (e *Evaluator) activeRules(ctx context.Context, orgID string) []core.ThreatRule {
	e.mu.RLock()
	entry, ok := e.cache[orgID]
	e.mu.RUnlock()

	if ok && time.Since(entry.loadedAt) < e.cfg.RuleRefreshInterval {
		return entry.rules
	}
	return e.reload(ctx, orgID)
}

// reload fetches the active rule set for one organization. It returns the
// fresh set on success and the stale one (or nil) on failure.
func (e *Evaluator) reload(ctx context.Context, orgID string) []core.ThreatRule {
	queryCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	rules, err := e.rules.GetActiveRules(queryCtx, orgID)
	if err != nil {
		metrics.RuleReloadFailures.Inc()
		e.logger.Errorw("Rule set reload failed, keeping previous set",
			"org_id", orgID,
			"error", util.SanitizeError(err))

		e.mu.RLock()
		defer e.mu.RUnlock()
		if entry, ok := e.cache[orgID]; ok {
			return entry.rules
		}
		return nil
	}

	metrics.RuleReloads.Inc()
	e.mu.Lock()
	e.cache[orgID] = &ruleCacheEntry{
		rules:    rules,
		loadedAt: time.Now(),
	}
	e.mu.Unlock()

	e.logger.Debugw("Rule set reloaded", "org_id", orgID, "rules", len(rules))
	return rules
}

// ForceReload refreshes the rule set for an organization regardless of age.
func (e *Evaluator) ForceReload(ctx context.Context, orgID string) {
	e.reload(ctx, orgID)
}

// refreshLoop proactively reloads every cached organization's rule set on the
// refresh interval, independent of query activity.
func (e *Evaluator) refreshLoop() {
	defer e.wg.Done()
	defer goroutine.Recover("detect-rule-refresh", e.logger)

	ticker := time.NewTicker(e.cfg.RuleRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.mu.RLock()
			orgs := make([]string, 0, len(e.cache))
			for orgID := range e.cache {
				orgs = append(orgs, orgID)
			}
			e.mu.RUnlock()

			for _, orgID := range orgs {
				e.reload(context.Background(), orgID)
			}
		case <-e.stopCh:
			return
		}
	}
}

// Stop halts the background refresh loop.
func (e *Evaluator) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()
	})
}
