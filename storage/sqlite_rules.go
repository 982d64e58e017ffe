package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"argus/core"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SQLiteRuleStorage handles threat rule persistence in SQLite.
type SQLiteRuleStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteRuleStorage creates a new SQLite rule storage handler.
func NewSQLiteRuleStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteRuleStorage {
	return &SQLiteRuleStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

const ruleColumns = `id, org_id, name, rule_type, config, description, severity,
	is_active, false_positive_rate, accuracy_score, created_at, updated_at`

// GetActiveRules retrieves rules with is_active = true for an organization.
func (srs *SQLiteRuleStorage) GetActiveRules(ctx context.Context, orgID string) ([]core.ThreatRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM threat_rules
		WHERE org_id = ? AND is_active = 1
		ORDER BY created_at ASC
	`, ruleColumns)

	rows, err := srs.sqlite.ReadDB.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// GetRules retrieves rules for an organization with pagination.
func (srs *SQLiteRuleStorage) GetRules(ctx context.Context, orgID string, limit, offset int) ([]core.ThreatRule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM threat_rules
		WHERE org_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, ruleColumns)

	rows, err := srs.sqlite.ReadDB.QueryContext(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// GetRule retrieves a single rule by ID.
func (srs *SQLiteRuleStorage) GetRule(ctx context.Context, id string) (*core.ThreatRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM threat_rules WHERE id = ?`, ruleColumns)

	rows, err := srs.sqlite.ReadDB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}
	defer rows.Close()

	rules, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, ErrRuleNotFound
	}
	return &rules[0], nil
}

// GetRuleCount returns the number of rules for an organization.
func (srs *SQLiteRuleStorage) GetRuleCount(ctx context.Context, orgID string) (int64, error) {
	var count int64
	err := srs.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM threat_rules WHERE org_id = ?`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return count, nil
}

// CreateRule persists a new rule. An ID is generated if not provided.
func (srs *SQLiteRuleStorage) CreateRule(ctx context.Context, rule *core.ThreatRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	config, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal rule config: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO threat_rules (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, ruleColumns)
	_, err = srs.sqlite.WriteDB.ExecContext(ctx, query,
		rule.ID,
		rule.OrgID,
		rule.Name,
		string(rule.RuleType),
		string(config),
		rule.Description,
		string(rule.Severity),
		rule.IsActive,
		rule.FalsePositiveRate,
		rule.AccuracyScore,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// UpdateRule updates an existing rule.
func (srs *SQLiteRuleStorage) UpdateRule(ctx context.Context, id string, rule *core.ThreatRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}
	rule.UpdatedAt = time.Now().UTC()

	config, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal rule config: %w", err)
	}

	query := `
		UPDATE threat_rules
		SET name = ?, rule_type = ?, config = ?, description = ?, severity = ?,
		    is_active = ?, false_positive_rate = ?, accuracy_score = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := srs.sqlite.WriteDB.ExecContext(ctx, query,
		rule.Name,
		string(rule.RuleType),
		string(config),
		rule.Description,
		string(rule.Severity),
		rule.IsActive,
		rule.FalsePositiveRate,
		rule.AccuracyScore,
		rule.UpdatedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// DeleteRule removes a rule by ID.
func (srs *SQLiteRuleStorage) DeleteRule(ctx context.Context, id string) error {
	result, err := srs.sqlite.WriteDB.ExecContext(ctx, `DELETE FROM threat_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// EnsureIndexes creates the rule lookup indexes.
func (srs *SQLiteRuleStorage) EnsureIndexes() error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_rules_org_active ON threat_rules (org_id, is_active)`,
	}
	for _, stmt := range indexes {
		if _, err := srs.sqlite.WriteDB.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create rule index: %w", err)
		}
	}
	return nil
}

func scanRules(rows *sql.Rows) ([]core.ThreatRule, error) {
	var rules []core.ThreatRule
	for rows.Next() {
		var rule core.ThreatRule
		var ruleType, severity, config string

		err := rows.Scan(
			&rule.ID,
			&rule.OrgID,
			&rule.Name,
			&ruleType,
			&config,
			&rule.Description,
			&severity,
			&rule.IsActive,
			&rule.FalsePositiveRate,
			&rule.AccuracyScore,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		rule.RuleType = core.RuleType(ruleType)
		rule.Severity = core.Severity(severity)
		if err := json.Unmarshal([]byte(config), &rule.Config); err != nil {
			// A malformed config row must not block loading of other rules;
			// the evaluator treats a rule with nil config as never triggering.
			rule.Config = nil
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

// IsNotFound reports whether an error is one of the storage not-found
// sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound) || errors.Is(err, ErrEventNotFound)
}
