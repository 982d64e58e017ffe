package bootstrap

import (
	"context"
	"fmt"
	"os"

	"argus/core"
	"argus/storage"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// seedRule mirrors core.ThreatRule for YAML decoding of seed files.
type seedRule struct {
	ID                string                 `yaml:"id"`
	OrgID             string                 `yaml:"org_id"`
	Name              string                 `yaml:"name"`
	RuleType          string                 `yaml:"rule_type"`
	Config            map[string]interface{} `yaml:"config"`
	Description       string                 `yaml:"description"`
	Severity          string                 `yaml:"severity"`
	IsActive          bool                   `yaml:"is_active"`
	FalsePositiveRate float64                `yaml:"false_positive_rate"`
	AccuracyScore     float64                `yaml:"accuracy_score"`
}

type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

// SeedRules loads threat rules from a YAML file into storage when the rules
// table is empty for the org the seed file targets. Invalid rules are skipped
// with a warning rather than aborting the seed.
func SeedRules(ctx context.Context, path string, ruleStorage storage.RuleStorageInterface, sugar *zap.SugaredLogger) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rule seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse rule seed file: %w", err)
	}

	// Seed only orgs that had no rules before this run, so a seed file with
	// several rules per org loads fully but never duplicates an existing set.
	orgHadRules := make(map[string]bool)
	seeded := 0
	for _, sr := range seed.Rules {
		had, checked := orgHadRules[sr.OrgID]
		if !checked {
			count, err := ruleStorage.GetRuleCount(ctx, sr.OrgID)
			if err != nil {
				return fmt.Errorf("failed to check existing rules: %w", err)
			}
			had = count > 0
			orgHadRules[sr.OrgID] = had
		}
		if had {
			sugar.Debugw("Org already has rules, skipping seed", "org_id", sr.OrgID)
			continue
		}

		rule := &core.ThreatRule{
			ID:                sr.ID,
			OrgID:             sr.OrgID,
			Name:              sr.Name,
			RuleType:          core.RuleType(sr.RuleType),
			Config:            sr.Config,
			Description:       sr.Description,
			Severity:          core.Severity(sr.Severity),
			IsActive:          sr.IsActive,
			FalsePositiveRate: sr.FalsePositiveRate,
			AccuracyScore:     sr.AccuracyScore,
		}
		if err := ruleStorage.CreateRule(ctx, rule); err != nil {
			sugar.Warnw("Skipping invalid seed rule",
				"rule_name", sr.Name,
				"error", err)
			continue
		}
		seeded++
	}

	if seeded > 0 {
		sugar.Infow("Seeded threat rules", "count", seeded, "file", path)
	}
	return nil
}
