package engine

import (
	"fmt"

	"github.com/ryanuber/go-glob"
	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
)

// fallbackConfidenceFloor applies when no configured rule matches: indicators
// at or above this confidence still become risks.
const fallbackConfidenceFloor = 60

// RuleDecision is the outcome of evaluating an indicator against the rule set.
type RuleDecision struct {
	Matched     bool
	RuleID      string
	CreateRisk  bool
	AutoPromote bool
	Priority    int
	Fallback    bool
}

// RuleEngine evaluates indicators against operator-configured risk creation
// rules. Rules are read-only during evaluation; a malformed rule is skipped
// and logged, never fatal.
type RuleEngine struct {
	rules []domain.RiskCreationRule
	log   *logrus.Entry
}

func NewRuleEngine(rules []domain.RiskCreationRule, log *logrus.Logger) *RuleEngine {
	return &RuleEngine{
		rules: rules,
		log:   log.WithField("component", "rules"),
	}
}

// Rules returns the configured rule set.
func (e *RuleEngine) Rules() []domain.RiskCreationRule { return e.rules }

// Evaluate runs the indicator through every enabled rule. The first match
// wins; with no match the fallback default applies (confidence >= 60 creates).
func (e *RuleEngine) Evaluate(ind domain.Indicator) RuleDecision {
	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Enabled {
			continue
		}

		matched, err := matchRule(rule, ind)
		if err != nil {
			e.log.WithError(err).WithField("rule", rule.ID).
				Warn("skipping malformed rule")
			continue
		}
		if matched {
			return RuleDecision{
				Matched:     true,
				RuleID:      rule.ID,
				CreateRisk:  rule.Actions.CreateRisk,
				AutoPromote: rule.Actions.AutoPromoteToDraft,
				Priority:    rule.Actions.AssignPriority,
			}
		}
	}

	return RuleDecision{
		Fallback:   true,
		CreateRisk: ind.Confidence >= fallbackConfidenceFloor,
	}
}

// LintRule reports whether a rule could ever be evaluated: it must carry an
// ID and only reference known severity floors and custom condition keys.
func LintRule(rule domain.RiskCreationRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule has no id")
	}
	if rule.Conditions.SeverityMin != "" && rule.Conditions.SeverityMin.Rank() == 0 {
		return fmt.Errorf("unknown severity floor %q", rule.Conditions.SeverityMin)
	}
	probe := domain.Indicator{Confidence: 100}
	for key := range rule.Conditions.CustomConditions {
		if _, err := customValue(key, probe); err != nil {
			return err
		}
	}
	return nil
}

// matchRule evaluates the conjunction of a rule's conditions. Empty condition
// fields are wildcards.
func matchRule(rule *domain.RiskCreationRule, ind domain.Indicator) (bool, error) {
	cond := rule.Conditions

	if len(cond.Sources) > 0 && !matchAnyGlob(cond.Sources, ind.Source) {
		return false, nil
	}

	if len(cond.IndicatorTypes) > 0 {
		found := false
		for _, t := range cond.IndicatorTypes {
			if t == ind.Type {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	if ind.Confidence < cond.ConfidenceMin {
		return false, nil
	}

	if cond.SeverityMin != "" {
		floor := cond.SeverityMin.Rank()
		if floor == 0 {
			return false, fmt.Errorf("unknown severity floor %q", cond.SeverityMin)
		}
		if ind.Severity.Rank() < floor {
			return false, nil
		}
	}

	for _, tag := range cond.Tags {
		if !ind.HasTag(tag) {
			return false, nil
		}
	}

	for key, floor := range cond.CustomConditions {
		value, err := customValue(key, ind)
		if err != nil {
			return false, err
		}
		if value < floor {
			return false, nil
		}
	}

	return true, nil
}

// customValue resolves a custom numeric condition key against the indicator.
// An unknown key makes the whole rule malformed.
func customValue(key string, ind domain.Indicator) (float64, error) {
	switch key {
	case "cvss":
		return ind.Context.CVSS, nil
	case "epss":
		return ind.Context.EPSS, nil
	case "confidence":
		return float64(ind.Confidence), nil
	default:
		return 0, fmt.Errorf("unknown custom condition %q", key)
	}
}

func matchAnyGlob(patterns []string, value string) bool {
	for _, p := range patterns {
		if glob.Glob(p, value) {
			return true
		}
	}
	return false
}
