package domain

// RuleConditions is the conjunction of predicates a rule applies to an
// indicator. Empty fields are wildcards. Matches the operator-facing JSON
// shape: {conditions:{sources?,indicatorTypes?,confidenceMin?,...}}.
type RuleConditions struct {
	Sources          []string           `json:"sources,omitempty" yaml:"sources"`                   // glob patterns
	IndicatorTypes   []IndicatorType    `json:"indicatorTypes,omitempty" yaml:"indicatorTypes"`     // whitelist
	ConfidenceMin    int                `json:"confidenceMin,omitempty" yaml:"confidenceMin"`       // 0-100 floor
	SeverityMin      Severity           `json:"severityMin,omitempty" yaml:"severityMin"`           // floor by rank
	Tags             []string           `json:"tags,omitempty" yaml:"tags"`                         // all required
	CustomConditions map[string]float64 `json:"customConditions,omitempty" yaml:"customConditions"` // numeric floors (cvss, epss)
}

// RuleActions describes what happens when a rule matches.
type RuleActions struct {
	CreateRisk         bool `json:"createRisk" yaml:"createRisk"`
	AutoPromoteToDraft bool `json:"autoPromoteToDraft" yaml:"autoPromoteToDraft"`
	AssignPriority     int  `json:"assignPriority,omitempty" yaml:"assignPriority"`
}

// RiskCreationRule decides whether an inbound indicator becomes a risk.
// Rules are operator-configured and evaluated read-only per indicator.
type RiskCreationRule struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Enabled    bool           `json:"enabled" yaml:"enabled"`
	Conditions RuleConditions `json:"conditions" yaml:"conditions"`
	Actions    RuleActions    `json:"actions" yaml:"actions"`
}
