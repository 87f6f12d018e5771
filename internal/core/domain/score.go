package domain

import "time"

// OrgSize buckets drive the impact size multiplier.
type OrgSize string

const (
	OrgSmall      OrgSize = "small"
	OrgMedium     OrgSize = "medium"
	OrgLarge      OrgSize = "large"
	OrgEnterprise OrgSize = "enterprise"
)

// SizeMultiplier returns the impact scaling for the organization size.
func (s OrgSize) SizeMultiplier() float64 {
	switch s {
	case OrgEnterprise:
		return 1.6
	case OrgLarge:
		return 1.4
	case OrgMedium:
		return 1.2
	default:
		return 1.0
	}
}

// OrganizationContext is the posture snapshot the scoring engine multiplies
// a base score against. All ratio fields are 0-1 unless noted.
type OrganizationContext struct {
	Industry              string             `json:"industry"`
	Size                  OrgSize            `json:"size"`
	IndustryTargetingFreq float64            `json:"industry_targeting_freq"`
	GeoThreatLevel        float64            `json:"geo_threat_level"`
	ActiveCampaigns       int                `json:"active_campaigns"`
	RecentSectorIncidents int                `json:"recent_sector_incidents"`
	SecurityMaturity      float64            `json:"security_maturity"`
	InternetExposure      float64            `json:"internet_exposure"` // 0-10
	SupplyChainComplexity float64            `json:"supply_chain_complexity"` // 0-10
	BusinessCriticality   float64            `json:"business_criticality"`
	ActorLikelihoods      map[string]float64 `json:"actor_targeting_likelihoods,omitempty"`
}

// ScoreConfidence is the qualitative confidence of a computed score.
type ScoreConfidence string

const (
	ScoreConfidenceHigh   ScoreConfidence = "high"
	ScoreConfidenceMedium ScoreConfidence = "medium"
	ScoreConfidenceLow    ScoreConfidence = "low"
)

// ScoreMultipliers holds the four contextual multipliers applied to a base
// probability x impact score.
type ScoreMultipliers struct {
	ThreatLandscape float64 `json:"threat_landscape"`
	Vulnerability   float64 `json:"vulnerability"`
	Impact          float64 `json:"impact"`
	Targeting       float64 `json:"targeting"`
}

// ContextualRiskScore is a recomputed (never patched) scoring snapshot.
type ContextualRiskScore struct {
	RiskID      string           `json:"risk_id"`
	BaseScore   float64          `json:"base_score"`  // probability x impact, 1-25
	Multipliers ScoreMultipliers `json:"multipliers"`
	FinalScore  float64          `json:"final_score"` // 0-100
	Confidence  ScoreConfidence  `json:"confidence_level"`
	ComputedAt  time.Time        `json:"computed_at"`
}

// ScoreTrend is the velocity analysis over a risk's score history.
type ScoreTrend struct {
	RiskID       string    `json:"risk_id"`
	Velocity     float64   `json:"velocity"` // score units per day
	Predicted30d float64   `json:"predicted_30d"`
	IntervalLow  float64   `json:"interval_low"`  // 95% normal interval
	IntervalHigh float64   `json:"interval_high"`
	SampleSize   int       `json:"sample_size"`
	ComputedAt   time.Time `json:"computed_at"`
}
