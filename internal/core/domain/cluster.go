package domain

import "time"

// ClusterType names the strategy that produced a correlation cluster.
type ClusterType string

const (
	ClusterInfrastructure ClusterType = "infrastructure"
	ClusterTemporal       ClusterType = "temporal"
	ClusterBehavioral     ClusterType = "behavioral"
)

// AlternativeAttribution is a lower-ranked actor candidate kept for operator
// review, sorted descending by confidence.
type AlternativeAttribution struct {
	Actor      string  `json:"actor"`
	Confidence float64 `json:"confidence"`
}

// ThreatAttribution is the inferred actor/campaign behind a cluster.
type ThreatAttribution struct {
	ID               string                   `json:"attribution_id"`
	Actor            string                   `json:"actor"`
	Campaign         string                   `json:"campaign,omitempty"`
	Confidence       float64                  `json:"confidence"` // 0-1
	EvidenceStrength float64                  `json:"evidence_strength"`
	Evidence         []string                 `json:"evidence,omitempty"`
	Alternatives     []AlternativeAttribution `json:"alternative_attributions,omitempty"`
}

// CorrelationCluster is a set of indicators linked by one strategy within one
// correlation pass. Clusters are superseded by the next pass, never mutated.
type CorrelationCluster struct {
	ID          string             `json:"cluster_id"`
	RunID       string             `json:"run_id"`
	Type        ClusterType        `json:"cluster_type"`
	MemberIDs   []string           `json:"member_ids"`
	Strength    float64            `json:"correlation_strength"` // mean pairwise similarity, 0-1
	Confidence  float64            `json:"cluster_confidence"`   // strength folded with member count, capped 0.95
	RiskLevel   Severity           `json:"risk_level"`
	Attribution *ThreatAttribution `json:"attribution,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// ClusterRiskLevel maps the average member severity rank (1-4) onto the
// cluster risk level.
func ClusterRiskLevel(avgSeverityRank float64) Severity {
	switch {
	case avgSeverityRank >= 3.5:
		return SeverityCritical
	case avgSeverityRank >= 2.5:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
