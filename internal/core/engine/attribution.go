package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
)

// DefaultScoringProvider is the deterministic stand-in for a trained
// attribution model: a fixed-weight linear blend of the similarity signals.
// Inject a real model through ports.ScoringProvider to replace it.
type DefaultScoringProvider struct{}

func (DefaultScoringProvider) AttributionConfidence(f ports.AttributionFeatures) float64 {
	score := 0.5*f.InfrastructureOverlap + 0.3*f.TechniqueSimilarity + 0.2*f.TimingCorrelation
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (DefaultScoringProvider) AnalysisConfidence() float64 { return 0.75 }

// attribute assigns an actor to a cluster from the actor hints its members
// carry. A cluster with no hints, or any scoring failure, comes back
// unattributed with confidence 0 rather than failing the pass.
func (e *CorrelationEngine) attribute(cluster *domain.CorrelationCluster, byID map[string]domain.Indicator) *domain.ThreatAttribution {
	members := make([]domain.Indicator, 0, len(cluster.MemberIDs))
	for _, id := range cluster.MemberIDs {
		if ind, ok := byID[id]; ok {
			members = append(members, ind)
		}
	}
	if len(members) == 0 {
		return nil
	}

	actorCounts := make(map[string]int)
	campaigns := make(map[string]string)
	for _, m := range members {
		if actor := m.Context.ThreatActor; actor != "" {
			actorCounts[actor]++
			if m.Context.Campaign != "" {
				campaigns[actor] = m.Context.Campaign
			}
		}
	}
	if len(actorCounts) == 0 {
		return &domain.ThreatAttribution{
			ID:         uuid.New().String(),
			Actor:      "unattributed",
			Confidence: 0,
		}
	}

	type candidate struct {
		actor      string
		confidence float64
	}
	candidates := make([]candidate, 0, len(actorCounts))

	for actor, count := range actorCounts {
		features := ports.AttributionFeatures{
			InfrastructureOverlap: float64(count) / float64(len(members)),
			TechniqueSimilarity:   techniqueAgreement(members),
			TimingCorrelation:     timingCorrelation(members),
		}
		candidates = append(candidates, candidate{
			actor:      actor,
			confidence: e.provider.AttributionConfidence(features),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].confidence != candidates[j].confidence {
			return candidates[i].confidence > candidates[j].confidence
		}
		return candidates[i].actor < candidates[j].actor
	})

	top := candidates[0]
	alternatives := make([]domain.AlternativeAttribution, 0, len(candidates)-1)
	for _, c := range candidates[1:] {
		alternatives = append(alternatives, domain.AlternativeAttribution{
			Actor:      c.actor,
			Confidence: c.confidence,
		})
	}

	evidence := []string{
		fmt.Sprintf("%d/%d members carry actor hint %q", actorCounts[top.actor], len(members), top.actor),
		fmt.Sprintf("cluster strategy: %s, strength %.2f", cluster.Type, cluster.Strength),
	}

	return &domain.ThreatAttribution{
		ID:               uuid.New().String(),
		Actor:            top.actor,
		Campaign:         campaigns[top.actor],
		Confidence:       top.confidence,
		EvidenceStrength: float64(actorCounts[top.actor]) / float64(len(members)),
		Evidence:         evidence,
		Alternatives:     alternatives,
	}
}

// techniqueAgreement is the fraction of members sharing the most common
// attack technique hint.
func techniqueAgreement(members []domain.Indicator) float64 {
	counts := make(map[string]int)
	for _, m := range members {
		if t := m.Context.MitreTechnique; t != "" {
			counts[t]++
		}
	}
	best := 0
	for _, c := range counts {
		if c > best {
			best = c
		}
	}
	return float64(best) / float64(len(members))
}

// timingCorrelation maps the first_seen spread of the members onto [0,1]:
// a tight burst scores near 1, a spread past a week scores 0.
func timingCorrelation(members []domain.Indicator) float64 {
	var min, max time.Time
	for _, m := range members {
		if m.FirstSeen.IsZero() {
			continue
		}
		if min.IsZero() || m.FirstSeen.Before(min) {
			min = m.FirstSeen
		}
		if max.IsZero() || m.FirstSeen.After(max) {
			max = m.FirstSeen
		}
	}
	if min.IsZero() {
		return 0
	}
	spread := max.Sub(min)
	if spread >= 168*time.Hour {
		return 0
	}
	return 1 - float64(spread)/float64(168*time.Hour)
}
