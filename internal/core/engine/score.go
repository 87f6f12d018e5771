package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
	"github.com/hive-corporation/riskwatch/internal/metrics"
)

// ScoringEngine recomputes contextual risk scores: a probability x impact
// base re-contextualized against organizational posture. Scores are appended
// to history, never patched in place.
type ScoringEngine struct {
	scores   ports.ScoreRepository
	provider ports.ScoringProvider
	org      domain.OrganizationContext
	log      *logrus.Entry
	now      func() time.Time
}

func NewScoringEngine(scores ports.ScoreRepository, provider ports.ScoringProvider, org domain.OrganizationContext, log *logrus.Logger) *ScoringEngine {
	if provider == nil {
		provider = DefaultScoringProvider{}
	}
	return &ScoringEngine{
		scores:   scores,
		provider: provider,
		org:      org,
		log:      log.WithField("component", "scoring"),
		now:      time.Now,
	}
}

// Multipliers derives the four contextual multipliers from an organization
// posture snapshot. Each is capped so no single dimension can run away.
func Multipliers(org domain.OrganizationContext) domain.ScoreMultipliers {
	threat := 1 +
		0.5*org.IndustryTargetingFreq +
		0.3*org.GeoThreatLevel +
		0.2*math.Min(float64(org.ActiveCampaigns)/10, 1) +
		0.3*math.Min(float64(org.RecentSectorIncidents)/20, 1)
	threat = math.Min(3.0, threat)

	vuln := 1 +
		0.8*(1-org.SecurityMaturity) +
		0.3*(org.InternetExposure/10) +
		0.2*(org.SupplyChainComplexity/10)
	vuln = math.Min(2.5, vuln)

	impact := (1 + 0.6*org.BusinessCriticality) * org.Size.SizeMultiplier()
	impact = math.Min(2.0, impact)

	targeting := 1.0
	for _, likelihood := range org.ActorLikelihoods {
		switch {
		case likelihood > 0.7:
			targeting += 0.3
		case likelihood > 0.4:
			targeting += 0.1
		}
	}
	targeting = math.Min(2.0, targeting)

	return domain.ScoreMultipliers{
		ThreatLandscape: threat,
		Vulnerability:   vuln,
		Impact:          impact,
		Targeting:       targeting,
	}
}

// FinalScore applies the bounded scoring function:
// min(100, base x mean of the four multipliers).
func FinalScore(base float64, m domain.ScoreMultipliers) float64 {
	mean := (m.ThreatLandscape + m.Vulnerability + m.Impact + m.Targeting) / 4
	return math.Min(100, base*mean)
}

// Score computes and appends a fresh contextual score for the risk.
func (e *ScoringEngine) Score(ctx context.Context, risk *domain.DynamicRisk) (*domain.ContextualRiskScore, error) {
	base := float64(risk.Probability * risk.Impact)
	multipliers := Multipliers(e.org)

	score := domain.ContextualRiskScore{
		RiskID:      risk.ID,
		BaseScore:   base,
		Multipliers: multipliers,
		FinalScore:  FinalScore(base, multipliers),
		Confidence:  e.confidenceLevel(risk),
		ComputedAt:  e.now(),
	}

	if e.scores != nil {
		if err := e.scores.Append(ctx, score); err != nil {
			return nil, fmt.Errorf("failed to append score: %w", err)
		}
	}

	metrics.RecordScore(score.FinalScore)
	e.log.WithFields(logrus.Fields{
		"risk":  risk.ID,
		"base":  base,
		"final": score.FinalScore,
	}).Debug("score recomputed")

	return &score, nil
}

// confidenceLevel folds data freshness, source reliability and the scoring
// provider's own confidence into the qualitative level.
func (e *ScoringEngine) confidenceLevel(risk *domain.DynamicRisk) domain.ScoreConfidence {
	freshness := e.dataFreshness(risk)
	reliability := sourceReliability(risk)
	analysis := e.provider.AnalysisConfidence()

	mean := (freshness + reliability + analysis) / 3
	switch {
	case mean > 0.8:
		return domain.ScoreConfidenceHigh
	case mean > 0.6:
		return domain.ScoreConfidenceMedium
	default:
		return domain.ScoreConfidenceLow
	}
}

// dataFreshness decays linearly from 1 to 0 over 30 days since the newest
// intel sighting.
func (e *ScoringEngine) dataFreshness(risk *domain.DynamicRisk) float64 {
	var newest time.Time
	for _, s := range risk.IntelSources {
		if s.FirstSeen.After(newest) {
			newest = s.FirstSeen
		}
	}
	if newest.IsZero() {
		return 0
	}
	age := e.now().Sub(newest)
	if age < 0 {
		age = 0
	}
	fresh := 1 - age.Hours()/(30*24)
	if fresh < 0 {
		return 0
	}
	return fresh
}

// sourceReliability is the mean per-source confidence of the risk's intel
// sightings, on a 0-1 scale.
func sourceReliability(risk *domain.DynamicRisk) float64 {
	if len(risk.IntelSources) == 0 {
		return 0
	}
	var sum float64
	for _, s := range risk.IntelSources {
		sum += float64(s.Confidence) / 100
	}
	return sum / float64(len(risk.IntelSources))
}

// Trend fits a least-squares slope over the risk's recent score history and
// projects 30 days out with a 95% normal interval.
func (e *ScoringEngine) Trend(ctx context.Context, riskID string, window int) (*domain.ScoreTrend, error) {
	if window <= 0 {
		window = 10
	}
	history, err := e.scores.History(ctx, riskID, window)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("risk %s has no score history", riskID)
	}

	trend := &domain.ScoreTrend{
		RiskID:     riskID,
		SampleSize: len(history),
		ComputedAt: e.now(),
	}

	current := history[len(history)-1].FinalScore
	if len(history) == 1 {
		trend.Predicted30d = current
		trend.IntervalLow = current
		trend.IntervalHigh = current
		return trend, nil
	}

	// slope in score units per day, from (days since first sample, score)
	origin := history[0].ComputedAt
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range history {
		x := s.ComputedAt.Sub(origin).Hours() / 24
		y := s.FinalScore
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	n := float64(len(history))
	denom := n*sumXX - sumX*sumX
	var slope float64
	if denom != 0 {
		slope = (n*sumXY - sumX*sumY) / denom
	}

	mean := sumY / n
	var variance float64
	for _, s := range history {
		d := s.FinalScore - mean
		variance += d * d
	}
	variance /= n

	predicted := current + slope*30
	if predicted < 0 {
		predicted = 0
	}
	if predicted > 100 {
		predicted = 100
	}

	margin := 1.96 * math.Sqrt(variance)
	trend.Velocity = slope
	trend.Predicted30d = predicted
	trend.IntervalLow = math.Max(0, predicted-margin)
	trend.IntervalHigh = math.Min(100, predicted+margin)

	return trend, nil
}
