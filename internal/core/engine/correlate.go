package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
	"github.com/hive-corporation/riskwatch/internal/metrics"
)

// temporalWindows are tried narrowest first; the first window an indicator
// lands in wins, and the correlation weight decays with window width.
var temporalWindows = []struct {
	width  time.Duration
	weight float64
}{
	{1 * time.Hour, 0.9},
	{6 * time.Hour, 0.7},
	{24 * time.Hour, 0.5},
	{168 * time.Hour, 0.3},
}

const (
	minTemporalCluster   = 3
	minBehavioralCluster = 2
	clusterConfidenceCap = 0.95
)

// CorrelationResult is the append-only output of one correlation pass,
// keyed by run id. Passes supersede each other; nothing is mutated in place.
type CorrelationResult struct {
	RunID    string
	Clusters []domain.CorrelationCluster
}

// CorrelationEngine clusters a batch of indicators by infrastructure,
// temporal proximity and behavioral signature, then attributes each cluster
// to an actor with a confidence from the injected scoring provider.
type CorrelationEngine struct {
	clusters ports.ClusterRepository
	provider ports.ScoringProvider
	notifier ports.Notifier
	log      *logrus.Entry
	now      func() time.Time
}

// attributionNotifyFloor is the attribution confidence above which a
// cluster is worth an analyst's attention.
const attributionNotifyFloor = 0.7

func NewCorrelationEngine(clusters ports.ClusterRepository, provider ports.ScoringProvider, notifier ports.Notifier, log *logrus.Logger) *CorrelationEngine {
	if provider == nil {
		provider = DefaultScoringProvider{}
	}
	return &CorrelationEngine{
		clusters: clusters,
		provider: provider,
		notifier: notifier,
		log:      log.WithField("component", "correlation"),
		now:      time.Now,
	}
}

// Correlate runs one synchronous CPU-bound pass over the batch. Each
// indicator joins at most one cluster per strategy. The pass never aborts on
// a bad cluster: attribution failures leave the cluster unattributed.
func (e *CorrelationEngine) Correlate(ctx context.Context, indicators []domain.Indicator) (*CorrelationResult, error) {
	runID := uuid.New().String()
	now := e.now()

	byID := make(map[string]domain.Indicator, len(indicators))
	for _, ind := range indicators {
		byID[ind.ID] = ind
	}

	var clusters []domain.CorrelationCluster

	infra := e.infrastructureClusters(indicators, runID, now)
	metrics.RecordClusters(string(domain.ClusterInfrastructure), len(infra))
	clusters = append(clusters, infra...)

	temporal := e.temporalClusters(indicators, runID, now)
	metrics.RecordClusters(string(domain.ClusterTemporal), len(temporal))
	clusters = append(clusters, temporal...)

	behavioral := e.behavioralClusters(indicators, runID, now)
	metrics.RecordClusters(string(domain.ClusterBehavioral), len(behavioral))
	clusters = append(clusters, behavioral...)

	for i := range clusters {
		clusters[i].Attribution = e.attribute(&clusters[i], byID)
		e.notifyAttribution(clusters[i])
	}

	if e.clusters != nil {
		if err := e.clusters.SaveRun(ctx, runID, clusters); err != nil {
			return nil, err
		}
	}

	e.log.WithFields(logrus.Fields{
		"run":        runID,
		"indicators": len(indicators),
		"clusters":   len(clusters),
	}).Info("correlation pass complete")

	return &CorrelationResult{RunID: runID, Clusters: clusters}, nil
}

// notifyAttribution alerts on clusters attributed to a named actor above the
// notify floor. Notification failures never fail the pass.
func (e *CorrelationEngine) notifyAttribution(cluster domain.CorrelationCluster) {
	if e.notifier == nil {
		return
	}
	attr := cluster.Attribution
	if attr == nil || attr.Actor == "" || attr.Actor == "unattributed" {
		return
	}
	if attr.Confidence < attributionNotifyFloor {
		return
	}
	n := ports.AttributionNotification{
		ClusterID:   cluster.ID,
		ClusterType: string(cluster.Type),
		Actor:       attr.Actor,
		Campaign:    attr.Campaign,
		Confidence:  attr.Confidence,
		MemberCount: len(cluster.MemberIDs),
		RiskLevel:   string(cluster.RiskLevel),
		CreatedAt:   cluster.CreatedAt,
	}
	if err := e.notifier.NotifyAttribution(n); err != nil {
		e.log.WithError(err).Warn("attribution notification failed")
	}
}

// infrastructureClusters links IPs and domains above the strategy thresholds
// and emits the connected components.
func (e *CorrelationEngine) infrastructureClusters(indicators []domain.Indicator, runID string, now time.Time) []domain.CorrelationCluster {
	var candidates []domain.Indicator
	for _, ind := range indicators {
		if ind.Type == domain.IPAddress || ind.Type == domain.Domain {
			candidates = append(candidates, ind)
		}
	}
	if len(candidates) < 2 {
		return nil
	}

	uf := newUnionFind(len(candidates))
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if _, linked := pairSimilarity(candidates[i], candidates[j]); linked {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := range candidates {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	var clusters []domain.CorrelationCluster
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}

		// strength is the mean pairwise similarity of the component
		var sum float64
		var pairs int
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				sim, _ := pairSimilarity(candidates[members[i]], candidates[members[j]])
				sum += sim
				pairs++
			}
		}
		strength := sum / float64(pairs)

		group := make([]domain.Indicator, len(members))
		for i, idx := range members {
			group[i] = candidates[idx]
		}
		clusters = append(clusters, e.buildCluster(runID, domain.ClusterInfrastructure, group, strength, now))
	}

	sortClusters(clusters)
	return clusters
}

// pairSimilarity computes similarity between two infrastructure indicators
// and whether it clears the strategy threshold. Cross-type pairs never link.
func pairSimilarity(a, b domain.Indicator) (float64, bool) {
	if a.Type != b.Type {
		return 0, false
	}
	switch a.Type {
	case domain.IPAddress:
		sim := ipSimilarity(a.Value, b.Value)
		return sim, sim >= ipLinkThreshold
	case domain.Domain:
		sim := domainSimilarity(a.Value, b.Value)
		return sim, sim >= domainLinkThreshold
	default:
		return 0, false
	}
}

// temporalClusters slides fixed-width windows over the batch sorted by
// first_seen. An indicator belongs to the narrowest window that captures it.
func (e *CorrelationEngine) temporalClusters(indicators []domain.Indicator, runID string, now time.Time) []domain.CorrelationCluster {
	sorted := make([]domain.Indicator, len(indicators))
	copy(sorted, indicators)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].FirstSeen.Before(sorted[j].FirstSeen)
	})

	processed := make(map[string]bool)
	var clusters []domain.CorrelationCluster

	for _, window := range temporalWindows {
		var group []domain.Indicator
		var windowStart time.Time

		flush := func() {
			if len(group) >= minTemporalCluster {
				for _, m := range group {
					processed[m.ID] = true
				}
				clusters = append(clusters,
					e.buildCluster(runID, domain.ClusterTemporal, group, window.weight, now))
			}
			group = nil
		}

		for _, ind := range sorted {
			if processed[ind.ID] || ind.FirstSeen.IsZero() {
				continue
			}
			if len(group) == 0 || ind.FirstSeen.Sub(windowStart) > window.width {
				flush()
				windowStart = ind.FirstSeen
			}
			group = append(group, ind)
		}
		flush()
	}

	return clusters
}

// behavioralClusters groups indicators with an identical derived behavior
// signature (attack technique + kill-chain phase).
func (e *CorrelationEngine) behavioralClusters(indicators []domain.Indicator, runID string, now time.Time) []domain.CorrelationCluster {
	bySignature := make(map[string][]domain.Indicator)
	for _, ind := range indicators {
		sig := ind.Context.BehaviorSignature()
		if sig == "" {
			continue
		}
		bySignature[sig] = append(bySignature[sig], ind)
	}

	sigs := make([]string, 0, len(bySignature))
	for sig := range bySignature {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)

	var clusters []domain.CorrelationCluster
	for _, sig := range sigs {
		group := bySignature[sig]
		if len(group) < minBehavioralCluster {
			continue
		}
		// identical signatures: pairwise similarity is 1.0 by construction
		clusters = append(clusters,
			e.buildCluster(runID, domain.ClusterBehavioral, group, 1.0, now))
	}
	return clusters
}

// buildCluster assembles the cluster record: confidence folds member count
// into strength (capped), risk level comes from average member severity.
func (e *CorrelationEngine) buildCluster(runID string, t domain.ClusterType, members []domain.Indicator, strength float64, now time.Time) domain.CorrelationCluster {
	ids := make([]string, len(members))
	severitySum := 0
	for i, m := range members {
		ids[i] = m.ID
		severitySum += m.Severity.Rank()
	}

	confidence := strength + 0.05*float64(len(members)-2)
	if confidence > clusterConfidenceCap {
		confidence = clusterConfidenceCap
	}
	if confidence < 0 {
		confidence = 0
	}

	return domain.CorrelationCluster{
		ID:         uuid.New().String(),
		RunID:      runID,
		Type:       t,
		MemberIDs:  ids,
		Strength:   strength,
		Confidence: confidence,
		RiskLevel:  domain.ClusterRiskLevel(float64(severitySum) / float64(len(members))),
		CreatedAt:  now,
	}
}

func sortClusters(clusters []domain.CorrelationCluster) {
	sort.Slice(clusters, func(i, j int) bool {
		if len(clusters[i].MemberIDs) != len(clusters[j].MemberIDs) {
			return len(clusters[i].MemberIDs) > len(clusters[j].MemberIDs)
		}
		return clusters[i].ID < clusters[j].ID
	})
}
