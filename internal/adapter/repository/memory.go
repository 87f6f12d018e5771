package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
)

// In-memory repositories, used by tests and riskctl dry runs. Same
// semantics as the Postgres ones, minus durability.

type MemoryIndicatorRepository struct {
	mu         sync.RWMutex
	indicators map[string]domain.Indicator
}

func NewMemoryIndicatorRepository() *MemoryIndicatorRepository {
	return &MemoryIndicatorRepository{indicators: make(map[string]domain.Indicator)}
}

func (r *MemoryIndicatorRepository) SaveBatch(_ context.Context, indicators []domain.Indicator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ind := range indicators {
		existing, ok := r.indicators[ind.ID]
		if ok {
			if existing.LastSeen.After(ind.LastSeen) {
				ind.LastSeen = existing.LastSeen
			}
			if existing.Confidence > ind.Confidence {
				ind.Confidence = existing.Confidence
			}
		}
		r.indicators[ind.ID] = ind
	}
	return nil
}

func (r *MemoryIndicatorRepository) FindByID(_ context.Context, id string) (*domain.Indicator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ind, ok := r.indicators[id]
	if !ok {
		return nil, nil
	}
	return &ind, nil
}

func (r *MemoryIndicatorRepository) FindSince(_ context.Context, since time.Time, limit int) ([]domain.Indicator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Indicator
	for _, ind := range r.indicators {
		if !ind.LastSeen.Before(since) {
			out = append(out, ind)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryIndicatorRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.indicators)
}

type MemoryRiskRepository struct {
	mu          sync.RWMutex
	risks       map[string]domain.DynamicRisk
	transitions map[string][]domain.StateTransition
}

func NewMemoryRiskRepository() *MemoryRiskRepository {
	return &MemoryRiskRepository{
		risks:       make(map[string]domain.DynamicRisk),
		transitions: make(map[string][]domain.StateTransition),
	}
}

func (r *MemoryRiskRepository) Save(_ context.Context, risk *domain.DynamicRisk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.risks[risk.ID] = *risk
	return nil
}

func (r *MemoryRiskRepository) FindByID(_ context.Context, id string) (*domain.DynamicRisk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	risk, ok := r.risks[id]
	if !ok {
		return nil, nil
	}
	return &risk, nil
}

func (r *MemoryRiskRepository) FindByIntelSource(_ context.Context, source, value string) (*domain.DynamicRisk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, risk := range r.risks {
		for _, src := range risk.IntelSources {
			if src.Source == source && src.IndicatorValue == value {
				found := risk
				return &found, nil
			}
		}
	}
	return nil, nil
}

func (r *MemoryRiskRepository) AppendTransition(_ context.Context, tr domain.StateTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transitions[tr.RiskID] = append(r.transitions[tr.RiskID], tr)
	return nil
}

func (r *MemoryRiskRepository) Transitions(_ context.Context, riskID string) ([]domain.StateTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.StateTransition, len(r.transitions[riskID]))
	copy(out, r.transitions[riskID])
	return out, nil
}

func (r *MemoryRiskRepository) All() []domain.DynamicRisk {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.DynamicRisk, 0, len(r.risks))
	for _, risk := range r.risks {
		out = append(out, risk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type MemoryClusterRepository struct {
	mu   sync.RWMutex
	runs map[string][]domain.CorrelationCluster
}

func NewMemoryClusterRepository() *MemoryClusterRepository {
	return &MemoryClusterRepository{runs: make(map[string][]domain.CorrelationCluster)}
}

func (r *MemoryClusterRepository) SaveRun(_ context.Context, runID string, clusters []domain.CorrelationCluster) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]domain.CorrelationCluster, len(clusters))
	copy(stored, clusters)
	r.runs[runID] = stored
	return nil
}

func (r *MemoryClusterRepository) FindByRun(_ context.Context, runID string) ([]domain.CorrelationCluster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.CorrelationCluster, len(r.runs[runID]))
	copy(out, r.runs[runID])
	return out, nil
}

type MemoryScoreRepository struct {
	mu      sync.RWMutex
	history map[string][]domain.ContextualRiskScore
}

func NewMemoryScoreRepository() *MemoryScoreRepository {
	return &MemoryScoreRepository{history: make(map[string][]domain.ContextualRiskScore)}
}

func (r *MemoryScoreRepository) Append(_ context.Context, score domain.ContextualRiskScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history[score.RiskID] = append(r.history[score.RiskID], score)
	return nil
}

func (r *MemoryScoreRepository) History(_ context.Context, riskID string, limit int) ([]domain.ContextualRiskScore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scores := r.history[riskID]
	if limit > 0 && len(scores) > limit {
		scores = scores[len(scores)-limit:]
	}
	out := make([]domain.ContextualRiskScore, len(scores))
	copy(out, scores)
	return out, nil
}

type MemoryProcessingLog struct {
	mu      sync.Mutex
	entries []ports.ProcessingDecision
}

func NewMemoryProcessingLog() *MemoryProcessingLog {
	return &MemoryProcessingLog{}
}

func (r *MemoryProcessingLog) Append(_ context.Context, entry ports.ProcessingDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryProcessingLog) Entries() []ports.ProcessingDecision {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ports.ProcessingDecision, len(r.entries))
	copy(out, r.entries)
	return out
}
