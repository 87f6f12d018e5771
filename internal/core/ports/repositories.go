package ports

import (
	"context"
	"time"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
)

// FeedSource is what a concrete feed implements. All shared connector
// behavior (rate limiting, retry, breaker, validation) lives outside the
// source, exactly once.
type FeedSource interface {
	Name() string
	FetchRaw(ctx context.Context) ([]byte, error)
	Parse(raw []byte) ([]domain.Indicator, error)
}

// SyncBatch is one connector's contribution to a full sync pass. A failed
// connector contributes its error instead of blocking the others.
type SyncBatch struct {
	Connector  string
	Indicators []domain.Indicator
	Err        error
}

// FeedRegistry is the pipeline's view of the connector registry.
type FeedRegistry interface {
	SyncAll(ctx context.Context) []SyncBatch
	SyncOne(ctx context.Context, id string) ([]domain.Indicator, error)
}

type IndicatorRepository interface {
	SaveBatch(ctx context.Context, indicators []domain.Indicator) error
	FindByID(ctx context.Context, id string) (*domain.Indicator, error)
	FindSince(ctx context.Context, since time.Time, limit int) ([]domain.Indicator, error)
}

type RiskRepository interface {
	Save(ctx context.Context, risk *domain.DynamicRisk) error
	FindByID(ctx context.Context, id string) (*domain.DynamicRisk, error)
	// FindByIntelSource locates a risk already sourced from the same
	// (source, indicator value) pair; returns nil, nil when absent.
	FindByIntelSource(ctx context.Context, source, value string) (*domain.DynamicRisk, error)
	AppendTransition(ctx context.Context, tr domain.StateTransition) error
	Transitions(ctx context.Context, riskID string) ([]domain.StateTransition, error)
}

type ClusterRepository interface {
	SaveRun(ctx context.Context, runID string, clusters []domain.CorrelationCluster) error
	FindByRun(ctx context.Context, runID string) ([]domain.CorrelationCluster, error)
}

type ScoreRepository interface {
	Append(ctx context.Context, score domain.ContextualRiskScore) error
	History(ctx context.Context, riskID string, limit int) ([]domain.ContextualRiskScore, error)
}

// ProcessingDecision is one immutable entry of the ingestion audit log.
type ProcessingDecision struct {
	Connector   string
	IndicatorID string
	Decision    string // created, updated, skipped
	RuleID      string
	RiskID      string
	Detail      string
	Timestamp   time.Time
}

type ProcessingLogRepository interface {
	Append(ctx context.Context, entry ProcessingDecision) error
}
