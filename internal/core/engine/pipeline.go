package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
	"github.com/hive-corporation/riskwatch/internal/metrics"
)

// ErrRunInProgress is returned when a full pipeline run is requested while
// one is still executing. Runs are single-flight because rule evaluation and
// risk dedup reads are not internally transactional.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// RunReport summarizes one full pipeline execution.
type RunReport struct {
	Started  time.Time
	Finished time.Time

	Synced   int
	Created  int
	Updated  int
	Skipped  int
	Clusters int

	ConnectorErrors map[string]string
	CorrelationRun  string
}

// Pipeline drives a full ingestion cycle: sync every feed, evaluate each
// indicator against the rule set, create or merge risks, correlate the batch
// and rescore the touched risks.
type Pipeline struct {
	feeds       ports.FeedRegistry
	rules       *RuleEngine
	lifecycle   *Lifecycle
	correlation *CorrelationEngine
	scoring     *ScoringEngine

	risks      ports.RiskRepository
	indicators ports.IndicatorRepository
	procLog    ports.ProcessingLogRepository

	log     *logrus.Entry
	now     func() time.Time
	running atomic.Bool
}

func NewPipeline(
	feeds ports.FeedRegistry,
	rules *RuleEngine,
	lifecycle *Lifecycle,
	correlation *CorrelationEngine,
	scoring *ScoringEngine,
	risks ports.RiskRepository,
	indicators ports.IndicatorRepository,
	procLog ports.ProcessingLogRepository,
	log *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		feeds:       feeds,
		rules:       rules,
		lifecycle:   lifecycle,
		correlation: correlation,
		scoring:     scoring,
		risks:       risks,
		indicators:  indicators,
		procLog:     procLog,
		log:         log.WithField("component", "pipeline"),
		now:         time.Now,
	}
}

// Run executes one full pass. A second concurrent call fails fast with
// ErrRunInProgress rather than interleaving.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	report := &RunReport{
		Started:         p.now(),
		ConnectorErrors: make(map[string]string),
	}

	batches := p.feeds.SyncAll(ctx)

	var all []domain.Indicator
	touched := make(map[string]*domain.DynamicRisk)

	for _, batch := range batches {
		if batch.Err != nil {
			// Connector failures were already retried and breaker-tracked;
			// here they only annotate the report.
			report.ConnectorErrors[batch.Connector] = batch.Err.Error()
			continue
		}
		all = append(all, batch.Indicators...)

		for _, ind := range batch.Indicators {
			risk, decision, err := p.processIndicator(ctx, batch.Connector, ind)
			if err != nil {
				p.log.WithError(err).WithField("indicator", ind.ID).
					Warn("indicator processing failed")
				continue
			}
			switch decision {
			case "created":
				report.Created++
			case "updated":
				report.Updated++
			default:
				report.Skipped++
			}
			if risk != nil {
				touched[risk.ID] = risk
			}
		}
	}
	report.Synced = len(all)

	if p.indicators != nil && len(all) > 0 {
		if err := p.indicators.SaveBatch(ctx, all); err != nil {
			p.log.WithError(err).Warn("failed to persist indicator batch")
		}
	}

	if p.correlation != nil && len(all) > 0 {
		result, err := p.correlation.Correlate(ctx, all)
		if err != nil {
			p.log.WithError(err).Warn("correlation pass failed")
		} else {
			report.Clusters = len(result.Clusters)
			report.CorrelationRun = result.RunID
		}
	}

	if p.scoring != nil {
		for _, risk := range touched {
			if _, err := p.scoring.Score(ctx, risk); err != nil {
				p.log.WithError(err).WithField("risk", risk.ID).
					Warn("rescore failed")
			}
		}
	}

	report.Finished = p.now()
	p.log.WithFields(logrus.Fields{
		"synced":  report.Synced,
		"created": report.Created,
		"updated": report.Updated,
		"skipped": report.Skipped,
	}).Info("pipeline run complete")

	return report, nil
}

// processIndicator applies the rule set to one indicator and creates or
// merges a risk accordingly. Every outcome is appended to the immutable
// processing log.
func (p *Pipeline) processIndicator(ctx context.Context, connectorID string, ind domain.Indicator) (*domain.DynamicRisk, string, error) {
	decision := p.rules.Evaluate(ind)

	if !decision.CreateRisk {
		p.appendLog(ctx, connectorID, ind.ID, "skipped", decision.RuleID, "", "below rule thresholds")
		metrics.RecordDecision("skipped")
		return nil, "skipped", nil
	}

	existing, err := p.risks.FindByIntelSource(ctx, ind.Source, ind.Value)
	if err != nil {
		return nil, "", fmt.Errorf("risk lookup failed: %w", err)
	}

	if existing != nil {
		changed := existing.Merge(domain.ThreatIntelSource{
			Source:         ind.Source,
			Confidence:     ind.Confidence,
			FirstSeen:      ind.FirstSeen,
			IndicatorType:  ind.Type,
			IndicatorValue: ind.Value,
		}, p.now())

		if !changed {
			p.appendLog(ctx, connectorID, ind.ID, "skipped", decision.RuleID, existing.ID, "already sourced, no confidence gain")
			metrics.RecordDecision("skipped")
			return existing, "skipped", nil
		}

		if err := p.risks.Save(ctx, existing); err != nil {
			return nil, "", fmt.Errorf("risk update failed: %w", err)
		}
		p.appendLog(ctx, connectorID, ind.ID, "updated", decision.RuleID, existing.ID, "merged new sighting")
		metrics.RecordDecision("updated")
		return existing, "updated", nil
	}

	risk, err := p.lifecycle.CreateFromIndicator(ctx, ind)
	if err != nil {
		return nil, "", fmt.Errorf("risk creation failed: %w", err)
	}

	if decision.Priority > 0 {
		risk.Priority = decision.Priority
		if err := p.risks.Save(ctx, risk); err != nil {
			p.log.WithError(err).WithField("risk", risk.ID).Warn("priority assignment failed")
		}
	}
	if decision.AutoPromote && risk.State == domain.StateDetected {
		if err := p.lifecycle.Transition(ctx, risk.ID, domain.StateDraft,
			fmt.Sprintf("auto-promoted by rule %s", decision.RuleID), true, "pipeline"); err != nil {
			p.log.WithError(err).WithField("risk", risk.ID).Warn("rule promotion failed")
		} else {
			risk.State = domain.StateDraft
		}
	}

	p.appendLog(ctx, connectorID, ind.ID, "created", decision.RuleID, risk.ID, "")
	metrics.RecordDecision("created")
	return risk, "created", nil
}

func (p *Pipeline) appendLog(ctx context.Context, connectorID, indicatorID, decision, ruleID, riskID, detail string) {
	if p.procLog == nil {
		return
	}
	entry := ports.ProcessingDecision{
		Connector:   connectorID,
		IndicatorID: indicatorID,
		Decision:    decision,
		RuleID:      ruleID,
		RiskID:      riskID,
		Detail:      detail,
		Timestamp:   p.now(),
	}
	if err := p.procLog.Append(ctx, entry); err != nil {
		p.log.WithError(err).Warn("processing log append failed")
	}
}
