package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
	"github.com/hive-corporation/riskwatch/internal/metrics"
)

// Auto-promotion thresholds: Detected -> Draft happens on its own at the
// general floor, or at the lower floor for pre-approved high-trust sources.
const (
	autoPromoteFloor      = 0.8
	autoPromoteTrustFloor = 0.7
)

// Lifecycle owns the canonical risk lifecycle: creation, validated state
// transitions, and the immutable audit trail. Transitions are serialized per
// risk id so two concurrent requests cannot race past validation.
type Lifecycle struct {
	risks        ports.RiskRepository
	notifier     ports.Notifier
	trustedFeeds map[string]bool
	log          *logrus.Entry
	now          func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLifecycle(risks ports.RiskRepository, notifier ports.Notifier, trustedFeeds []string, log *logrus.Logger) *Lifecycle {
	trusted := make(map[string]bool, len(trustedFeeds))
	for _, f := range trustedFeeds {
		trusted[f] = true
	}
	return &Lifecycle{
		risks:        risks,
		notifier:     notifier,
		trustedFeeds: trusted,
		log:          log.WithField("component", "lifecycle"),
		now:          time.Now,
	}
}

// riskLock returns the per-risk mutex, creating it on first use.
func (l *Lifecycle) riskLock(riskID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	if _, ok := l.locks[riskID]; !ok {
		l.locks[riskID] = &sync.Mutex{}
	}
	return l.locks[riskID]
}

// CreateFromIndicator creates a Detected risk from an indicator, records the
// creation in the audit trail, and auto-promotes to Draft when the confidence
// clears the applicable floor.
func (l *Lifecycle) CreateFromIndicator(ctx context.Context, ind domain.Indicator) (*domain.DynamicRisk, error) {
	now := l.now()
	risk := domain.RiskFromIndicator(uuid.New().String(), ind, now)

	if err := l.risks.Save(ctx, risk); err != nil {
		return nil, fmt.Errorf("failed to save risk: %w", err)
	}

	// Creation is audited as the entry edge into Detected.
	if err := l.risks.AppendTransition(ctx, domain.StateTransition{
		ID:        uuid.New().String(),
		RiskID:    risk.ID,
		From:      "",
		To:        domain.StateDetected,
		Reason:    fmt.Sprintf("created from %s indicator %s", ind.Source, ind.Value),
		Automated: true,
		Actor:     "pipeline",
		Timestamp: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to record creation: %w", err)
	}

	l.notifyCreated(risk)

	if l.shouldAutoPromote(risk, ind.Source) {
		if err := l.Transition(ctx, risk.ID, domain.StateDraft,
			"auto-promoted on confidence threshold", true, "pipeline"); err != nil {
			// Promotion failure leaves a valid Detected risk behind.
			l.log.WithError(err).WithField("risk", risk.ID).Warn("auto-promotion failed")
		} else {
			risk.State = domain.StateDraft
			l.notifyPromoted(risk)
		}
	}

	return risk, nil
}

func (l *Lifecycle) shouldAutoPromote(risk *domain.DynamicRisk, source string) bool {
	if risk.ConfidenceScore >= autoPromoteFloor {
		return true
	}
	return l.trustedFeeds[source] && risk.ConfidenceScore >= autoPromoteTrustFloor
}

// Transition moves a risk along one lifecycle edge. An edge outside the
// state graph fails with domain.ErrInvalidTransition; the failure is
// synchronous and never coerced into a valid state.
func (l *Lifecycle) Transition(ctx context.Context, riskID string, to domain.DynamicState, reason string, automated bool, actor string) error {
	lock := l.riskLock(riskID)
	lock.Lock()
	defer lock.Unlock()

	risk, err := l.risks.FindByID(ctx, riskID)
	if err != nil {
		return err
	}
	if risk == nil {
		return fmt.Errorf("risk %s not found", riskID)
	}

	from := risk.State
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	now := l.now()
	risk.State = to
	risk.UpdatedAt = now
	if err := l.risks.Save(ctx, risk); err != nil {
		return fmt.Errorf("failed to save risk: %w", err)
	}

	if err := l.risks.AppendTransition(ctx, domain.StateTransition{
		ID:        uuid.New().String(),
		RiskID:    riskID,
		From:      from,
		To:        to,
		Reason:    reason,
		Automated: automated,
		Actor:     actor,
		Timestamp: now,
	}); err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}

	metrics.RecordTransition(string(from), string(to), automated)
	l.log.WithFields(logrus.Fields{
		"risk": riskID, "from": from, "to": to, "automated": automated,
	}).Info("risk transitioned")

	return nil
}

func (l *Lifecycle) notifyCreated(risk *domain.DynamicRisk) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.NotifyRiskCreated(riskNotification(risk)); err != nil {
		l.log.WithError(err).Warn("risk-created notification failed")
	}
}

func (l *Lifecycle) notifyPromoted(risk *domain.DynamicRisk) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.NotifyRiskPromoted(riskNotification(risk)); err != nil {
		l.log.WithError(err).Warn("risk-promoted notification failed")
	}
}

func riskNotification(risk *domain.DynamicRisk) ports.RiskNotification {
	sources := make([]string, 0, len(risk.IntelSources))
	for _, s := range risk.IntelSources {
		sources = append(sources, s.Source)
	}
	return ports.RiskNotification{
		RiskID:     risk.ID,
		Title:      risk.Title,
		State:      string(risk.State),
		Confidence: risk.ConfidenceScore,
		Sources:    sources,
		Tags:       risk.Tags,
	}
}
