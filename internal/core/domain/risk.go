package domain

import (
	"errors"
	"fmt"
	"time"
)

// DynamicState is the lifecycle state of an intelligence-driven risk.
type DynamicState string

const (
	StateDetected  DynamicState = "Detected"
	StateDraft     DynamicState = "Draft"
	StateValidated DynamicState = "Validated"
	StateActive    DynamicState = "Active"
	StateRetired   DynamicState = "Retired"
)

// ErrInvalidTransition is returned when a requested state change is not an
// edge of the lifecycle graph. It is caller-visible and never coerced.
var ErrInvalidTransition = errors.New("invalid risk state transition")

// allowedTransitions is the full edge set of the lifecycle graph. Retired is
// terminal: it has no outgoing edges.
var allowedTransitions = map[DynamicState][]DynamicState{
	StateDetected:  {StateDraft, StateRetired},
	StateDraft:     {StateValidated, StateRetired},
	StateValidated: {StateActive},
	StateActive:    {StateRetired},
	StateRetired:   {},
}

// CanTransition reports whether (from, to) is an allowed lifecycle edge.
func CanTransition(from, to DynamicState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateTransition is one immutable entry of a risk's audit trail.
type StateTransition struct {
	ID        string       `json:"id"`
	RiskID    string       `json:"risk_id"`
	From      DynamicState `json:"from"`
	To        DynamicState `json:"to"`
	Reason    string       `json:"reason"`
	Automated bool         `json:"automated"`
	Actor     string       `json:"actor"`
	Timestamp time.Time    `json:"timestamp"`
}

// ThreatIntelSource is one attribution of a risk to a feed sighting.
// Merging a re-sighted indicator appends a new record; existing records are
// never overwritten.
type ThreatIntelSource struct {
	Source         string        `json:"source"`
	Confidence     int           `json:"confidence"`
	FirstSeen      time.Time     `json:"first_seen"`
	IndicatorType  IndicatorType `json:"indicator_type"`
	IndicatorValue string        `json:"indicator_value"`
}

type DynamicRisk struct {
	ID              string              `json:"id"`
	Title           string              `json:"title"`
	Description     string              `json:"description,omitempty"`
	State           DynamicState        `json:"dynamic_state"`
	ConfidenceScore float64             `json:"confidence_score"` // 0-1
	Probability     int                 `json:"probability"`      // 1-5
	Impact          int                 `json:"impact"`           // 1-5
	Priority        int                 `json:"priority,omitempty"`
	IntelSources    []ThreatIntelSource `json:"threat_intel_sources"`
	Tags            []string            `json:"tags,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// SourcedFrom reports whether the risk already carries a sighting from the
// given (source, indicator value) pair. Used by the pipeline to dedup.
func (r *DynamicRisk) SourcedFrom(source, value string) bool {
	for _, s := range r.IntelSources {
		if s.Source == source && s.IndicatorValue == value {
			return true
		}
	}
	return false
}

// Merge folds a new sighting of the same threat into the risk. Confidence is
// only ever raised, and the sighting is appended to the source list; nothing
// is silently overwritten. Returns true if anything changed.
func (r *DynamicRisk) Merge(src ThreatIntelSource, now time.Time) bool {
	changed := false

	if !r.SourcedFrom(src.Source, src.IndicatorValue) {
		r.IntelSources = append(r.IntelSources, src)
		changed = true
	}

	if c := float64(src.Confidence) / 100.0; c > r.ConfidenceScore {
		r.ConfidenceScore = c
		changed = true
	}

	if changed {
		r.UpdatedAt = now
	}
	return changed
}

// RiskFromIndicator builds a fresh risk record in the Detected state.
func RiskFromIndicator(id string, ind Indicator, now time.Time) *DynamicRisk {
	return &DynamicRisk{
		ID:              id,
		Title:           fmt.Sprintf("Threat intel: %s %s", ind.Type, ind.Value),
		Description:     ind.Description,
		State:           StateDetected,
		ConfidenceScore: float64(ind.Confidence) / 100.0,
		Probability:     probabilityFromConfidence(ind.Confidence),
		Impact:          impactFromSeverity(ind.Severity),
		IntelSources: []ThreatIntelSource{{
			Source:         ind.Source,
			Confidence:     ind.Confidence,
			FirstSeen:      ind.FirstSeen,
			IndicatorType:  ind.Type,
			IndicatorValue: ind.Value,
		}},
		Tags:      ind.Tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func probabilityFromConfidence(confidence int) int {
	switch {
	case confidence >= 90:
		return 5
	case confidence >= 75:
		return 4
	case confidence >= 50:
		return 3
	case confidence >= 25:
		return 2
	default:
		return 1
	}
}

func impactFromSeverity(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	default:
		return 2
	}
}
