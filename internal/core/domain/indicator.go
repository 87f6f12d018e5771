package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type IndicatorType string

const (
	IPAddress IndicatorType = "ip"
	Domain    IndicatorType = "domain"
	URL       IndicatorType = "url"
	FileHash  IndicatorType = "hash"
	Email     IndicatorType = "email"
	CVE       IndicatorType = "cve"
	YaraRule  IndicatorType = "yara"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank maps a severity onto the 1-4 scale used by cluster risk levels.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// SourceReliability follows the NATO admiralty A-F scale.
type SourceReliability string

const (
	ReliabilityA SourceReliability = "A" // completely reliable
	ReliabilityB SourceReliability = "B"
	ReliabilityC SourceReliability = "C"
	ReliabilityD SourceReliability = "D"
	ReliabilityE SourceReliability = "E"
	ReliabilityF SourceReliability = "F" // cannot be judged
)

// Score converts the admiralty letter to a 0-1 weight for scoring.
func (r SourceReliability) Score() float64 {
	switch r {
	case ReliabilityA:
		return 1.0
	case ReliabilityB:
		return 0.85
	case ReliabilityC:
		return 0.7
	case ReliabilityD:
		return 0.5
	case ReliabilityE:
		return 0.3
	default:
		return 0.2
	}
}

// IndicatorContext carries campaign/actor/technique hints attached by a feed.
// Fields are optional; an empty context is valid.
type IndicatorContext struct {
	MalwareFamily  string  `json:"malware_family,omitempty"`
	ThreatActor    string  `json:"threat_actor,omitempty"`
	Campaign       string  `json:"campaign,omitempty"`
	KillChainPhase string  `json:"kill_chain_phase,omitempty"`
	MitreTechnique string  `json:"mitre_technique,omitempty"`
	CVSS           float64 `json:"cvss,omitempty"`
	EPSS           float64 `json:"epss,omitempty"`
}

// BehaviorSignature derives the grouping key used by behavioral clustering:
// the declared attack technique concatenated with the kill-chain phase.
// Empty when neither hint is present.
func (c IndicatorContext) BehaviorSignature() string {
	if c.MitreTechnique == "" && c.KillChainPhase == "" {
		return ""
	}
	return c.MitreTechnique + "|" + c.KillChainPhase
}

type Indicator struct {
	ID          string            `json:"id"`
	Type        IndicatorType     `json:"type"`
	Value       string            `json:"value"`
	Confidence  int               `json:"confidence"` // 0-100
	Severity    Severity          `json:"severity"`
	Source      string            `json:"source"`
	Reliability SourceReliability `json:"source_reliability"`
	FirstSeen   time.Time         `json:"first_seen"`
	LastSeen    time.Time         `json:"last_seen"`
	Tags        []string          `json:"tags,omitempty"`
	Context     IndicatorContext  `json:"context"`
	Description string            `json:"description,omitempty"`
}

// IndicatorID derives the stable identifier for an indicator. The hash is
// deterministic over (source, type, value) so that re-fetching the same
// observable from the same feed always maps to the same record.
func IndicatorID(source string, t IndicatorType, value string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", source, t, value)))
	return hex.EncodeToString(sum[:16])
}

// NormalizeConfidence clamps a confidence on the 0-100 scale. Callers on a
// 0-1 scale must convert before calling: 1 is a valid lowest-band value on
// the 0-100 scale (STIX uses it), so no ratio guessing happens here.
func NormalizeConfidence(c float64) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return int(c)
}

// Finalize fills derived and defaulted fields in place: the deterministic ID,
// normalized value, and first_seen/last_seen backfill. The current time is
// passed in so callers control the clock.
func (i *Indicator) Finalize(now time.Time) {
	i.Value = NormalizeValue(i.Value, i.Type)
	i.ID = IndicatorID(i.Source, i.Type, i.Value)
	if i.FirstSeen.IsZero() {
		i.FirstSeen = now
	}
	if i.LastSeen.IsZero() {
		i.LastSeen = i.FirstSeen
	}
	if i.LastSeen.Before(i.FirstSeen) {
		i.LastSeen = i.FirstSeen
	}
	if i.Severity == "" {
		i.Severity = SeverityMedium
	}
	if i.Reliability == "" {
		i.Reliability = ReliabilityF
	}
}

// HasTag reports whether the indicator carries the given tag.
func (i *Indicator) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
