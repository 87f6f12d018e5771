package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     DynamicState
		to       DynamicState
		expected bool
	}{
		{"Detected to draft", StateDetected, StateDraft, true},
		{"Detected to retired", StateDetected, StateRetired, true},
		{"Detected to active skips states", StateDetected, StateActive, false},
		{"Detected to validated skips draft", StateDetected, StateValidated, false},
		{"Draft to validated", StateDraft, StateValidated, true},
		{"Draft to retired", StateDraft, StateRetired, true},
		{"Draft to active skips validation", StateDraft, StateActive, false},
		{"Validated to active", StateValidated, StateActive, true},
		{"Validated to retired not allowed", StateValidated, StateRetired, false},
		{"Active to retired", StateActive, StateRetired, true},
		{"Retired is terminal", StateRetired, StateDetected, false},
		{"Retired to active", StateRetired, StateActive, false},
		{"No self transition", StateDraft, StateDraft, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CanTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestMergeAppendsNewSource(t *testing.T) {
	now := time.Now()
	risk := RiskFromIndicator("risk-1", Indicator{
		Type:       Domain,
		Value:      "evil.example.com",
		Source:     "alienvault-otx",
		Confidence: 60,
	}, now)

	changed := risk.Merge(ThreatIntelSource{
		Source:         "cisa-kev",
		Confidence:     50,
		IndicatorType:  Domain,
		IndicatorValue: "evil.example.com",
	}, now.Add(time.Minute))

	if !changed {
		t.Fatal("new source should change the risk")
	}
	if len(risk.IntelSources) != 2 {
		t.Errorf("expected 2 intel sources, got %d", len(risk.IntelSources))
	}
	// 50 < 60: confidence must not be lowered
	if risk.ConfidenceScore != 0.60 {
		t.Errorf("confidence lowered to %v", risk.ConfidenceScore)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	now := time.Now()
	risk := RiskFromIndicator("risk-1", Indicator{
		Type:       Domain,
		Value:      "evil.example.com",
		Source:     "alienvault-otx",
		Confidence: 60,
	}, now)

	src := ThreatIntelSource{
		Source:         "alienvault-otx",
		Confidence:     60,
		IndicatorType:  Domain,
		IndicatorValue: "evil.example.com",
	}

	if changed := risk.Merge(src, now.Add(time.Minute)); changed {
		t.Error("re-merging an identical sighting should be a no-op")
	}
	if len(risk.IntelSources) != 1 {
		t.Errorf("duplicate sighting appended, %d sources", len(risk.IntelSources))
	}
}

func TestMergeRaisesConfidence(t *testing.T) {
	now := time.Now()
	risk := RiskFromIndicator("risk-1", Indicator{
		Type:       IPAddress,
		Value:      "192.0.2.10",
		Source:     "blocklist",
		Confidence: 55,
	}, now)

	changed := risk.Merge(ThreatIntelSource{
		Source:         "alienvault-otx",
		Confidence:     90,
		IndicatorType:  IPAddress,
		IndicatorValue: "192.0.2.10",
	}, now.Add(time.Minute))

	if !changed {
		t.Fatal("higher-confidence sighting should change the risk")
	}
	if risk.ConfidenceScore != 0.90 {
		t.Errorf("confidence = %v, want 0.90", risk.ConfidenceScore)
	}
}

func TestRiskFromIndicator(t *testing.T) {
	now := time.Now()
	ind := Indicator{
		Type:       CVE,
		Value:      "CVE-2024-1234",
		Source:     "cisa-kev",
		Confidence: 95,
		Severity:   SeverityCritical,
	}

	risk := RiskFromIndicator("risk-1", ind, now)

	if risk.State != StateDetected {
		t.Errorf("new risk state = %s, want detected", risk.State)
	}
	if risk.Probability != 5 {
		t.Errorf("probability = %d, want 5 for confidence 95", risk.Probability)
	}
	if risk.Impact != 5 {
		t.Errorf("impact = %d, want 5 for critical severity", risk.Impact)
	}
	if len(risk.IntelSources) != 1 || risk.IntelSources[0].Source != "cisa-kev" {
		t.Error("risk should carry its originating sighting")
	}
	if !risk.SourcedFrom("cisa-kev", "CVE-2024-1234") {
		t.Error("SourcedFrom should find the originating sighting")
	}
}
