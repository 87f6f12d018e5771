package connector

import (
	"context"
	"testing"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
)

func TestNVDParsePrefersCVSSv31(t *testing.T) {
	raw := []byte(`{
		"totalResults": 1,
		"vulnerabilities": [{
			"cve": {
				"id": "CVE-2026-2222",
				"published": "2026-02-20T10:00:00.000",
				"lastModified": "2026-02-25T10:00:00.000",
				"descriptions": [
					{"lang": "es", "value": "descripcion"},
					{"lang": "en", "value": "heap overflow in widget"}
				],
				"metrics": {
					"cvssMetricV31": [{"cvssData": {"baseScore": 9.8, "baseSeverity": "CRITICAL"}}],
					"cvssMetricV2": [{"cvssData": {"baseScore": 7.5}, "baseSeverity": "HIGH"}]
				}
			}
		}]
	}`)

	s := NewNVDSource(nil, "")
	indicators, err := s.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(indicators) != 1 {
		t.Fatalf("got %d indicators, want 1", len(indicators))
	}

	ind := indicators[0]
	if ind.Type != domain.CVE || ind.Value != "CVE-2026-2222" {
		t.Errorf("indicator = %s %s", ind.Type, ind.Value)
	}
	if ind.Confidence != 98 {
		t.Errorf("confidence = %d, want 98 (cvss 9.8 scaled)", ind.Confidence)
	}
	if ind.Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want critical", ind.Severity)
	}
	if ind.Context.CVSS != 9.8 {
		t.Errorf("cvss = %v, want 9.8", ind.Context.CVSS)
	}
	if ind.Description != "heap overflow in widget" {
		t.Errorf("description = %q, want english text", ind.Description)
	}
}

func TestNVDParseCVSSv2Fallback(t *testing.T) {
	raw := []byte(`{
		"totalResults": 1,
		"vulnerabilities": [{
			"cve": {
				"id": "CVE-2015-0001",
				"metrics": {
					"cvssMetricV2": [{"cvssData": {"baseScore": 9.3}}]
				}
			}
		}]
	}`)

	s := NewNVDSource(nil, "")
	indicators, err := s.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	// v2 carries no critical label; score >= 9 maps there
	if indicators[0].Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want critical from score fallback", indicators[0].Severity)
	}
	if indicators[0].Confidence != 93 {
		t.Errorf("confidence = %d, want 93", indicators[0].Confidence)
	}
}

func TestNVDPageDelayByKeyTier(t *testing.T) {
	withKey := NewNVDSource(nil, "some-key")
	without := NewNVDSource(nil, "")
	if withKey.pageDelay() >= without.pageDelay() {
		t.Errorf("keyed tier should page faster: %v vs %v", withKey.pageDelay(), without.pageDelay())
	}
}

func TestOTXParseMapsTypesAndContext(t *testing.T) {
	raw := []byte(`{
		"results": [{
			"name": "OpExample wave 3",
			"adversary": "APT-EXAMPLE",
			"malware_families": ["EvilRAT"],
			"attack_ids": ["T1566"],
			"tags": ["phishing"],
			"indicators": [
				{"indicator": "evil.example.com", "type": "domain", "created": "2026-02-01T00:00:00Z"},
				{"indicator": "198.51.100.7", "type": "IPv4"},
				{"indicator": "mutex-name", "type": "Mutex"}
			]
		}]
	}`)

	s := NewOTXSource(nil, "key")
	indicators, err := s.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(indicators) != 2 {
		t.Fatalf("got %d indicators, want 2 (unsupported Mutex type skipped)", len(indicators))
	}

	ind := indicators[0]
	if ind.Type != domain.Domain || ind.Value != "evil.example.com" {
		t.Errorf("indicator = %s %s", ind.Type, ind.Value)
	}
	if ind.Context.ThreatActor != "APT-EXAMPLE" {
		t.Errorf("threat actor = %q", ind.Context.ThreatActor)
	}
	if ind.Context.MalwareFamily != "EvilRAT" {
		t.Errorf("malware family = %q", ind.Context.MalwareFamily)
	}
	if ind.Context.MitreTechnique != "T1566" {
		t.Errorf("mitre technique = %q", ind.Context.MitreTechnique)
	}
	if !ind.HasTag("phishing") {
		t.Errorf("tags = %v", ind.Tags)
	}
	if indicators[1].Type != domain.IPAddress {
		t.Errorf("second indicator type = %s, want ip", indicators[1].Type)
	}
}

func TestOTXFetchRequiresAPIKey(t *testing.T) {
	s := NewOTXSource(nil, "")
	if _, err := s.FetchRaw(context.Background()); err == nil {
		t.Error("expected error without api key")
	}
}

func TestBlocklistParse(t *testing.T) {
	raw := []byte(`# Feodo Tracker style feed
// another comment style

198.51.100.7
198.51.100.8:447
203.0.113.9 # inline note
garbage-without-dots
`)

	s := NewBlocklistSource(nil, "feodo", "https://feeds.example.com/ips.txt", []string{"botnet", "c2"}, domain.SeverityHigh)
	indicators, err := s.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(indicators) != 3 {
		t.Fatalf("got %d indicators, want 3", len(indicators))
	}

	want := []string{"198.51.100.7", "198.51.100.8", "203.0.113.9"}
	for i, ind := range indicators {
		if ind.Value != want[i] {
			t.Errorf("indicator[%d] = %s, want %s", i, ind.Value, want[i])
		}
		if ind.Type != domain.IPAddress || ind.Severity != domain.SeverityHigh {
			t.Errorf("indicator[%d] = %s %s", i, ind.Type, ind.Severity)
		}
		if !ind.HasTag("botnet") {
			t.Errorf("indicator[%d] tags = %v", i, ind.Tags)
		}
	}
}
