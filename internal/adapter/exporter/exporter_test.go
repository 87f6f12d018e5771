package exporter

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hive-corporation/riskwatch/internal/adapter/repository"
	"github.com/hive-corporation/riskwatch/internal/core/domain"
)

func seedIndicators(t *testing.T, repo *repository.MemoryIndicatorRepository, indicators ...domain.Indicator) {
	t.Helper()
	if err := repo.SaveBatch(context.Background(), indicators); err != nil {
		t.Fatal(err)
	}
}

func sampleIndicator(id, value string, typ domain.IndicatorType) domain.Indicator {
	return domain.Indicator{
		ID:          id,
		Type:        typ,
		Value:       value,
		Confidence:  90,
		Severity:    domain.SeverityHigh,
		Source:      "cisa-kev",
		Reliability: domain.ReliabilityA,
		Tags:        []string{"kev", "exploited"},
		FirstSeen:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		LastSeen:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFormatCEF(t *testing.T) {
	e := NewCEFExporter(nil)

	ind := sampleIndicator("ind-1", "198.51.100.7", domain.IPAddress)
	ind.Context.ThreatActor = "APT-EXAMPLE"

	line := e.formatCEF(ind)

	if !strings.HasPrefix(line, "CEF:0|Riskwatch|ThreatIntel|1.0|ip|IP Indicator Detected|8|") {
		t.Errorf("header = %s", line)
	}
	for _, want := range []string{
		"src=198.51.100.7",
		"cn1Label=ConfidenceScore", "cn1=90",
		"cs1Label=Source", "cs1=cisa-kev",
		"cs2=A",
		"cs3=kev,exploited",
		"cs4Label=ThreatActor", "cs4=APT-EXAMPLE",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line missing %q: %s", want, line)
		}
	}
	// rt is epoch millis of first seen
	if !strings.Contains(line, "rt=1769904000000") {
		t.Errorf("line missing rt extension: %s", line)
	}
}

func TestFormatCEFEscapesValues(t *testing.T) {
	e := NewCEFExporter(nil)

	ind := sampleIndicator("ind-1", "a|b=c\\d", domain.Domain)
	line := e.formatCEF(ind)

	if !strings.Contains(line, `src=a\|b\=c\\d`) {
		t.Errorf("special characters not escaped: %s", line)
	}
}

func TestCEFSeverity(t *testing.T) {
	tests := []struct {
		severity   domain.Severity
		confidence int
		want       int
	}{
		{domain.SeverityCritical, 10, 10},
		{domain.SeverityHigh, 10, 8},
		{domain.SeverityMedium, 85, 6},
		{domain.SeverityMedium, 50, 5},
		{domain.SeverityLow, 85, 4},
		{domain.SeverityLow, 50, 2},
	}
	for _, tt := range tests {
		if got := cefSeverity(tt.severity, tt.confidence); got != tt.want {
			t.Errorf("cefSeverity(%s, %d) = %d, want %d", tt.severity, tt.confidence, got, tt.want)
		}
	}
}

func TestCEFExport(t *testing.T) {
	repo := repository.NewMemoryIndicatorRepository()
	seedIndicators(t, repo,
		sampleIndicator("ind-1", "198.51.100.7", domain.IPAddress),
		sampleIndicator("ind-2", "evil.example.com", domain.Domain),
	)

	out, err := NewCEFExporter(repo).Export(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "CEF:0|") {
			t.Errorf("malformed line: %s", line)
		}
	}
}

func TestBuildPattern(t *testing.T) {
	e := NewSTIXExporter(nil, nil)

	tests := []struct {
		typ   domain.IndicatorType
		value string
		want  string
	}{
		{domain.IPAddress, "198.51.100.7", "[ipv4-addr:value = '198.51.100.7']"},
		{domain.IPAddress, "2001:db8::1", "[ipv6-addr:value = '2001:db8::1']"},
		{domain.Domain, "evil.example.com", "[domain-name:value = 'evil.example.com']"},
		{domain.URL, "https://evil.example.com/x", "[url:value = 'https://evil.example.com/x']"},
		{domain.FileHash, "912ec803b2ce49e4a541068d495ab570", "[file:hashes.'MD5' = '912ec803b2ce49e4a541068d495ab570']"},
		{domain.FileHash, strings.Repeat("a", 64), "[file:hashes.'SHA-256' = '" + strings.Repeat("a", 64) + "']"},
		{domain.Email, "phish@evil.example.com", "[email-addr:value = 'phish@evil.example.com']"},
		{domain.CVE, "CVE-2026-1111", "[vulnerability:name = 'CVE-2026-1111']"},
		{domain.YaraRule, "rule x {}", "[x-custom:value = 'rule x {}']"},
	}
	for _, tt := range tests {
		got := e.buildPattern(domain.Indicator{Type: tt.typ, Value: tt.value})
		if got != tt.want {
			t.Errorf("buildPattern(%s, %s) = %s, want %s", tt.typ, tt.value, got, tt.want)
		}
	}
}

func TestSTIXExportBundle(t *testing.T) {
	repo := repository.NewMemoryIndicatorRepository()
	ind := sampleIndicator("ind-1", "198.51.100.7", domain.IPAddress)
	ind.Context.KillChainPhase = "command-and-control"
	seedIndicators(t, repo, ind)

	out, err := NewSTIXExporter(repo, nil).Export(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	var bundle STIXBundle
	if err := json.Unmarshal([]byte(out), &bundle); err != nil {
		t.Fatalf("bundle is not valid json: %v", err)
	}
	if bundle.Type != "bundle" || bundle.SpecVersion != "2.1" {
		t.Errorf("bundle envelope = %s %s", bundle.Type, bundle.SpecVersion)
	}
	if len(bundle.Objects) != 1 {
		t.Fatalf("got %d objects, want 1", len(bundle.Objects))
	}

	obj := bundle.Objects[0]
	if obj.Type != "indicator" || obj.PatternType != "stix" {
		t.Errorf("object = %s %s", obj.Type, obj.PatternType)
	}
	if obj.Pattern != "[ipv4-addr:value = '198.51.100.7']" {
		t.Errorf("pattern = %s", obj.Pattern)
	}
	if len(obj.KillChainPhases) != 1 || obj.KillChainPhases[0].PhaseName != "command-and-control" {
		t.Errorf("kill chain phases = %+v", obj.KillChainPhases)
	}
	wantTypes := []string{"malicious-activity", "exploitation"}
	if len(obj.IndicatorTypes) != len(wantTypes) {
		t.Fatalf("indicator types = %v, want %v", obj.IndicatorTypes, wantTypes)
	}
	for i, typ := range wantTypes {
		if obj.IndicatorTypes[i] != typ {
			t.Errorf("indicator types = %v, want %v", obj.IndicatorTypes, wantTypes)
		}
	}
}

func TestSTIXExportRun(t *testing.T) {
	ctx := context.Background()
	indicators := repository.NewMemoryIndicatorRepository()
	clusters := repository.NewMemoryClusterRepository()

	seedIndicators(t, indicators,
		sampleIndicator("ind-1", "198.51.100.7", domain.IPAddress),
		sampleIndicator("ind-2", "198.51.100.8", domain.IPAddress),
	)
	runClusters := []domain.CorrelationCluster{
		{
			ID:        "cluster-1",
			RunID:     "run-1",
			MemberIDs: []string{"ind-1", "ind-2"},
			Attribution: &domain.ThreatAttribution{
				Actor:      "APT-EXAMPLE",
				Campaign:   "OpExample",
				Confidence: 0.8,
			},
		},
		{
			ID:        "cluster-2",
			RunID:     "run-1",
			MemberIDs: []string{"ind-2", "ind-missing"},
			Attribution: &domain.ThreatAttribution{
				Actor: "unattributed",
			},
		},
	}
	if err := clusters.SaveRun(ctx, "run-1", runClusters); err != nil {
		t.Fatal(err)
	}

	out, err := NewSTIXExporter(indicators, clusters).ExportRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}

	var bundle STIXBundle
	if err := json.Unmarshal([]byte(out), &bundle); err != nil {
		t.Fatalf("bundle is not valid json: %v", err)
	}

	var actors, inds int
	for _, obj := range bundle.Objects {
		switch obj.Type {
		case "threat-actor":
			actors++
			if obj.Name != "APT-EXAMPLE" || obj.Confidence != 80 {
				t.Errorf("actor object = %+v", obj)
			}
			if len(obj.Labels) != 1 || obj.Labels[0] != "OpExample" {
				t.Errorf("actor labels = %v", obj.Labels)
			}
		case "indicator":
			inds++
		}
	}
	if actors != 1 {
		t.Errorf("got %d threat-actor objects, want 1 (unattributed skipped)", actors)
	}
	// ind-2 shared across clusters is deduped; ind-missing is absent
	if inds != 2 {
		t.Errorf("got %d indicator objects, want 2", inds)
	}
}
