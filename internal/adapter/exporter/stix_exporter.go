package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
)

// STIXExporter exports indicators and correlation clusters in STIX 2.1
// format for SIEM ingestion.
type STIXExporter struct {
	indicators ports.IndicatorRepository
	clusters   ports.ClusterRepository
}

func NewSTIXExporter(indicators ports.IndicatorRepository, clusters ports.ClusterRepository) *STIXExporter {
	return &STIXExporter{indicators: indicators, clusters: clusters}
}

// Export generates a STIX 2.1 bundle of recent indicators.
func (e *STIXExporter) Export(ctx context.Context, since time.Time) (string, error) {
	// Default to last 24 hours if no time specified
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	// Limit to 10000 entries for performance
	indicators, err := e.indicators.FindSince(ctx, since, 10000)
	if err != nil {
		return "", fmt.Errorf("failed to fetch indicators: %w", err)
	}

	bundle := STIXBundle{
		Type:        "bundle",
		ID:          fmt.Sprintf("bundle--%s", uuid.New().String()),
		SpecVersion: "2.1",
		Objects:     []STIXObject{},
	}

	for _, ind := range indicators {
		bundle.Objects = append(bundle.Objects, e.convertToSTIX(ind))
	}

	jsonData, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal STIX bundle: %w", err)
	}

	return string(jsonData), nil
}

// ExportRun generates a bundle for one correlation run: attributed actors as
// threat-actor objects plus the member indicators of each cluster.
func (e *STIXExporter) ExportRun(ctx context.Context, runID string) (string, error) {
	clusters, err := e.clusters.FindByRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch clusters: %w", err)
	}

	bundle := STIXBundle{
		Type:        "bundle",
		ID:          fmt.Sprintf("bundle--%s", uuid.New().String()),
		SpecVersion: "2.1",
		Objects:     []STIXObject{},
	}

	seen := make(map[string]bool)
	for _, cluster := range clusters {
		if cluster.Attribution != nil && cluster.Attribution.Actor != "" && cluster.Attribution.Actor != "unattributed" {
			bundle.Objects = append(bundle.Objects, e.convertActor(cluster))
		}
		for _, memberID := range cluster.MemberIDs {
			if seen[memberID] {
				continue
			}
			seen[memberID] = true

			ind, err := e.indicators.FindByID(ctx, memberID)
			if err != nil {
				return "", fmt.Errorf("failed to fetch cluster member %s: %w", memberID, err)
			}
			if ind == nil {
				continue
			}
			bundle.Objects = append(bundle.Objects, e.convertToSTIX(*ind))
		}
	}

	jsonData, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal STIX bundle: %w", err)
	}

	return string(jsonData), nil
}

func (e *STIXExporter) convertToSTIX(ind domain.Indicator) STIXObject {
	now := time.Now().UTC()

	pattern := e.buildPattern(ind)
	indicatorTypes := e.mapIndicatorTypes(ind)

	externalRefs := []ExternalReference{
		{
			SourceName: ind.Source,
			URL:        e.getSourceURL(ind.Source),
		},
	}

	obj := STIXObject{
		Type:               "indicator",
		SpecVersion:        "2.1",
		ID:                 fmt.Sprintf("indicator--%s", uuid.New().String()),
		Created:            now.Format(time.RFC3339),
		Modified:           now.Format(time.RFC3339),
		Name:               fmt.Sprintf("%s Indicator", strings.ToUpper(string(ind.Type))),
		Pattern:            pattern,
		PatternType:        "stix",
		ValidFrom:          ind.FirstSeen.Format(time.RFC3339),
		IndicatorTypes:     indicatorTypes,
		Confidence:         ind.Confidence,
		Labels:             ind.Tags,
		ExternalReferences: externalRefs,
	}

	if ind.Context.KillChainPhase != "" {
		obj.KillChainPhases = []KillChainPhase{
			{KillChainName: "lockheed-martin-cyber-kill-chain", PhaseName: ind.Context.KillChainPhase},
		}
	}

	return obj
}

func (e *STIXExporter) convertActor(cluster domain.CorrelationCluster) STIXObject {
	now := time.Now().UTC()
	attr := cluster.Attribution

	var labels []string
	if attr.Campaign != "" {
		labels = append(labels, attr.Campaign)
	}

	return STIXObject{
		Type:        "threat-actor",
		SpecVersion: "2.1",
		ID:          fmt.Sprintf("threat-actor--%s", uuid.New().String()),
		Created:     now.Format(time.RFC3339),
		Modified:    now.Format(time.RFC3339),
		Name:        attr.Actor,
		Confidence:  int(attr.Confidence * 100),
		Labels:      labels,
	}
}

func (e *STIXExporter) buildPattern(ind domain.Indicator) string {
	switch ind.Type {
	case domain.IPAddress:
		if strings.Contains(ind.Value, ":") {
			return fmt.Sprintf("[ipv6-addr:value = '%s']", ind.Value)
		}
		return fmt.Sprintf("[ipv4-addr:value = '%s']", ind.Value)
	case domain.Domain:
		return fmt.Sprintf("[domain-name:value = '%s']", ind.Value)
	case domain.URL:
		return fmt.Sprintf("[url:value = '%s']", ind.Value)
	case domain.FileHash:
		hashType := detectHashType(ind.Value)
		return fmt.Sprintf("[file:hashes.'%s' = '%s']", hashType, ind.Value)
	case domain.Email:
		return fmt.Sprintf("[email-addr:value = '%s']", ind.Value)
	case domain.CVE:
		return fmt.Sprintf("[vulnerability:name = '%s']", ind.Value)
	default:
		return fmt.Sprintf("[x-custom:value = '%s']", ind.Value)
	}
}

func (e *STIXExporter) mapIndicatorTypes(ind domain.Indicator) []string {
	types := []string{"malicious-activity"}

	if ind.HasTag("exploited") || ind.HasTag("kev") {
		types = append(types, "exploitation")
	}
	if ind.HasTag("ransomware") || ind.Context.MalwareFamily != "" {
		types = append(types, "malware-activity")
	}
	if ind.Context.ThreatActor != "" {
		types = append(types, "attribution")
	}
	return types
}

func (e *STIXExporter) getSourceURL(source string) string {
	urls := map[string]string{
		"cisa-kev":       "https://www.cisa.gov/known-exploited-vulnerabilities-catalog",
		"nvd":            "https://nvd.nist.gov",
		"alienvault-otx": "https://otx.alienvault.com",
	}

	if url, ok := urls[source]; ok {
		return url
	}
	return ""
}

func detectHashType(hash string) string {
	// Detect hash algorithm by length
	switch len(hash) {
	case 32:
		return "MD5"
	case 40:
		return "SHA-1"
	case 64:
		return "SHA-256"
	default:
		return "SHA-256" // default
	}
}

// STIX 2.1 data structures

type STIXBundle struct {
	Type        string       `json:"type"`
	ID          string       `json:"id"`
	SpecVersion string       `json:"spec_version"`
	Objects     []STIXObject `json:"objects"`
}

type STIXObject struct {
	Type               string              `json:"type"`
	SpecVersion        string              `json:"spec_version"`
	ID                 string              `json:"id"`
	Created            string              `json:"created"`
	Modified           string              `json:"modified"`
	Name               string              `json:"name"`
	Pattern            string              `json:"pattern,omitempty"`
	PatternType        string              `json:"pattern_type,omitempty"`
	ValidFrom          string              `json:"valid_from,omitempty"`
	IndicatorTypes     []string            `json:"indicator_types,omitempty"`
	Confidence         int                 `json:"confidence"`
	Labels             []string            `json:"labels,omitempty"`
	KillChainPhases    []KillChainPhase    `json:"kill_chain_phases,omitempty"`
	ExternalReferences []ExternalReference `json:"external_references,omitempty"`
}

type KillChainPhase struct {
	KillChainName string `json:"kill_chain_name"`
	PhaseName     string `json:"phase_name"`
}

type ExternalReference struct {
	SourceName string `json:"source_name"`
	URL        string `json:"url,omitempty"`
}
