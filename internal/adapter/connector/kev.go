package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
)

const kevCatalogURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

// KEVSource ingests the CISA Known Exploited Vulnerabilities catalog.
// KEV is a pre-approved high-trust source: risks created from it qualify for
// auto-promotion at a lower confidence floor.
type KEVSource struct {
	client *http.Client
	url    string
	now    func() time.Time
}

func NewKEVSource(client *http.Client) *KEVSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &KEVSource{client: client, url: kevCatalogURL, now: time.Now}
}

func (s *KEVSource) Name() string {
	return "cisa-kev"
}

func (s *KEVSource) FetchRaw(ctx context.Context) ([]byte, error) {
	return fetchURL(ctx, s.client, s.url, nil)
}

type kevCatalog struct {
	CatalogVersion  string     `json:"catalogVersion"`
	Vulnerabilities []kevEntry `json:"vulnerabilities"`
}

type kevEntry struct {
	CVEID                      string `json:"cveID"`
	VendorProject              string `json:"vendorProject"`
	Product                    string `json:"product"`
	VulnerabilityName          string `json:"vulnerabilityName"`
	DateAdded                  string `json:"dateAdded"`
	ShortDescription           string `json:"shortDescription"`
	KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
	DueDate                    string `json:"dueDate"`
}

func (s *KEVSource) Parse(raw []byte) ([]domain.Indicator, error) {
	var catalog kevCatalog
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("failed to decode KEV catalog: %w", err)
	}

	now := s.now()
	indicators := make([]domain.Indicator, 0, len(catalog.Vulnerabilities))

	for _, entry := range catalog.Vulnerabilities {
		if entry.CVEID == "" {
			continue
		}

		added, _ := time.Parse("2006-01-02", entry.DateAdded)
		age := now.Sub(added)
		ransomware := strings.EqualFold(entry.KnownRansomwareCampaignUse, "Known")

		// Actively exploited is a strong baseline; ransomware use and
		// recency push it higher.
		confidence := 85
		if ransomware {
			confidence += 10
		}
		if !added.IsZero() && age <= 30*24*time.Hour {
			confidence += 5
		}
		if confidence > 100 {
			confidence = 100
		}

		severity := domain.SeverityHigh
		if ransomware || (!added.IsZero() && age <= 7*24*time.Hour) {
			severity = domain.SeverityCritical
		}

		tags := []string{"kev", "exploited"}
		if ransomware {
			tags = append(tags, "ransomware")
		}

		indicators = append(indicators, domain.Indicator{
			Type:        domain.CVE,
			Value:       entry.CVEID,
			Confidence:  confidence,
			Severity:    severity,
			Source:      s.Name(),
			Reliability: domain.ReliabilityA,
			FirstSeen:   added,
			Tags:        tags,
			Context: domain.IndicatorContext{
				MalwareFamily: ransomwareFamily(ransomware),
			},
			Description: fmt.Sprintf("%s %s: %s", entry.VendorProject, entry.Product, entry.VulnerabilityName),
		})
	}

	return indicators, nil
}

func ransomwareFamily(known bool) string {
	if known {
		return "ransomware"
	}
	return ""
}
