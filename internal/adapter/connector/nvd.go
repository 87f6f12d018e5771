package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
)

const (
	nvdBaseURL   = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	nvdPageSize  = 2000
	nvdModWindow = 7 * 24 * time.Hour
	nvdMaxPages  = 20
)

var nvdJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// NVDSource ingests the NVD CVE API 2.0, paginating with resultsPerPage and
// startIndex over a lastModStartDate/lastModEndDate window. NVD enforces
// 5 req/s without an API key and 50 req/s with one; the source paces page
// requests accordingly.
type NVDSource struct {
	client *http.Client
	base   string
	apiKey string
	now    func() time.Time
}

func NewNVDSource(client *http.Client, apiKey string) *NVDSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &NVDSource{client: client, base: nvdBaseURL, apiKey: apiKey, now: time.Now}
}

func (s *NVDSource) Name() string {
	return "nvd"
}

// pageDelay is the inter-page pause derived from the NVD rate-limit tier.
func (s *NVDSource) pageDelay() time.Duration {
	if s.apiKey != "" {
		return 20 * time.Millisecond // 50 req/s
	}
	return 200 * time.Millisecond // 5 req/s
}

type nvdPage struct {
	ResultsPerPage  int       `json:"resultsPerPage"`
	StartIndex      int       `json:"startIndex"`
	TotalResults    int       `json:"totalResults"`
	Vulnerabilities []nvdVuln `json:"vulnerabilities"`
}

type nvdVuln struct {
	CVE nvdCVE `json:"cve"`
}

type nvdCVE struct {
	ID           string `json:"id"`
	Published    string `json:"published"`
	LastModified string `json:"lastModified"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		CVSSMetricV31 []nvdMetric `json:"cvssMetricV31"`
		CVSSMetricV30 []nvdMetric `json:"cvssMetricV30"`
		CVSSMetricV2  []nvdMetric `json:"cvssMetricV2"`
	} `json:"metrics"`
}

type nvdMetric struct {
	CVSSData struct {
		BaseScore    float64 `json:"baseScore"`
		BaseSeverity string  `json:"baseSeverity"`
	} `json:"cvssData"`
	BaseSeverity string `json:"baseSeverity"` // v2 keeps severity outside cvssData
}

// FetchRaw walks the paginated API and returns a combined page document.
func (s *NVDSource) FetchRaw(ctx context.Context) ([]byte, error) {
	end := s.now().UTC()
	start := end.Add(-nvdModWindow)

	headers := map[string]string{}
	if s.apiKey != "" {
		headers["apiKey"] = s.apiKey
	}

	combined := nvdPage{}
	startIndex := 0

	for page := 0; page < nvdMaxPages; page++ {
		params := url.Values{}
		params.Set("resultsPerPage", fmt.Sprintf("%d", nvdPageSize))
		params.Set("startIndex", fmt.Sprintf("%d", startIndex))
		params.Set("lastModStartDate", start.Format("2006-01-02T15:04:05.000"))
		params.Set("lastModEndDate", end.Format("2006-01-02T15:04:05.000"))

		raw, err := fetchURL(ctx, s.client, s.base+"?"+params.Encode(), headers)
		if err != nil {
			return nil, err
		}

		var p nvdPage
		if err := nvdJSON.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode NVD page: %w", err)
		}

		combined.Vulnerabilities = append(combined.Vulnerabilities, p.Vulnerabilities...)
		combined.TotalResults = p.TotalResults

		startIndex += len(p.Vulnerabilities)
		if startIndex >= p.TotalResults || len(p.Vulnerabilities) == 0 {
			break
		}

		if err := sleepContext(ctx, s.pageDelay()); err != nil {
			return nil, err
		}
	}

	return nvdJSON.Marshal(combined)
}

func (s *NVDSource) Parse(raw []byte) ([]domain.Indicator, error) {
	var page nvdPage
	if err := nvdJSON.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("failed to decode NVD payload: %w", err)
	}

	indicators := make([]domain.Indicator, 0, len(page.Vulnerabilities))

	for _, v := range page.Vulnerabilities {
		if v.CVE.ID == "" {
			continue
		}

		score, sevLabel := cvssScore(v.CVE)
		published, _ := time.Parse("2006-01-02T15:04:05.000", v.CVE.Published)
		modified, _ := time.Parse("2006-01-02T15:04:05.000", v.CVE.LastModified)

		indicators = append(indicators, domain.Indicator{
			Type:        domain.CVE,
			Value:       v.CVE.ID,
			Confidence:  domain.NormalizeConfidence(score * 10), // CVSS 0-10 onto 0-100
			Severity:    severityFromCVSS(sevLabel, score),
			Source:      s.Name(),
			Reliability: domain.ReliabilityA,
			FirstSeen:   published,
			LastSeen:    modified,
			Tags:        []string{"cve", "nvd"},
			Context:     domain.IndicatorContext{CVSS: score},
			Description: englishDescription(v.CVE),
		})
	}

	return indicators, nil
}

// cvssScore picks the best available metric: v3.1 preferred, then v3.0, then v2.
func cvssScore(cve nvdCVE) (float64, string) {
	pick := func(metrics []nvdMetric) (float64, string, bool) {
		if len(metrics) == 0 {
			return 0, "", false
		}
		m := metrics[0]
		sev := m.CVSSData.BaseSeverity
		if sev == "" {
			sev = m.BaseSeverity
		}
		return m.CVSSData.BaseScore, sev, true
	}

	if score, sev, ok := pick(cve.Metrics.CVSSMetricV31); ok {
		return score, sev
	}
	if score, sev, ok := pick(cve.Metrics.CVSSMetricV30); ok {
		return score, sev
	}
	if score, sev, ok := pick(cve.Metrics.CVSSMetricV2); ok {
		return score, sev
	}
	return 0, ""
}

func severityFromCVSS(label string, score float64) domain.Severity {
	switch strings.ToUpper(label) {
	case "CRITICAL":
		return domain.SeverityCritical
	case "HIGH":
		return domain.SeverityHigh
	case "MEDIUM":
		return domain.SeverityMedium
	case "LOW":
		return domain.SeverityLow
	}
	// v2 has no critical label; fall back to the score.
	switch {
	case score >= 9:
		return domain.SeverityCritical
	case score >= 7:
		return domain.SeverityHigh
	case score >= 4:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func englishDescription(cve nvdCVE) string {
	for _, d := range cve.Descriptions {
		if d.Lang == "en" {
			return d.Value
		}
	}
	if len(cve.Descriptions) > 0 {
		return cve.Descriptions[0].Value
	}
	return ""
}
