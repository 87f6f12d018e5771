package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
)

const otxURL = "https://otx.alienvault.com/api/v1/pulses/subscribed?limit=50&modified_since=7d"

// OTXSource ingests AlienVault OTX subscribed pulses. Pulses carry nested
// indicators plus actor/malware context that is folded into each one.
type OTXSource struct {
	client *http.Client
	url    string
	apiKey string
}

func NewOTXSource(client *http.Client, apiKey string) *OTXSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &OTXSource{client: client, url: otxURL, apiKey: apiKey}
}

func (s *OTXSource) Name() string {
	return "alienvault-otx"
}

func (s *OTXSource) FetchRaw(ctx context.Context) ([]byte, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("OTX API key is missing")
	}
	// OTX requires the key in a header
	return fetchURL(ctx, s.client, s.url, map[string]string{"X-OTX-API-KEY": s.apiKey})
}

type otxResponse struct {
	Results []otxPulse `json:"results"`
	Next    string     `json:"next"`
}

type otxPulse struct {
	Name            string         `json:"name"`
	AuthorName      string         `json:"author_name"`
	Created         string         `json:"created"`
	Adversary       string         `json:"adversary"`
	MalwareFamilies []string       `json:"malware_families"`
	AttackIDs       []string       `json:"attack_ids"`
	TLP             string         `json:"tlp"`
	Indicators      []otxIndicator `json:"indicators"`
	Tags            []string       `json:"tags"`
}

type otxIndicator struct {
	Indicator string `json:"indicator"`
	Type      string `json:"type"` // ex: IPv4, domain, FileHash-SHA256
	Created   string `json:"created"`
}

func (s *OTXSource) Parse(raw []byte) ([]domain.Indicator, error) {
	var data otxResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode OTX json: %w", err)
	}

	var indicators []domain.Indicator

	for _, pulse := range data.Results {
		context := domain.IndicatorContext{
			ThreatActor: pulse.Adversary,
			Campaign:    pulse.Name,
		}
		if len(pulse.MalwareFamilies) > 0 {
			context.MalwareFamily = pulse.MalwareFamilies[0]
		}
		if len(pulse.AttackIDs) > 0 {
			context.MitreTechnique = pulse.AttackIDs[0]
		}

		for _, ind := range pulse.Indicators {
			myType, ok := mapOTXType(ind.Type)
			if !ok {
				continue
			}

			firstSeen, _ := time.Parse(time.RFC3339, ind.Created)

			indicators = append(indicators, domain.Indicator{
				Type:        myType,
				Value:       ind.Indicator,
				Confidence:  60, // community pulses; corroboration raises it downstream
				Severity:    domain.SeverityMedium,
				Source:      s.Name(),
				Reliability: domain.ReliabilityB,
				FirstSeen:   firstSeen,
				Tags:        pulse.Tags,
				Context:     context,
				Description: pulse.Name,
			})
		}
	}

	return indicators, nil
}

func mapOTXType(otxType string) (domain.IndicatorType, bool) {
	switch otxType {
	case "IPv4", "IPv6":
		return domain.IPAddress, true
	case "domain", "hostname":
		return domain.Domain, true
	case "URL", "URI":
		return domain.URL, true
	case "FileHash-MD5", "FileHash-SHA1", "FileHash-SHA256":
		return domain.FileHash, true
	case "email":
		return domain.Email, true
	case "CVE":
		return domain.CVE, true
	case "YARA":
		return domain.YaraRule, true
	default:
		return "", false
	}
}
