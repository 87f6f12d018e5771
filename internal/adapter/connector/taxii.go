package connector

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
)

const (
	taxiiMediaType = "application/taxii+json;version=2.1"
	taxiiPageLimit = 1000
	taxiiMaxPages  = 25
)

var taxiiJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// TAXIISource ingests any STIX/TAXII 2.1 server: discovery document, API
// root, collection listing, then paginated object fetches. added_after keeps
// pulls incremental across syncs.
type TAXIISource struct {
	client       *http.Client
	name         string
	discoveryURL string
	headers      map[string]string

	mu         sync.Mutex
	addedAfter time.Time

	now func() time.Time
}

func NewTAXIISource(client *http.Client, name, discoveryURL, username, password string) *TAXIISource {
	if client == nil {
		client = http.DefaultClient
	}
	headers := map[string]string{"Accept": taxiiMediaType}
	if username != "" {
		headers["Authorization"] = "Basic " + basicAuth(username, password)
	}
	return &TAXIISource{
		client:       client,
		name:         name,
		discoveryURL: discoveryURL,
		headers:      headers,
		now:          time.Now,
	}
}

func (s *TAXIISource) Name() string {
	return s.name
}

type taxiiDiscovery struct {
	Default  string   `json:"default"`
	APIRoots []string `json:"api_roots"`
}

type taxiiCollections struct {
	Collections []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		CanRead bool   `json:"can_read"`
	} `json:"collections"`
}

type taxiiEnvelope struct {
	More    bool             `json:"more"`
	Next    string           `json:"next"`
	Objects []stixObjectBlob `json:"objects"`
}

// stixObjectBlob is the loose decode of one STIX object; only the fields the
// parser needs are typed.
type stixObjectBlob struct {
	Type        string   `json:"type"`
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Pattern     string   `json:"pattern"`
	PatternType string   `json:"pattern_type"`
	Created     string   `json:"created"`
	Modified    string   `json:"modified"`
	ValidFrom   string   `json:"valid_from"`
	Labels      []string `json:"labels"`
	Confidence  int      `json:"confidence"`
	KillChains  []struct {
		PhaseName string `json:"phase_name"`
	} `json:"kill_chain_phases"`
	// relationship fields
	RelationshipType string `json:"relationship_type"`
	SourceRef        string `json:"source_ref"`
	TargetRef        string `json:"target_ref"`
}

// FetchRaw walks discovery -> API root -> collections -> objects and returns
// one combined envelope of every STIX object added since the last pull.
func (s *TAXIISource) FetchRaw(ctx context.Context) ([]byte, error) {
	raw, err := fetchURL(ctx, s.client, s.discoveryURL, s.headers)
	if err != nil {
		return nil, err
	}
	var disco taxiiDiscovery
	if err := taxiiJSON.Unmarshal(raw, &disco); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	apiRoot := disco.Default
	if apiRoot == "" && len(disco.APIRoots) > 0 {
		apiRoot = disco.APIRoots[0]
	}
	if apiRoot == "" {
		return nil, fmt.Errorf("taxii server %s advertises no api roots", s.discoveryURL)
	}
	apiRoot = strings.TrimSuffix(apiRoot, "/")

	raw, err = fetchURL(ctx, s.client, apiRoot+"/collections/", s.headers)
	if err != nil {
		return nil, err
	}
	var cols taxiiCollections
	if err := taxiiJSON.Unmarshal(raw, &cols); err != nil {
		return nil, fmt.Errorf("failed to decode collections: %w", err)
	}

	s.mu.Lock()
	since := s.addedAfter
	s.mu.Unlock()

	combined := taxiiEnvelope{}
	for _, col := range cols.Collections {
		if !col.CanRead {
			continue
		}
		objects, err := s.fetchCollection(ctx, apiRoot, col.ID, since)
		if err != nil {
			return nil, err
		}
		combined.Objects = append(combined.Objects, objects...)
	}

	s.mu.Lock()
	s.addedAfter = s.now().UTC()
	s.mu.Unlock()

	return taxiiJSON.Marshal(combined)
}

func (s *TAXIISource) fetchCollection(ctx context.Context, apiRoot, collectionID string, since time.Time) ([]stixObjectBlob, error) {
	var objects []stixObjectBlob
	next := ""

	for page := 0; page < taxiiMaxPages; page++ {
		params := url.Values{}
		params.Set("limit", fmt.Sprintf("%d", taxiiPageLimit))
		if !since.IsZero() {
			params.Set("added_after", since.Format(time.RFC3339))
		}
		if next != "" {
			params.Set("next", next)
		}

		endpoint := fmt.Sprintf("%s/collections/%s/objects/?%s", apiRoot, collectionID, params.Encode())
		raw, err := fetchURL(ctx, s.client, endpoint, s.headers)
		if err != nil {
			return nil, err
		}

		var env taxiiEnvelope
		if err := taxiiJSON.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("failed to decode envelope for collection %s: %w", collectionID, err)
		}

		objects = append(objects, env.Objects...)
		if !env.More || env.Next == "" {
			break
		}
		next = env.Next
	}

	return objects, nil
}

// Parse converts the combined envelope into indicators. Relationship objects
// are resolved first so indicators come out enriched with the malware and
// actor context the server knows about.
func (s *TAXIISource) Parse(raw []byte) ([]domain.Indicator, error) {
	var env taxiiEnvelope
	if err := taxiiJSON.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode taxii envelope: %w", err)
	}

	// Index names of context-bearing objects and the relationships that
	// point at indicators.
	names := make(map[string]stixObjectBlob)
	related := make(map[string][]string) // indicator id -> related object ids
	var rawIndicators []stixObjectBlob

	for _, obj := range env.Objects {
		switch obj.Type {
		case "indicator":
			rawIndicators = append(rawIndicators, obj)
		case "malware", "threat-actor", "campaign", "attack-pattern":
			names[obj.ID] = obj
		case "relationship":
			if strings.HasPrefix(obj.SourceRef, "indicator--") {
				related[obj.SourceRef] = append(related[obj.SourceRef], obj.TargetRef)
			}
			if strings.HasPrefix(obj.TargetRef, "indicator--") {
				related[obj.TargetRef] = append(related[obj.TargetRef], obj.SourceRef)
			}
		}
	}

	var indicators []domain.Indicator

	for _, obj := range rawIndicators {
		if obj.PatternType != "" && obj.PatternType != "stix" {
			continue
		}

		context := domain.IndicatorContext{}
		for _, refID := range related[obj.ID] {
			ref, ok := names[refID]
			if !ok {
				continue
			}
			switch ref.Type {
			case "malware":
				context.MalwareFamily = ref.Name
			case "threat-actor":
				context.ThreatActor = ref.Name
			case "campaign":
				context.Campaign = ref.Name
			case "attack-pattern":
				context.MitreTechnique = ref.Name
			}
		}
		if len(obj.KillChains) > 0 {
			context.KillChainPhase = obj.KillChains[0].PhaseName
		}

		created, _ := time.Parse(time.RFC3339, obj.Created)
		validFrom, _ := time.Parse(time.RFC3339, obj.ValidFrom)
		if validFrom.IsZero() {
			validFrom = created
		}

		confidence := obj.Confidence
		if confidence == 0 {
			confidence = 50
		}

		for _, obs := range ParseSTIXPattern(obj.Pattern) {
			indicators = append(indicators, domain.Indicator{
				Type:        obs.Type,
				Value:       obs.Value,
				Confidence:  domain.NormalizeConfidence(float64(confidence)),
				Severity:    severityFromLabels(obj.Labels),
				Source:      s.name,
				Reliability: domain.ReliabilityB,
				FirstSeen:   validFrom,
				Tags:        obj.Labels,
				Context:     context,
				Description: obj.Name,
			})
		}
	}

	return indicators, nil
}

func severityFromLabels(labels []string) domain.Severity {
	for _, l := range labels {
		switch strings.ToLower(l) {
		case "ransomware", "apt":
			return domain.SeverityCritical
		case "malicious-activity", "malware", "command-and-control":
			return domain.SeverityHigh
		}
	}
	return domain.SeverityMedium
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
