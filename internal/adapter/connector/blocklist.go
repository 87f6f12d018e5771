package connector

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
)

// BlocklistSource ingests any plaintext one-indicator-per-line feed
// (Feodo Tracker, CINS Army, Tor exit nodes and the like). Lines starting
// with # or // are comments.
type BlocklistSource struct {
	client     *http.Client
	sourceName string
	url        string
	tags       []string
	severity   domain.Severity
}

func NewBlocklistSource(client *http.Client, sourceName, feedURL string, tags []string, severity domain.Severity) *BlocklistSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &BlocklistSource{
		client:     client,
		sourceName: sourceName,
		url:        feedURL,
		tags:       tags,
		severity:   severity,
	}
}

func (s *BlocklistSource) Name() string {
	return s.sourceName
}

func (s *BlocklistSource) FetchRaw(ctx context.Context) ([]byte, error) {
	return fetchURL(ctx, s.client, s.url, nil)
}

func (s *BlocklistSource) Parse(raw []byte) ([]domain.Indicator, error) {
	var indicators []domain.Indicator

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		// strip trailing port or inline comment
		if idx := strings.Index(line, ":"); idx != -1 {
			line = line[:idx]
		}
		if idx := strings.Index(line, "#"); idx != -1 {
			line = strings.TrimSpace(line[:idx])
		}
		if !strings.Contains(line, ".") {
			continue
		}

		indicators = append(indicators, domain.Indicator{
			Type:        domain.IPAddress,
			Value:       line,
			Confidence:  70,
			Severity:    s.severity,
			Source:      s.sourceName,
			Reliability: domain.ReliabilityC,
			Tags:        s.tags,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}

	return indicators, nil
}
