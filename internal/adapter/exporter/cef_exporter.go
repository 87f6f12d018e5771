package exporter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
)

// CEFExporter exports indicators in Common Event Format for SIEM ingestion
type CEFExporter struct {
	repo ports.IndicatorRepository
}

func NewCEFExporter(repo ports.IndicatorRepository) *CEFExporter {
	return &CEFExporter{repo: repo}
}

// Export generates a CEF-formatted indicator feed.
// Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(ctx context.Context, since time.Time) (string, error) {
	// Default to last 24 hours if no time specified
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	// Limit to 10000 entries for performance
	indicators, err := e.repo.FindSince(ctx, since, 10000)
	if err != nil {
		return "", fmt.Errorf("failed to fetch indicators: %w", err)
	}

	var output strings.Builder
	for _, ind := range indicators {
		output.WriteString(e.formatCEF(ind))
		output.WriteString("\n")
	}

	return output.String(), nil
}

func (e *CEFExporter) formatCEF(ind domain.Indicator) string {
	vendor := "Riskwatch"
	product := "ThreatIntel"
	version := "1.0"
	signatureID := string(ind.Type)
	name := fmt.Sprintf("%s Indicator Detected", strings.ToUpper(string(ind.Type)))
	severity := cefSeverity(ind.Severity, ind.Confidence)

	// CEF Extensions (key=value pairs)
	extensions := []string{
		fmt.Sprintf("src=%s", escapeField(ind.Value)),
		"cn1Label=ConfidenceScore",
		fmt.Sprintf("cn1=%d", ind.Confidence),
		"cs1Label=Source",
		fmt.Sprintf("cs1=%s", escapeField(ind.Source)),
		"cs2Label=Reliability",
		fmt.Sprintf("cs2=%s", escapeField(string(ind.Reliability))),
		"cs3Label=Tags",
		fmt.Sprintf("cs3=%s", escapeField(strings.Join(ind.Tags, ","))),
		fmt.Sprintf("rt=%d", ind.FirstSeen.Unix()*1000), // milliseconds
	}

	if ind.Context.ThreatActor != "" {
		extensions = append(extensions,
			"cs4Label=ThreatActor",
			fmt.Sprintf("cs4=%s", escapeField(ind.Context.ThreatActor)))
	}
	if ind.Context.MalwareFamily != "" {
		extensions = append(extensions,
			"cs5Label=MalwareFamily",
			fmt.Sprintf("cs5=%s", escapeField(ind.Context.MalwareFamily)))
	}

	extensionStr := strings.Join(extensions, " ")

	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		vendor, product, version, signatureID, name, severity, extensionStr)
}

// cefSeverity maps indicator severity and confidence to the 0-10 CEF scale.
func cefSeverity(sev domain.Severity, confidence int) int {
	switch sev {
	case domain.SeverityCritical:
		return 10
	case domain.SeverityHigh:
		return 8
	case domain.SeverityMedium:
		if confidence >= 80 {
			return 6
		}
		return 5
	default:
		if confidence >= 80 {
			return 4
		}
		return 2
	}
}

func escapeField(s string) string {
	// Escape special characters in CEF fields
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}
