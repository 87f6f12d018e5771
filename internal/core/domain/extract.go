package domain

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeValue normalizes indicator values for stable IDs and matching.
func NormalizeValue(value string, t IndicatorType) string {
	value = strings.TrimSpace(value)

	switch t {
	case URL:
		value = strings.ToLower(value)
		return strings.TrimSuffix(value, "/")
	case Domain:
		return strings.ToLower(value)
	case FileHash:
		return strings.ToLower(value)
	case Email:
		return strings.ToLower(value)
	case CVE:
		return strings.ToUpper(value)
	default:
		return value
	}
}

// ExtractComponents expands a URL indicator into its observable parts.
// For example "http://198.51.100.12/payload.sh" also yields the bare IP as an
// ip indicator, so infrastructure clustering can link it against other feeds
// that report the address directly. The original indicator is always first.
func ExtractComponents(ind Indicator) []Indicator {
	components := []Indicator{ind}

	if ind.Type != URL {
		return components
	}

	u, err := url.Parse(ind.Value)
	if err != nil {
		return components
	}
	host := u.Hostname()
	if host == "" || host == ind.Value {
		return components
	}

	hostType := Domain
	if net.ParseIP(host) != nil {
		hostType = IPAddress
	}

	child := Indicator{
		Type:        hostType,
		Value:       host,
		Confidence:  ind.Confidence,
		Severity:    ind.Severity,
		Source:      ind.Source,
		Reliability: ind.Reliability,
		FirstSeen:   ind.FirstSeen,
		LastSeen:    ind.LastSeen,
		Tags:        append([]string{"extracted-from-url"}, ind.Tags...),
		Context:     ind.Context,
	}
	child.Finalize(ind.FirstSeen)

	return append(components, child)
}
