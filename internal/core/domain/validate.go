package domain

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

var (
	hexRe   = regexp.MustCompile(`^[a-fA-F0-9]+$`)
	cveRe   = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	labelRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)
)

// ValidateValue checks an indicator value against its declared type.
// Invalid indicators are dropped by the connector before emission, so this is
// the single gate between raw feed content and the rest of the pipeline.
func ValidateValue(value string, t IndicatorType) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}

	switch t {
	case IPAddress:
		return net.ParseIP(value) != nil

	case Domain:
		return validDomain(value)

	case URL:
		u, err := url.Parse(value)
		if err != nil {
			return false
		}
		return (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "ftp") && u.Host != ""

	case FileHash:
		// MD5, SHA1 or SHA256 hex digests.
		switch len(value) {
		case 32, 40, 64:
			return hexRe.MatchString(value)
		}
		return false

	case Email:
		return emailRe.MatchString(value)

	case CVE:
		return cveRe.MatchString(strings.ToUpper(value))

	case YaraRule:
		return strings.Contains(value, "rule ") && strings.Contains(value, "{")

	default:
		return false
	}
}

func validDomain(value string) bool {
	if len(value) > 253 || net.ParseIP(value) != nil {
		return false
	}
	labels := strings.Split(value, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 || !labelRe.MatchString(label) {
			return false
		}
	}
	// TLD must not be all-numeric.
	tld := labels[len(labels)-1]
	if _, hasAlpha := firstAlpha(tld); !hasAlpha {
		return false
	}
	return true
}

func firstAlpha(s string) (rune, bool) {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return r, true
		}
	}
	return 0, false
}
