package connector

import (
	"regexp"
	"strings"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
)

// Observable is one concrete observable extracted from a STIX pattern.
type Observable struct {
	Type  domain.IndicatorType
	Value string
}

// comparisonRe matches `object-path = 'value'` terms inside a STIX pattern.
// AND/OR connectives between terms just mean every term is emitted.
var comparisonRe = regexp.MustCompile(`([a-zA-Z0-9_.:'\-]+)\s*=\s*'([^']+)'`)

// stixPathTypes is the fixed set of object-path expressions the parser
// understands. file:hashes is handled separately because the hash algorithm
// is embedded in the path.
var stixPathTypes = map[string]domain.IndicatorType{
	"domain-name:value": domain.Domain,
	"ipv4-addr:value":   domain.IPAddress,
	"ipv6-addr:value":   domain.IPAddress,
	"url:value":         domain.URL,
	"email-addr:value":  domain.Email,
	"email-message:sender_ref.value": domain.Email,
}

// ParseSTIXPattern extracts observables from a STIX 2.1 pattern expression
// such as "[domain-name:value = 'evil.example' OR ipv4-addr:value = '198.51.100.7']".
// Unknown object paths are skipped; an empty result is not an error.
func ParseSTIXPattern(pattern string) []Observable {
	var out []Observable

	for _, m := range comparisonRe.FindAllStringSubmatch(pattern, -1) {
		path, value := m[1], m[2]

		if t, ok := stixPathTypes[path]; ok {
			out = append(out, Observable{Type: t, Value: value})
			continue
		}
		if strings.HasPrefix(path, "file:hashes") {
			out = append(out, Observable{Type: domain.FileHash, Value: value})
		}
	}

	return out
}
