package engine

import (
	"strings"
)

// Strategy-specific linking thresholds.
const (
	ipLinkThreshold     = 0.7
	domainLinkThreshold = 0.6
)

// ipSimilarity is the fraction of positionally matching dotted octets.
// Addresses differing in exactly one octet score 0.75. Non-IPv4 pairs only
// match on equality.
func ipSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	octA := strings.Split(a, ".")
	octB := strings.Split(b, ".")
	if len(octA) != 4 || len(octB) != 4 {
		return 0
	}
	matches := 0
	for i := 0; i < 4; i++ {
		if octA[i] == octB[i] {
			matches++
		}
	}
	return float64(matches) / 4.0
}

// domainSimilarity blends TLD equality with the longest common substring:
// 0.3 x (same TLD) + 0.7 x (LCS length / max length).
func domainSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	score := 0.0
	if tld(a) != "" && tld(a) == tld(b) {
		score += 0.3
	}

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen > 0 {
		score += 0.7 * float64(longestCommonSubstring(a, b)) / float64(maxLen)
	}
	return score
}

func tld(domainName string) string {
	idx := strings.LastIndex(domainName, ".")
	if idx == -1 || idx == len(domainName)-1 {
		return ""
	}
	return domainName[idx+1:]
}

// longestCommonSubstring is the classic rolling-row DP; O(len(a)*len(b)).
func longestCommonSubstring(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	best := 0

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > best {
					best = curr[j]
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return best
}

// unionFind is a plain disjoint-set over slice indexes, used to turn pairwise
// similarity links into connected components.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}
