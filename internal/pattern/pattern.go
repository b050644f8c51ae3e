// Package pattern scores how much a domain looks like a throwaway-mail
// provider. It is a secondary, replaceable signal: the orchestrator only
// consumes the integer score.
package pattern

import "strings"

// Keywords that frequently appear in disposable provider names
var suspiciousKeywords = []string{
	"temp", "tmp", "trash", "fake", "spam", "junk", "burner",
	"throwaway", "disposable", "discard", "guerrilla", "mailinator",
	"10minute", "minutemail", "yopmail", "getnada",
}

// Scorer rates domains 0-100. A zero Scorer uses the default threshold.
type Scorer struct {
	// Threshold at or above which the caller should treat the domain as
	// disposable. Defaults to 80.
	Threshold int
}

// NewScorer returns a Scorer with the default threshold
func NewScorer() *Scorer {
	return &Scorer{Threshold: 80}
}

// Score rates a normalized domain. 0 means no suspicion, 100 maximal.
func (s *Scorer) Score(domain string) int {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return 0
	}

	host := domain
	if i := strings.LastIndex(domain, "."); i > 0 {
		host = domain[:i] // Drop the TLD, keywords live in the host labels
	}

	score := 0
	for _, kw := range suspiciousKeywords {
		if strings.Contains(host, kw) {
			score += 45
		}
	}

	// Disposable providers tend toward digit-heavy machine-generated names
	digits := 0
	for _, r := range host {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if len(host) > 0 && digits*3 >= len(host) {
		score += 20
	}

	if strings.Count(host, "-") >= 2 {
		score += 15
	}

	if score > 100 {
		score = 100
	}
	return score
}

// Suspicious reports whether the score crosses the configured threshold
func (s *Scorer) Suspicious(domain string) (int, bool) {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = 80
	}
	score := s.Score(domain)
	return score, score >= threshold
}
