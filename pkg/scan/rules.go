package scan

import (
	"math"
	"regexp"
	"strings"
)

// Rule is one detection heuristic. A rule with MinEntropy > 0 only
// reports when the captured token is high-entropy, which keeps the
// generic assignment rule from flagging placeholder values.
type Rule struct {
	ID          string
	Description string
	Pattern     *regexp.Regexp
	MinEntropy  float64
}

// defaultRules mirror what the old pre-commit grep looked for, plus the
// token formats that have actually leaked here before.
var defaultRules = []Rule{
	{
		ID:          "pem-private-key",
		Description: "PEM private key header",
		Pattern:     regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`),
	},
	{
		ID:          "aws-access-key",
		Description: "AWS access key ID",
		Pattern:     regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	},
	{
		ID:          "google-api-key",
		Description: "Google API key",
		Pattern:     regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`),
	},
	{
		ID:          "github-token",
		Description: "GitHub token",
		Pattern:     regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[0-9A-Za-z]{36}\b|\bgithub_pat_[0-9A-Za-z_]{22,}\b`),
	},
	{
		ID:          "slack-token",
		Description: "Slack token",
		Pattern:     regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z-]{10,}\b`),
	},
	{
		ID:          "jwt",
		Description: "JSON Web Token",
		Pattern:     regexp.MustCompile(`\beyJ[0-9A-Za-z_-]{10,}\.[0-9A-Za-z_-]{10,}\.[0-9A-Za-z_-]{10,}\b`),
	},
	{
		ID:          "generic-secret",
		Description: "high-entropy secret assignment",
		Pattern:     regexp.MustCompile(`(?i)(?:secret|token|passwd|password|api[_-]?key)["']?\s*[:=]\s*["']?([0-9A-Za-z+/_-]{20,})`),
		MinEntropy:  3.5,
	},
}

// entropy is the Shannon entropy of s in bits per character.
func entropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	for _, r := range s {
		freq[r]++
	}
	n := float64(len([]rune(s)))
	var h float64
	for _, count := range freq {
		p := float64(count) / n
		h -= p * math.Log2(p)
	}
	return h
}

// match reports whether the rule fires on line.
func (r *Rule) match(line string) bool {
	if r.MinEntropy == 0 {
		return r.Pattern.MatchString(line)
	}
	for _, groups := range r.Pattern.FindAllStringSubmatch(line, -1) {
		token := groups[len(groups)-1]
		if entropy(token) >= r.MinEntropy {
			return true
		}
	}
	return false
}

// redact keeps enough of the line to locate the problem without
// reproducing the credential: everything after the first '=' or ':' is
// masked down to its first and last two characters.
func redact(line string) string {
	trimmed := strings.TrimSpace(line)
	idx := strings.IndexAny(trimmed, "=:")
	if idx < 0 || idx+1 >= len(trimmed) {
		if len(trimmed) > 40 {
			return trimmed[:40] + "..."
		}
		return trimmed
	}
	head, tail := trimmed[:idx+1], strings.TrimSpace(trimmed[idx+1:])
	if len(tail) <= 8 {
		return head + strings.Repeat("*", len(tail))
	}
	return head + tail[:2] + strings.Repeat("*", len(tail)-4) + tail[len(tail)-2:]
}
