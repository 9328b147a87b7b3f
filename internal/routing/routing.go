// Package routing parses the corpus management file and resolves which
// knowledge-base domains are relevant to a given code path.
//
// The management file maps code-path patterns to domains inside a fenced
// yaml block:
//
//	```yaml
//	routing:
//	  rp: ['src/ResourceProvider/', 'src/RP.Common/**/Controllers/']
//	  da: ['src/DataAccess/']
//	```
package routing

import (
	"os"
	"regexp"
	"strings"

	memexerrors "github.com/memexhq/memex/internal/errors"
)

// Rule is one (domain, patterns) entry in declaration order.
type Rule struct {
	Domain   string
	Patterns []string
}

// Map is the ordered routing table parsed from the management file.
type Map struct {
	rules []Rule
}

var (
	fenceOpenPattern  = regexp.MustCompile("^```\\s*(ya?ml)\\s*$")
	fenceClosePattern = regexp.MustCompile("^```\\s*$")
	rulePattern       = regexp.MustCompile(`^\s+(\w+):\s*\[([^\]]+)\]`)
	quotedPathPattern = regexp.MustCompile(`'([^']+)'`)
)

// Parse extracts the routing map from management-file Markdown.
// Only the first fenced yaml/yml block is considered. Declaration order is
// preserved and duplicate domains are permitted.
func Parse(markdown string) (*Map, error) {
	var rules []Rule
	inFence := false
	found := false

	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSuffix(line, "\r")

		if !inFence {
			if !found && fenceOpenPattern.MatchString(strings.TrimSpace(line)) {
				inFence = true
				found = true
			}
			continue
		}

		if fenceClosePattern.MatchString(strings.TrimSpace(line)) {
			break
		}

		m := rulePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		var patterns []string
		for _, q := range quotedPathPattern.FindAllStringSubmatch(m[2], -1) {
			patterns = append(patterns, q[1])
		}
		if len(patterns) > 0 {
			rules = append(rules, Rule{Domain: m[1], Patterns: patterns})
		}
	}

	if !found {
		return nil, memexerrors.ParseError(memexerrors.ErrCodeManagementParse,
			"management file contains no fenced yaml block", nil)
	}

	return &Map{rules: rules}, nil
}

// Load reads and parses the management file at path.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, memexerrors.IOError("read management file "+path, err)
	}
	return Parse(string(data))
}

// Rules returns the parsed rules in declaration order.
func (m *Map) Rules() []Rule {
	return m.rules
}

// Len returns the number of parsed rules.
func (m *Map) Len() int {
	return len(m.rules)
}

// DomainsForCodePath returns the domains whose patterns match the given
// code path, in declaration order, each domain at most once.
func (m *Map) DomainsForCodePath(codePath string) []string {
	if m == nil || codePath == "" {
		return nil
	}

	normalized := strings.ToLower(strings.ReplaceAll(codePath, "\\", "/"))

	var domains []string
	seen := make(map[string]struct{})

	for _, rule := range m.rules {
		if _, ok := seen[strings.ToLower(rule.Domain)]; ok {
			continue
		}
		for _, pattern := range rule.Patterns {
			if patternMatches(normalized, pattern) {
				seen[strings.ToLower(rule.Domain)] = struct{}{}
				domains = append(domains, rule.Domain)
				break
			}
		}
	}

	return domains
}

// patternMatches implements the substring-based pattern match. A pattern
// containing "**" splits once: both non-empty halves must appear in the
// path; empty halves match unconditionally. Other patterns are plain
// case-insensitive substring matches with any trailing "/" trimmed.
func patternMatches(normalizedPath, pattern string) bool {
	pattern = strings.ToLower(strings.ReplaceAll(pattern, "\\", "/"))

	if prefix, suffix, ok := strings.Cut(pattern, "**"); ok {
		prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "/")
		suffix = strings.TrimSpace(suffix)
		if prefix != "" && !strings.Contains(normalizedPath, prefix) {
			return false
		}
		if suffix != "" && !strings.Contains(normalizedPath, suffix) {
			return false
		}
		return true
	}

	pattern = strings.TrimSuffix(strings.TrimSpace(pattern), "/")
	if pattern == "" {
		return false
	}
	return strings.Contains(normalizedPath, pattern)
}

// DomainFromSourcePath derives the knowledge domain for a source file:
// the first segment after "domains/" when present, otherwise "root".
func DomainFromSourcePath(p string) string {
	normalized := strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/")
	lower := strings.ToLower(normalized)

	if strings.HasPrefix(lower, "domains/") {
		segments := strings.Split(normalized, "/")
		if len(segments) >= 2 && segments[1] != "" {
			return segments[1]
		}
	}
	return "root"
}
