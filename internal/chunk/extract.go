package chunk

import (
	"regexp"
	"strings"
)

var (
	// backtickTermPattern matches PascalCase terms in backticks, e.g. `PolicyController`.
	backtickTermPattern = regexp.MustCompile("`([A-Z][A-Za-z0-9_.]+)`")

	// filePathTokenPattern matches file-path-shaped tokens delimited by
	// whitespace, backticks, or quotes, e.g. src/indexer/pipeline.go.
	filePathTokenPattern = regexp.MustCompile("(?:^|[\\s`'\"(])([A-Za-z0-9_./-]+\\.[a-z]{1,5})(?:[\\s`'\")]|$)")

	// relatedLinkPattern captures the target of Markdown links to .md files,
	// with any #fragment excluded from the capture.
	relatedLinkPattern = regexp.MustCompile(`\[.*?\]\(([^)#]+\.md)(?:#[^)]*)?\)`)
)

// extractTags pulls searchable tags out of chunk content: backtick
// PascalCase terms longer than 2 chars without slashes, plus file-path
// shaped tokens. Deduplicated case-insensitively, first casing wins.
func extractTags(content string) []string {
	var tags []string
	seen := make(map[string]struct{})

	add := func(tag string) {
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		tags = append(tags, tag)
	}

	for _, m := range backtickTermPattern.FindAllStringSubmatch(content, -1) {
		term := m[1]
		if len(term) > 2 && !strings.Contains(term, "/") {
			add(term)
		}
	}

	for _, m := range filePathTokenPattern.FindAllStringSubmatch(content, -1) {
		token := m[1]
		if strings.Contains(token, "/") || strings.Contains(token, ".") {
			add(token)
		}
	}

	return tags
}

// extractRelatedFiles collects relative paths of Markdown files referenced
// by links, with fragments stripped and slashes normalized.
func extractRelatedFiles(content string) []string {
	var files []string
	seen := make(map[string]struct{})

	for _, m := range relatedLinkPattern.FindAllStringSubmatch(content, -1) {
		target := m[1]
		if i := strings.Index(target, "#"); i >= 0 {
			target = target[:i]
		}
		target = NormalizePath(strings.TrimSpace(target))
		if target == "" {
			continue
		}
		key := strings.ToLower(target)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		files = append(files, target)
	}

	return files
}
