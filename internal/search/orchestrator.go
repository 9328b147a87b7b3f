// Package search embeds queries, over-fetches from the read index, applies
// domain- and instruction-aware boosts, and formats results for callers.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/memexhq/memex/internal/embed"
	"github.com/memexhq/memex/internal/routing"
	"github.com/memexhq/memex/internal/store"
)

// Boost constants.
const (
	// DomainBoost multiplies hits whose domain matches the caller's
	// current-file domains.
	DomainBoost = 1.3

	// InstructionBoost multiplies instruction-file hits. It only applies
	// when the current-file domain set is non-empty.
	InstructionBoost = 1.2

	// Overfetch is how many times topK the read index is asked for before
	// boosting re-sorts the candidates.
	Overfetch = 2
)

// Top-k bounds applied to caller-provided values.
const (
	DefaultTopK = 5
	MinTopK     = 1
	MaxTopK     = 10
)

// NoResultsMessage is returned when the read index has nothing to offer.
const NoResultsMessage = "No relevant entries found. The knowledge base may be empty or still indexing - check the status tool."

// Orchestrator coordinates the query path: embed once, search, boost,
// format.
type Orchestrator struct {
	embedder   embed.Embedder
	read       store.ReadIndex
	routing    *routing.Holder
	sourceRoot string
	logger     *slog.Logger
}

// New creates an Orchestrator. sourceRoot, when non-empty, makes result
// sources absolute.
func New(embedder embed.Embedder, read store.ReadIndex, holder *routing.Holder, sourceRoot string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		embedder:   embedder,
		read:       read,
		routing:    holder,
		sourceRoot: sourceRoot,
		logger:     logger,
	}
}

// ClampTopK bounds a caller-provided top-k to [MinTopK, MaxTopK] with a
// default when unset.
func ClampTopK(topK int) int {
	switch {
	case topK == 0:
		return DefaultTopK
	case topK < MinTopK:
		return MinTopK
	case topK > MaxTopK:
		return MaxTopK
	}
	return topK
}

// Search runs one query and returns formatted result text.
// currentFilePath, when provided alongside a loaded routing map, selects
// the domains whose chunks get boosted.
func (o *Orchestrator) Search(ctx context.Context, query string, currentFilePath string, topK int) (string, error) {
	topK = ClampTopK(topK)

	queryVector, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return "", err
	}

	var relevantDomains []string
	if currentFilePath != "" {
		if m := o.routing.Load(); m != nil {
			relevantDomains = m.DomainsForCodePath(currentFilePath)
		}
	}

	hits, err := o.read.Search(ctx, query, queryVector, topK*Overfetch)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return NoResultsMessage, nil
	}

	boosted := applyBoosts(hits, relevantDomains)
	if len(boosted) > topK {
		boosted = boosted[:topK]
	}

	o.logger.Debug("search complete",
		slog.String("query", query),
		slog.Int("candidates", len(hits)),
		slog.Int("returned", len(boosted)),
		slog.Int("relevant_domains", len(relevantDomains)))

	return o.format(boosted), nil
}

// applyBoosts adjusts scores and re-sorts descending. Both boosts are
// gated on a non-empty relevant-domain set: with no current-file context
// the fused ranking stands as-is.
func applyBoosts(hits []store.SearchHit, relevantDomains []string) []store.SearchHit {
	adjusted := make([]store.SearchHit, len(hits))
	copy(adjusted, hits)

	if len(relevantDomains) > 0 {
		domainSet := make(map[string]struct{}, len(relevantDomains))
		for _, d := range relevantDomains {
			domainSet[strings.ToLower(d)] = struct{}{}
		}

		for i := range adjusted {
			c := adjusted[i].Chunk
			if _, ok := domainSet[strings.ToLower(c.Domain)]; ok {
				adjusted[i].Score *= DomainBoost
			}
			if c.IsInstruction {
				adjusted[i].Score *= InstructionBoost
			}
		}
	}

	sort.SliceStable(adjusted, func(i, j int) bool {
		return adjusted[i].Score > adjusted[j].Score
	})
	return adjusted
}

// format renders hits as the tool's text payload.
func (o *Orchestrator) format(hits []store.SearchHit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant entries:\n", len(hits))

	for _, hit := range hits {
		c := hit.Chunk

		b.WriteString("\nSource: ")
		b.WriteString(o.sourcePath(c.SourceFile))
		b.WriteString("\n")

		if c.HeadingPath != "" {
			b.WriteString("Section: ")
			b.WriteString(c.HeadingPath)
			b.WriteString("\n")
		}

		b.WriteString("Domain: ")
		b.WriteString(c.Domain)
		b.WriteString("\n")

		if len(c.Tags) > 0 {
			tags := c.Tags
			if len(tags) > 10 {
				tags = tags[:10]
			}
			b.WriteString("Tags: ")
			b.WriteString(strings.Join(tags, ", "))
			b.WriteString("\n")
		}

		b.WriteString("\n")
		b.WriteString(c.Content)
		b.WriteString("\n")
	}

	return b.String()
}

// sourcePath renders the source absolute when the root is known.
func (o *Orchestrator) sourcePath(rel string) string {
	if o.sourceRoot == "" {
		return rel
	}
	return filepath.Join(o.sourceRoot, filepath.FromSlash(rel))
}
