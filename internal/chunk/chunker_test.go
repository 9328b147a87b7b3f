package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pad returns filler prose of at least n characters.
func pad(n int) string {
	return strings.Repeat("All knowledge entries should explain the why. ", n/46+1)[:n]
}

func TestMarkdownSingleSection(t *testing.T) {
	content := "# Overview\n\n" + pad(150) + "\n"

	chunks := Markdown(content, "guide.md", "root")
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, "Overview", c.HeadingPath)
	assert.Equal(t, "guide.md", c.SourceFile)
	assert.Equal(t, "root", c.Domain)
	assert.Equal(t, 0, c.ChunkIndex)
	assert.True(t, strings.HasPrefix(c.Content, "# Overview"))
	assert.False(t, c.IsInstruction)
}

func TestMarkdownHeadingBreadcrumbs(t *testing.T) {
	content := "# Top\n\n" + pad(120) + "\n\n" +
		"## Middle\n\n" + pad(120) + "\n\n" +
		"### Deep\n\n" + pad(120) + "\n\n" +
		"## Sibling\n\n" + pad(120) + "\n"

	chunks := Markdown(content, "docs/tree.md", "root")
	require.Len(t, chunks, 4)

	assert.Equal(t, "Top", chunks[0].HeadingPath)
	assert.Equal(t, "Top > Middle", chunks[1].HeadingPath)
	assert.Equal(t, "Top > Middle > Deep", chunks[2].HeadingPath)
	// Sibling at level 2 pops Middle and Deep.
	assert.Equal(t, "Top > Sibling", chunks[3].HeadingPath)
}

func TestMarkdownPreludeHasEmptyBreadcrumb(t *testing.T) {
	content := pad(130) + "\n\n# First\n\n" + pad(130) + "\n"

	chunks := Markdown(content, "a.md", "root")
	require.Len(t, chunks, 2)
	assert.Equal(t, "", chunks[0].HeadingPath)
	assert.Equal(t, "First", chunks[1].HeadingPath)
}

func TestMarkdownNoHeadings(t *testing.T) {
	chunks := Markdown(pad(200), "plain.md", "root")
	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0].HeadingPath)
}

func TestMarkdownDiscardsShortChunks(t *testing.T) {
	content := "# Tiny\n\nshort.\n\n# Real\n\n" + pad(150) + "\n"

	chunks := Markdown(content, "mixed.md", "root")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Real", chunks[0].HeadingPath)
	// Discarded chunks do not advance the ordinal.
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, ID("mixed.md", 0), chunks[0].ID)
}

func TestMarkdownCodeBlockAtomicity(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Code\n\n")
	b.WriteString(pad(1500))
	b.WriteString("\n\nThis paragraph explains the sample below.\n\n")
	b.WriteString("```go\n")
	for i := 0; i < 40; i++ {
		b.WriteString("func sample() { return }\n")
	}
	b.WriteString("```\n\n")
	b.WriteString(pad(800))
	b.WriteString("\n")

	chunks := Markdown(b.String(), "code.md", "root")
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		// Every opening fence is matched inside the same chunk.
		assert.Equal(t, 0, strings.Count(c.Content, "```")%2,
			"unbalanced fence in chunk %d", c.ChunkIndex)
	}

	// The explanation paragraph travels with its code block.
	for _, c := range chunks {
		if strings.Contains(c.Content, "func sample()") {
			assert.Contains(t, c.Content, "This paragraph explains the sample below.")
		}
	}
}

func TestMarkdownOversizeCodeBlockEmittedAlone(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Big\n\n")
	b.WriteString(pad(300))
	b.WriteString("\n\n```text\n")
	for i := 0; i < 120; i++ {
		b.WriteString("line of configuration data that refuses to be split\n")
	}
	b.WriteString("```\n")

	chunks := Markdown(b.String(), "big.md", "root")
	require.NotEmpty(t, chunks)

	var found bool
	for _, c := range chunks {
		if strings.Contains(c.Content, "```text") {
			found = true
			assert.Greater(t, len(c.Content), MaxChars)
			assert.Contains(t, c.Content, "```text")
		}
	}
	assert.True(t, found, "oversize code block missing from output")
}

func TestMarkdownPackingRespectsMaxChars(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Long\n\n")
	for i := 0; i < 12; i++ {
		b.WriteString(pad(400))
		b.WriteString("\n\n")
	}

	chunks := Markdown(b.String(), "long.md", "root")
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), MaxChars)
		assert.GreaterOrEqual(t, len(c.Content), MinChars)
	}

	// Ordinals are contiguous from zero.
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
	}
}

func TestMarkdownCRLF(t *testing.T) {
	content := "# Title\r\n\r\n" + pad(150) + "\r\n"

	chunks := Markdown(content, "crlf.md", "root")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Title", chunks[0].HeadingPath)
	assert.NotContains(t, chunks[0].Content, "\r")
}

func TestIDDeterministic(t *testing.T) {
	a := ID("domains/rp/b.md", 0)
	b := ID("domains/rp/b.md", 0)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	assert.NotEqual(t, ID("domains/rp/b.md", 1), a)
	assert.NotEqual(t, ID("domains/da/b.md", 0), a)

	// Backslashes normalize to the same id.
	assert.Equal(t, a, ID("domains\\rp\\b.md", 0))
}

func TestIsInstructionPath(t *testing.T) {
	assert.True(t, IsInstructionPath("foo.instructions.md"))
	assert.True(t, IsInstructionPath("domains/rp/Foo.Instructions.MD"))
	assert.False(t, IsInstructionPath("foo.md"))
	assert.False(t, IsInstructionPath("instructions.md"))
}

func TestInstructionFlagOnChunks(t *testing.T) {
	chunks := Markdown("# I\n\n"+pad(150), "rules.instructions.md", "root")
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsInstruction)
}
