package chunk

import (
	"regexp"
	"strings"
	"time"
)

// headingPattern matches ATX headings: 1-6 '#' followed by a space.
var headingPattern = regexp.MustCompile(`^(#{1,6}) (.*)$`)

// section is a heading-scoped span of the source document.
type section struct {
	headingPath string
	content     string
}

// block is a paragraph or fenced code region within a section.
type block struct {
	text   string
	isCode bool
}

// Markdown splits raw Markdown into chunks for the given source file.
//
// Sections are delimited by ATX headings; a heading's breadcrumb includes
// all open ancestors plus the heading itself. Sections longer than MaxChars
// are split into paragraph and fenced-code blocks (fences are atomic, and
// the paragraph immediately preceding a fence travels with it), then packed
// greedily back up to MaxChars. Chunks shorter than MinChars after trimming
// are discarded and do not advance the chunk ordinal, so surviving chunks
// carry contiguous indices starting at 0.
func Markdown(content, sourceFile, domain string) []*Chunk {
	sourceFile = NormalizePath(sourceFile)
	now := time.Now().UTC()

	var chunks []*Chunk
	index := 0
	for _, sec := range splitSections(content) {
		for _, text := range packSection(sec.content) {
			text = strings.TrimSpace(text)
			if len(text) < MinChars {
				continue
			}
			chunks = append(chunks, &Chunk{
				ID:            ID(sourceFile, index),
				Content:       text,
				SourceFile:    sourceFile,
				HeadingPath:   sec.headingPath,
				Domain:        domain,
				Tags:          extractTags(text),
				RelatedFiles:  extractRelatedFiles(text),
				IsInstruction: IsInstructionPath(sourceFile),
				LastUpdated:   now,
				ChunkIndex:    index,
			})
			index++
		}
	}

	return chunks
}

// headingFrame is one open heading on the breadcrumb stack.
type headingFrame struct {
	level int
	text  string
}

// splitSections splits the document on ATX headings, maintaining the
// breadcrumb stack. The heading line stays at the top of its section.
func splitSections(content string) []section {
	lines := strings.Split(content, "\n")

	var sections []section
	var stack []headingFrame
	var current strings.Builder
	currentPath := ""

	flush := func() {
		if current.Len() > 0 {
			sections = append(sections, section{headingPath: currentPath, content: current.String()})
			current.Reset()
		}
	}

	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")

		if m := headingPattern.FindStringSubmatch(line); m != nil {
			flush()

			level := len(m[1])
			text := strings.TrimSpace(m[2])

			// Pop headings at the same or deeper level, then push.
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, headingFrame{level: level, text: text})

			parts := make([]string, len(stack))
			for i, f := range stack {
				parts[i] = f.text
			}
			currentPath = strings.Join(parts, " > ")
		}

		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	return sections
}

// packSection turns one section into chunk-sized texts.
func packSection(content string) []string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= MaxChars {
		return []string{trimmed}
	}
	return packBlocks(splitBlocks(content))
}

// splitBlocks splits section content into paragraphs and fenced code
// regions. A fence opened by a line beginning with three backticks runs
// until the next such line and is atomic. The paragraph immediately
// preceding a fence is prepended to it so explanation and code travel
// together.
func splitBlocks(content string) []block {
	lines := strings.Split(content, "\n")

	var blocks []block
	var para []string

	flushPara := func() {
		if len(para) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(para, "\n"))
		para = nil
		if text != "" {
			blocks = append(blocks, block{text: text})
		}
	}

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSuffix(lines[i], "\r")

		if strings.HasPrefix(line, "```") {
			flushPara()

			fence := []string{line}
			for i++; i < len(lines); i++ {
				closing := strings.TrimSuffix(lines[i], "\r")
				fence = append(fence, closing)
				if strings.HasPrefix(closing, "```") {
					break
				}
			}
			code := strings.Join(fence, "\n")

			// Attach the preceding paragraph, if any.
			if n := len(blocks); n > 0 && !blocks[n-1].isCode {
				code = blocks[n-1].text + "\n\n" + code
				blocks = blocks[:n-1]
			}
			blocks = append(blocks, block{text: code, isCode: true})
			continue
		}

		if strings.TrimSpace(line) == "" {
			flushPara()
			continue
		}

		para = append(para, line)
	}
	flushPara()

	return blocks
}

// packBlocks greedily concatenates blocks into texts of at most MaxChars.
// A single block exceeding MaxChars is emitted alone; fences never split.
func packBlocks(blocks []block) []string {
	var out []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}

	for _, b := range blocks {
		if current.Len() > 0 && current.Len()+2+len(b.text) > MaxChars {
			flush()
		}
		if current.Len() == 0 && len(b.text) > MaxChars {
			out = append(out, b.text)
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(b.text)
	}
	flush()

	return out
}
