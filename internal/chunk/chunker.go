package chunk

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Options controls the size of emitted chunks.
type Options struct {
	MaxLines     int
	OverlapLines int
}

// DefaultOptions matches the spec's defaults: 100 lines per chunk, 10 lines
// of overlap across a size-triggered split.
var DefaultOptions = Options{MaxLines: 100, OverlapLines: 10}

func (o Options) withDefaults() Options {
	if o.MaxLines <= 0 {
		o.MaxLines = DefaultOptions.MaxLines
	}
	if o.OverlapLines < 0 || o.OverlapLines >= o.MaxLines {
		o.OverlapLines = DefaultOptions.OverlapLines
	}
	return o
}

// strategy is the tagged variant spec.md §9 Design Notes asks for in place
// of language-keyed dispatch with inheritance.
type strategy int

const (
	strategyGeneric strategy = iota
	strategyStructuredPython
	strategyStructuredJS
	strategyMarkdown
)

// extensionLanguage is the fixed extension -> language table. Unknown
// extensions fall back to the generic strategy.
var extensionLanguage = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".md":   "markdown",
	".mdx":  "markdown",
	".go":   "go",
	".java": "java",
	".rs":   "rust",
	".rb":   "ruby",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".hpp":  "cpp",
}

var languageStrategy = map[string]strategy{
	"python":           strategyStructuredPython,
	"javascript":       strategyStructuredJS,
	"javascriptreact":  strategyStructuredJS,
	"typescript":       strategyStructuredJS,
	"typescriptreact":  strategyStructuredJS,
	"markdown":         strategyMarkdown,
}

// LanguageForPath resolves a file path's language tag from its extension.
func LanguageForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extensionLanguage[ext]; ok {
		return lang
	}
	return "unknown"
}

// Split decomposes text into an ordered sequence of chunk bodies using the
// strategy appropriate for language.
func Split(text, language string, opts Options) []Body {
	opts = opts.withDefaults()

	switch languageStrategy[language] {
	case strategyStructuredPython:
		return chunkStructured(text, opts, pythonDeclPattern)
	case strategyStructuredJS:
		return chunkStructured(text, opts, jsDeclPatterns...)
	case strategyMarkdown:
		return chunkMarkdown(text)
	default:
		return chunkGeneric(text, opts)
	}
}

// declPattern recognizes a top-level declaration: the regexp that finds it
// and the functions that derive its section type/name from the match.
type declPattern struct {
	re          *regexp.Regexp
	sectionType func(match []string) string
	sectionName func(match []string) string
}

var pythonDeclPattern = declPattern{
	re: regexp.MustCompile(`^(class|def)\s+(\w+)`),
	sectionType: func(m []string) string {
		if m[1] == "def" {
			return "function"
		}
		return m[1]
	},
	sectionName: func(m []string) string { return m[2] },
}

var jsDeclPatterns = []declPattern{
	{
		re: regexp.MustCompile(`^\s*(?:export\s+)?(interface|class|async function|function)\s+(\w+)`),
		sectionType: func(m []string) string {
			if m[1] == "async function" {
				return "function"
			}
			return m[1]
		},
		sectionName: func(m []string) string { return m[2] },
	},
	{
		re:          regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?\(`),
		sectionType: func(m []string) string { return "function" },
		sectionName: func(m []string) string { return m[1] },
	},
}

// chunkStructured opens a new chunk whenever a declaration pattern matches a
// line, and independently closes on reaching max-lines, carrying overlap
// lines of tail into the next chunk.
func chunkStructured(text string, opts Options, patterns ...declPattern) []Body {
	lines := splitLines(text)
	var bodies []Body

	cur := newBuilder(1)

	flushOnDecl := func(lineNo int) {
		if b, ok := cur.body(lineNo - 1); ok {
			bodies = append(bodies, b)
		}
		cur = newBuilder(lineNo)
	}

	for i, line := range lines {
		lineNo := i + 1

		for _, p := range patterns {
			if m := p.re.FindStringSubmatch(line); m != nil {
				flushOnDecl(lineNo)
				cur.sectionType = p.sectionType(m)
				cur.sectionName = p.sectionName(m)
				break
			}
		}

		cur.add(line)

		if cur.len() >= opts.MaxLines {
			b, _ := cur.body(lineNo)
			bodies = append(bodies, b)
			cur = cur.carryOverlap(opts.OverlapLines, lineNo)
		}
	}

	if b, ok := cur.body(len(lines)); ok {
		bodies = append(bodies, b)
	}

	return bodies
}

var headingPattern = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*\s*$`)

// chunkMarkdown opens a new chunk at every heading; no overlap.
func chunkMarkdown(text string) []Body {
	lines := splitLines(text)
	var bodies []Body

	cur := newBuilder(1)
	for i, line := range lines {
		lineNo := i + 1
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			if b, ok := cur.body(lineNo - 1); ok {
				bodies = append(bodies, b)
			}
			cur = newBuilder(lineNo)
			cur.sectionType = "section"
			cur.sectionName = m[1]
		}
		cur.add(line)
	}
	if b, ok := cur.body(len(lines)); ok {
		bodies = append(bodies, b)
	}
	return bodies
}

// chunkGeneric produces a sliding window of max-lines with overlap-lines of
// tail carried into the next window.
func chunkGeneric(text string, opts Options) []Body {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil
	}

	var bodies []Body
	start := 1
	for start <= len(lines) {
		end := start + opts.MaxLines - 1
		if end > len(lines) {
			end = len(lines)
		}
		bodies = append(bodies, Body{
			Text:      strings.Join(lines[start-1:end], "\n"),
			StartLine: start,
			EndLine:   end,
		})
		if end >= len(lines) {
			break
		}
		next := end - opts.OverlapLines + 1
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return bodies
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// builder accumulates lines for the chunk currently being built.
type builder struct {
	startLine   int
	lines       []string
	sectionType string
	sectionName string
}

func newBuilder(startLine int) *builder {
	return &builder{startLine: startLine}
}

func (b *builder) add(line string) {
	b.lines = append(b.lines, line)
}

func (b *builder) len() int {
	return len(b.lines)
}

// body returns the accumulated chunk as a Body, using endLine as its closed
// upper bound. ok is false when nothing was accumulated (empty chunk).
func (b *builder) body(endLine int) (Body, bool) {
	if len(b.lines) == 0 {
		return Body{}, false
	}
	return Body{
		Text:        strings.Join(b.lines, "\n"),
		StartLine:   b.startLine,
		EndLine:     endLine,
		SectionType: b.sectionType,
		SectionName: b.sectionName,
	}, true
}

// carryOverlap starts a new builder seeded with the last overlapLines lines
// of the current one, with startLine adjusted to reflect the overlap.
func (b *builder) carryOverlap(overlapLines, lastLineNo int) *builder {
	if overlapLines <= 0 || overlapLines >= len(b.lines) {
		return newBuilder(lastLineNo + 1)
	}
	tail := b.lines[len(b.lines)-overlapLines:]
	nb := newBuilder(lastLineNo - overlapLines + 1)
	nb.lines = append([]string{}, tail...)
	return nb
}
