package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// defaultSeparators favor markdown structure before falling back to
// sentence and word boundaries.
var defaultSeparators = []string{
	"\n\n## ",
	"\n\n### ",
	"\n\n",
	"\n",
	". ",
	" ",
	"",
}

var (
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	spaceRuns      = regexp.MustCompile(`[ \t]+`)
)

// Chunker normalizes raw artifact text and splits it into overlapping
// chunks sized for embedding.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

func NewChunker() *Chunker {
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(defaultChunkSize),
			textsplitter.WithChunkOverlap(defaultChunkOverlap),
			textsplitter.WithSeparators(defaultSeparators),
		),
	}
}

// Normalize collapses runs of blank lines to one, coalesces spaces and
// tabs, and strips trailing whitespace per line.
func Normalize(text string) string {
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	text = spaceRuns.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Split normalizes and chunks a text, dropping blank chunks.
func (c *Chunker) Split(text string) ([]string, error) {
	parts, err := c.splitter.SplitText(Normalize(text))
	if err != nil {
		return nil, fmt.Errorf("splitting text: %w", err)
	}

	chunks := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chunks = append(chunks, part)
	}
	return chunks, nil
}
