// Package chunker splits the cleaned text units of a label into retrieval
// chunks, classifies each chunk into a label section and builds the
// contextualised text that is embedded.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
)

// Config controls the chunking behaviour.
type Config struct {
	MaxTokens int // Maximum estimated tokens per chunk.
	Overlap   int // Token overlap between consecutive fragments of one unit.
}

// Unit is one ordered text unit supplied by the cleaned-text provider.
// Heading is optional; when empty the first line of Text is used if it
// looks like a heading.
type Unit struct {
	Heading string `json:"heading,omitempty"`
	Text    string `json:"text"`
}

// Context is document-level information prefixed to every chunk before
// embedding.
type Context struct {
	Product string // product name or registration number
}

// Piece is one chunk ready for embedding and storage.
type Piece struct {
	Text        string // stored and shown as evidence
	SectionType string
	EmbedText   string // Text with its contextual prefix
	ContentHash string // SHA-256 of EmbedText; the embedding cache key
}

// Chunker converts text units into pieces.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 64
	}
	if cfg.Overlap >= cfg.MaxTokens {
		cfg.Overlap = cfg.MaxTokens / 4
	}
	return &Chunker{cfg: cfg}
}

// Chunk converts units into pieces in reading order. A unit that fits in
// MaxTokens becomes one piece; longer units are split at paragraph, then
// sentence boundaries, and tables are split by rows with the header row
// repeated. The section of a unit that matches no section pattern
// inherits the previous unit's section. Only blank units are skipped; a
// short line such as "WHP: 7 days" is still a piece.
func (c *Chunker) Chunk(units []Unit, dc Context) []Piece {
	var pieces []Piece
	current := SectionGeneral
	for _, u := range units {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		heading := strings.TrimSpace(u.Heading)
		if heading == "" && IsHeading(firstLine(text)) {
			heading = firstLine(text)
		}

		section := Classify(heading + "\n" + text)
		table := looksLikeTable(text)
		switch {
		case table && IsWeedTable(text):
			section = SectionWeedTable
		case section == SectionGeneral:
			section = current
		}
		if section != SectionWeedTable {
			current = section
		}

		var fragments []string
		if table {
			fragments = c.splitTable(text)
		} else {
			fragments = c.splitContent(text)
		}
		for _, frag := range fragments {
			if strings.TrimSpace(frag) == "" {
				continue
			}
			embed := Contextualize(dc, heading, section, frag)
			pieces = append(pieces, Piece{
				Text:        frag,
				SectionType: section,
				EmbedText:   embed,
				ContentHash: ContentHash(embed),
			})
		}
	}
	return pieces
}

// splitContent breaks a long text into fragments that each fit within
// MaxTokens, splitting at paragraph and then sentence boundaries.
// Consecutive fragments share an overlap of c.cfg.Overlap tokens worth
// of trailing text from the previous fragment.
func (c *Chunker) splitContent(text string) []string {
	if estimateTokens(text) <= c.cfg.MaxTokens {
		return []string{strings.TrimSpace(text)}
	}

	paragraphs := splitParagraphs(text)
	var fragments []string
	var current strings.Builder
	currentTokens := 0
	overlapText := ""

	for _, para := range paragraphs {
		paraTokens := estimateTokens(para)

		if paraTokens > c.cfg.MaxTokens {
			if current.Len() > 0 {
				fragments = append(fragments, strings.TrimSpace(current.String()))
				overlapText = extractOverlap(current.String(), c.cfg.Overlap)
				current.Reset()
				currentTokens = 0
			}
			sentenceFragments := c.splitBySentences(para, overlapText)
			fragments = append(fragments, sentenceFragments...)
			if len(sentenceFragments) > 0 {
				overlapText = extractOverlap(sentenceFragments[len(sentenceFragments)-1], c.cfg.Overlap)
			}
			continue
		}

		if currentTokens+paraTokens > c.cfg.MaxTokens && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			overlapText = extractOverlap(current.String(), c.cfg.Overlap)
			current.Reset()
			currentTokens = 0

			if overlapText != "" {
				current.WriteString(overlapText)
				current.WriteString("\n\n")
				currentTokens = estimateTokens(overlapText)
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	return fragments
}

// splitBySentences breaks a paragraph into fragments at sentence
// boundaries, respecting MaxTokens and prepending overlap from the
// previous fragment.
func (c *Chunker) splitBySentences(text string, initialOverlap string) []string {
	sentences := splitSentences(text)
	var fragments []string
	var current strings.Builder
	currentTokens := 0

	if initialOverlap != "" {
		current.WriteString(initialOverlap)
		current.WriteString(" ")
		currentTokens = estimateTokens(initialOverlap)
	}

	for _, sent := range sentences {
		sentTokens := estimateTokens(sent)

		if currentTokens+sentTokens > c.cfg.MaxTokens && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			overlap := extractOverlap(current.String(), c.cfg.Overlap)
			current.Reset()
			currentTokens = 0
			if overlap != "" {
				current.WriteString(overlap)
				current.WriteString(" ")
				currentTokens = estimateTokens(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
		currentTokens += sentTokens
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	return fragments
}

// splitTable splits an oversized table into row groups. Each group repeats
// the header row (and its separator) so a fragment reads as a table.
func (c *Chunker) splitTable(text string) []string {
	if estimateTokens(text) <= c.cfg.MaxTokens {
		return []string{strings.TrimSpace(text)}
	}
	lines := nonEmptyLines(text)
	var header []string
	body := lines
	if len(lines) > 1 && isHeaderSeparator(lines[1]) {
		header, body = lines[:2], lines[2:]
	} else if len(lines) > 0 {
		header, body = lines[:1], lines[1:]
	}
	headerTokens := estimateTokens(strings.Join(header, "\n"))

	var fragments []string
	var rows []string
	rowTokens := 0
	flush := func() {
		if len(rows) == 0 {
			return
		}
		fragments = append(fragments, strings.Join(append(append([]string{}, header...), rows...), "\n"))
		rows, rowTokens = nil, 0
	}
	for _, row := range body {
		t := estimateTokens(row)
		if headerTokens+rowTokens+t > c.cfg.MaxTokens {
			flush()
		}
		rows = append(rows, row)
		rowTokens += t
	}
	flush()
	return fragments
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// estimateTokens approximates the token count of text using a simple
// word-based heuristic: tokens ~ words * 1.3.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// splitParagraphs splits text on blank-line boundaries.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences is a simple sentence tokeniser.  It splits on
// period/question-mark/exclamation followed by whitespace or end of
// string. Decimal rates such as "1.5 L/ha" never split.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// extractOverlap returns the trailing portion of text whose estimated
// token count is at most maxTokens.  It works at the word level.
func extractOverlap(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	maxWords := int(float64(maxTokens) / 1.3)
	if maxWords > len(words) {
		maxWords = len(words)
	}
	if maxWords == 0 {
		return ""
	}
	return strings.Join(words[len(words)-maxWords:], " ")
}

// ContentHash returns the SHA-256 hex digest of text.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, strings.TrimRight(l, " \t"))
		}
	}
	return out
}
