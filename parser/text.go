package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bbiangul/agrokg/chunker"
)

// TextParser handles plain text (.txt) files. Lines that look like
// headings start a new unit.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt"} }

func (p *TextParser) Parse(ctx context.Context, path string) ([]chunker.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	return splitUnits(string(data)), nil
}

// MarkdownParser handles .md files, splitting at ATX headings.
type MarkdownParser struct{}

func (p *MarkdownParser) SupportedFormats() []string { return []string{"md", "markdown"} }

func (p *MarkdownParser) Parse(ctx context.Context, path string) ([]chunker.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading markdown file: %w", err)
	}

	var units []chunker.Unit
	var heading string
	var body strings.Builder
	flush := func() {
		if text := strings.TrimSpace(body.String()); text != "" {
			units = append(units, chunker.Unit{Heading: heading, Text: text})
		}
		body.Reset()
	}

	inFence := false
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if !inFence && strings.HasPrefix(trimmed, "#") {
			if h := strings.TrimSpace(strings.TrimLeft(trimmed, "#")); h != "" {
				flush()
				heading = h
				continue
			}
		}
		body.WriteString(strings.TrimRight(line, " \t\r"))
		body.WriteString("\n")
	}
	flush()
	return units, nil
}

// splitUnits breaks extracted text into units, starting a new unit at each
// heading line. Blank-line paragraph breaks are preserved inside a unit.
func splitUnits(text string) []chunker.Unit {
	var units []chunker.Unit
	var current strings.Builder
	var heading string

	flush := func() {
		if content := strings.TrimSpace(current.String()); content != "" {
			units = append(units, chunker.Unit{Heading: heading, Text: content})
		}
		current.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			continue
		}
		if chunker.IsHeading(trimmed) {
			flush()
			heading = trimmed
			continue
		}
		current.WriteString(trimmed)
		current.WriteString("\n")
	}
	flush()

	// A document with headings only still yields its headings as text.
	if len(units) == 0 && heading != "" {
		units = append(units, chunker.Unit{Heading: heading, Text: heading})
	}
	return units
}
