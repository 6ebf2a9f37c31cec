package chunker

import (
	"regexp"
	"strings"
)

// ---------------------------------------------------------------------------
// Heading pattern detection
// ---------------------------------------------------------------------------

// headingPatterns are compiled regular expressions for heading styles found
// in converted label text.
var headingPatterns = []*regexp.Regexp{
	// Numbered: "1.", "1.2", "1.2.3", optionally followed by a title
	regexp.MustCompile(`^\s*(\d+\.)+(\d+)?\s+\S`),
	// Uppercase line (e.g. "DIRECTIONS FOR USE")
	regexp.MustCompile(`^[A-Z][A-Z\s]{4,}$`),
	// Markdown-style: "# Heading", "## Sub-heading"
	regexp.MustCompile(`^#{1,6}\s+\S`),
}

// IsHeading reports whether a line of text looks like a heading.
func IsHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, re := range headingPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Table detection
// ---------------------------------------------------------------------------

// looksLikeTable returns true when text appears to contain a table.
func looksLikeTable(text string) bool {
	lines := strings.Split(text, "\n")

	// Markdown-style tables: at least 3 lines, pipe characters in most.
	if len(lines) >= 3 {
		pipeCount := 0
		for _, l := range lines {
			if strings.Contains(l, "|") {
				pipeCount++
			}
		}
		if pipeCount >= len(lines)/2 {
			return true
		}
	}

	// Tab-delimited columns: at least 2 lines with multiple tabs.
	tabLines := 0
	for _, l := range lines {
		if strings.Count(l, "\t") >= 2 {
			tabLines++
		}
	}
	return tabLines >= 2
}

// isHeaderSeparator reports whether line is a markdown table separator
// row such as "|---|:---:|".
func isHeaderSeparator(line string) bool {
	trimmed := strings.Trim(strings.TrimSpace(line), "|")
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		switch r {
		case '-', ':', '|', ' ':
		default:
			return false
		}
	}
	return strings.Contains(trimmed, "-")
}

// firstLine returns the first non-empty line of text.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
