package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// Label section types.
const (
	SectionProductIdentity   = "product_identity"
	SectionClaims            = "claims"
	SectionResistanceWarning = "resistance_warning"
	SectionWeedTable         = "weed_table"
	SectionDirectionsForUse  = "directions_for_use"
	SectionWithholding       = "withholding_period"
	SectionCompatibility     = "compatibility"
	SectionSafety            = "safety"
	SectionStorage           = "storage"
	SectionGeneral           = "general"
)

// sectionPatterns are tried in order; the first match wins.
var sectionPatterns = []struct {
	section string
	re      *regexp.Regexp
}{
	{SectionProductIdentity, regexp.MustCompile(`(?i)label\s*name|product\s*name|apvma`)},
	{SectionClaims, regexp.MustCompile(`(?i)statement\s*of\s*claims|\bclaims?\b`)},
	{SectionResistanceWarning, regexp.MustCompile(`(?i)resistance\s*warning|group\s*[a-z]\s*herbicide`)},
	{SectionWeedTable, regexp.MustCompile(`(?i)weed\s*table|weeds?\s*controlled`)},
	{SectionDirectionsForUse, regexp.MustCompile(`(?i)directions\s*for\s*use|situation|\bcrops?\b|\bweeds\b|\brate\b|critical\s*comments`)},
	{SectionWithholding, regexp.MustCompile(`(?i)withholding|\bwhp\b|harvest`)},
	{SectionCompatibility, regexp.MustCompile(`(?i)compatib|tank\s*mix|mixing`)},
	{SectionSafety, regexp.MustCompile(`(?i)safety|first\s*aid|poison|hazard`)},
	{SectionStorage, regexp.MustCompile(`(?i)storage|\bstore\b|disposal|container`)},
}

// Classify returns the label section a block of text belongs to, or
// SectionGeneral when no pattern matches.
func Classify(text string) string {
	for _, p := range sectionPatterns {
		if p.re.MatchString(text) {
			return p.section
		}
	}
	return SectionGeneral
}

var (
	weedIndicators = []string{"weed", "grass", "thistle", "dock", "clover", "ryegrass", "radish", "oats"}
	perHectareRate = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*(?:ml|g|l|kg)/ha`)
)

// IsWeedTable reports whether a table lists weeds with rates: one of its
// first rows names a weed in its first column or carries a per-hectare
// rate.
func IsWeedTable(text string) bool {
	lines := nonEmptyLines(text)
	if len(lines) < 3 {
		return false
	}
	for _, line := range lines[:min(len(lines), 6)] {
		if isHeaderSeparator(line) {
			continue
		}
		cells := splitCells(line)
		if len(cells) > 0 {
			first := strings.ToLower(cells[0])
			for _, ind := range weedIndicators {
				if strings.Contains(first, ind) {
					return true
				}
			}
		}
		if perHectareRate.MatchString(line) {
			return true
		}
	}
	return false
}

var sectionTitles = map[string]string{
	SectionWeedTable:        "Weed Control Table",
	SectionDirectionsForUse: "Directions for Use",
}

// Contextualize prefixes a chunk with document and section context so the
// embedding carries what the bare fragment omits, e.g.
// "[Product: XR700] [Section: weed_table] [Weed Control Table] ...".
func Contextualize(dc Context, heading, section, text string) string {
	var parts []string
	if dc.Product != "" {
		parts = append(parts, fmt.Sprintf("[Product: %s]", dc.Product))
	}
	if section != "" && section != SectionGeneral {
		parts = append(parts, fmt.Sprintf("[Section: %s]", section))
	}
	if title, ok := sectionTitles[section]; ok {
		parts = append(parts, "["+title+"]")
	}
	if heading != "" && !strings.HasPrefix(text, heading) {
		parts = append(parts, heading)
	}
	parts = append(parts, text)
	return strings.Join(parts, " ")
}

func splitCells(line string) []string {
	var sep string
	switch {
	case strings.Contains(line, "|"):
		sep = "|"
	case strings.Contains(line, "\t"):
		sep = "\t"
	default:
		return []string{strings.TrimSpace(line)}
	}
	var cells []string
	for _, c := range strings.Split(line, sep) {
		if c = strings.TrimSpace(c); c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}
