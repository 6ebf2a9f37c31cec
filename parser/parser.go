// Package parser turns label files into the ordered text units consumed by
// the indexer. It is the file-based text provider: the cleaned text of a
// label arrives here as .txt, .md, .pdf or .xlsx.
package parser

import (
	"context"

	"github.com/bbiangul/agrokg/chunker"
)

// Parser can parse a specific file format into text units.
type Parser interface {
	Parse(ctx context.Context, path string) ([]chunker.Unit, error)
	SupportedFormats() []string
}
