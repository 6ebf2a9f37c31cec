package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bbiangul/agrokg/chunker"
)

type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&TextParser{}, &MarkdownParser{}, &PDFParser{}, &XLSXParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[strings.ToLower(format)] = p
}

// ParseFile picks a parser from the file extension.
func (r *Registry) ParseFile(ctx context.Context, path string) ([]chunker.Unit, error) {
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	p, err := r.Get(format)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	units, err := p.Parse(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return units, nil
}
