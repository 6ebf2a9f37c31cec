package indexer

import (
	"strings"

	"github.com/bbiangul/agrokg/identity"
	"github.com/bbiangul/agrokg/store"
)

// minNameLen keeps two-letter names and abbreviations from matching
// everywhere.
const minNameLen = 3

// Linker matches chunk text against canonical entity names and aliases on
// whole-word boundaries, after the same normalisation the resolver applies.
type Linker struct {
	entries []linkEntry
}

type linkEntry struct {
	ref   store.EntityRef
	terms []string // normalised, space-padded
}

// NewLinker indexes the given entities. Order is preserved in matches.
func NewLinker(entities []store.NamedEntity) *Linker {
	l := &Linker{}
	for _, e := range entities {
		kind := kindOf(e.Ref.Kind)
		seen := make(map[string]bool)
		var terms []string
		for _, name := range append([]string{e.Name}, e.Aliases...) {
			n := identity.Normalize(kind, name)
			if len(n) < minNameLen || seen[n] {
				continue
			}
			seen[n] = true
			terms = append(terms, " "+n+" ")
		}
		if len(terms) > 0 {
			l.entries = append(l.entries, linkEntry{ref: e.Ref, terms: terms})
		}
	}
	return l
}

// Match returns the entities text mentions. Zero matches is a valid result.
func (l *Linker) Match(text string) []store.EntityRef {
	padded := " " + identity.Normalize(identity.Weed, text) + " "
	var out []store.EntityRef
	for _, e := range l.entries {
		for _, term := range e.terms {
			if strings.Contains(padded, term) {
				out = append(out, e.ref)
				break
			}
		}
	}
	return out
}

func kindOf(label string) identity.Kind {
	switch label {
	case store.LabelCrop:
		return identity.Crop
	case store.LabelProduct:
		return identity.Product
	default:
		return identity.Weed
	}
}
