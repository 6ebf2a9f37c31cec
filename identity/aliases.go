package identity

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// AliasTable maps normalised synonyms to canonical keys, per entity kind.
// A table is immutable once handed to a Resolver; canonicalisation is only
// stable within one Version.
type AliasTable struct {
	Version string
	entries map[Kind]map[string]string
}

// NewAliasTable returns an empty table with the given version label.
func NewAliasTable(version string) *AliasTable {
	return &AliasTable{Version: version, entries: make(map[Kind]map[string]string)}
}

// Add registers alias as a synonym of canonical. Both sides are normalised
// with the kind's rules, so "Rye-Grass" and "rye grass" land on the same entry.
func (t *AliasTable) Add(kind Kind, alias, canonical string) {
	a, c := normalize(kind, alias), normalize(kind, canonical)
	if a == "" || c == "" || a == c {
		return
	}
	m, ok := t.entries[kind]
	if !ok {
		m = make(map[string]string)
		t.entries[kind] = m
	}
	m[a] = c
}

// Lookup returns the canonical key for an already-normalised alias.
func (t *AliasTable) Lookup(kind Kind, normalized string) (string, bool) {
	if t == nil {
		return "", false
	}
	c, ok := t.entries[kind][normalized]
	return c, ok
}

// Aliases returns a copy of the alias -> canonical map for one kind.
func (t *AliasTable) Aliases(kind Kind) map[string]string {
	out := make(map[string]string)
	if t == nil {
		return out
	}
	for a, c := range t.entries[kind] {
		out[a] = c
	}
	return out
}

// Len returns the number of aliases across all kinds.
func (t *AliasTable) Len() int {
	n := 0
	for _, m := range t.entries {
		n += len(m)
	}
	return n
}

// Merge returns a new table holding t's entries overlaid with other's.
func (t *AliasTable) Merge(other *AliasTable) *AliasTable {
	out := NewAliasTable(t.Version)
	for _, src := range []*AliasTable{t, other} {
		if src == nil {
			continue
		}
		for kind, m := range src.entries {
			for a, c := range m {
				if out.entries[kind] == nil {
					out.entries[kind] = make(map[string]string)
				}
				out.entries[kind][a] = c
			}
		}
	}
	if other != nil && other.Version != "" {
		out.Version = t.Version + "+" + other.Version
	}
	return out
}

type aliasFile struct {
	Version string                         `yaml:"version"`
	Aliases map[string]map[string][]string `yaml:"aliases"`
}

// LoadAliasFile reads a YAML alias table:
//
//	version: "2025.1"
//	aliases:
//	  weed:
//	    ryegrass: [rye grass, annual rye grass]
func LoadAliasFile(path string) (*AliasTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading alias file: %w", err)
	}
	return ParseAliases(data)
}

// ParseAliases decodes the YAML alias table format.
func ParseAliases(data []byte) (*AliasTable, error) {
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding alias file: %w", err)
	}
	if f.Version == "" {
		return nil, fmt.Errorf("alias file: version is required")
	}

	t := NewAliasTable(f.Version)
	kinds := make([]string, 0, len(f.Aliases))
	for k := range f.Aliases {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		kind := Kind(strings.ToLower(strings.TrimSpace(k)))
		if !kind.Valid() {
			return nil, fmt.Errorf("alias file: unknown entity kind %q", k)
		}
		for canonical, aliases := range f.Aliases[k] {
			for _, a := range aliases {
				t.Add(kind, a, canonical)
			}
		}
	}
	return t, nil
}

// DefaultAliases is the built-in table of spelling variants seen on
// Australian herbicide labels.
func DefaultAliases() *AliasTable {
	t := NewAliasTable("builtin-1")
	for canonical, aliases := range map[string][]string{
		"ryegrass":        {"rye grass", "annual rye grass"},
		"wild oats":       {"wild oat"},
		"wild radish":     {"wild raddish"},
		"capeweed":        {"cape weed"},
		"brome grass":     {"bromegrass", "brome"},
		"barley grass":    {"barleygrass"},
		"silver grass":    {"silvergrass", "vulpia"},
		"fat hen":         {"fathen"},
		"patersons curse": {"salvation jane"},
		"doublegee":       {"double gee", "spiny emex", "three cornered jack"},
		"wireweed":        {"wire weed"},
		"fleabane":        {"flax leaf fleabane", "flaxleaf fleabane"},
	} {
		for _, a := range aliases {
			t.Add(Weed, a, canonical)
		}
	}
	for canonical, aliases := range map[string][]string{
		"field peas": {"field pea", "peas"},
		"faba beans": {"faba bean", "broad beans"},
		"lupins":     {"lupin", "lupines"},
		"chickpeas":  {"chickpea"},
		"lentils":    {"lentil"},
		"canola":     {"oilseed rape", "rapeseed"},
	} {
		for _, a := range aliases {
			t.Add(Crop, a, canonical)
		}
	}
	return t
}
