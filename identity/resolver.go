// Package identity turns free-text entity mentions into stable canonical keys.
//
// Canonicalize is a pure function of its input and the alias table the
// Resolver was built with. IsDuplicate only flags likely duplicates; it
// never merges anything.
package identity

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Kind names an entity type whose mentions can be canonicalised.
type Kind string

const (
	Product           Kind = "product"
	ActiveConstituent Kind = "active_constituent"
	Crop              Kind = "crop"
	Weed              Kind = "weed"
	GrowthStage       Kind = "growth_stage"
	RateDescriptor    Kind = "rate"
	Restriction       Kind = "restriction"
	Jurisdiction      Kind = "jurisdiction"
	ModeOfAction      Kind = "mode_of_action"
)

var kinds = map[Kind]bool{
	Product: true, ActiveConstituent: true, Crop: true, Weed: true, GrowthStage: true,
	RateDescriptor: true, Restriction: true, Jurisdiction: true, ModeOfAction: true,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return kinds[k] }

// Options tune canonicalisation.
type Options struct {
	// StripBrandSuffixes removes trailing qualifiers such as "herbicide"
	// from product names.
	StripBrandSuffixes bool
	BrandSuffixes      []string
}

// DefaultBrandSuffixes are trailing product-name words that do not change
// product identity.
var DefaultBrandSuffixes = []string{"herbicide", "weedkiller", "selective", "liquid"}

// Resolver canonicalises mentions against one alias table.
type Resolver struct {
	aliases  *AliasTable
	suffixes []string
	strip    bool
}

// New returns a Resolver. A nil alias table behaves as an empty one.
func New(aliases *AliasTable, opts Options) *Resolver {
	if aliases == nil {
		aliases = NewAliasTable("empty")
	}
	suffixes := opts.BrandSuffixes
	if len(suffixes) == 0 {
		suffixes = DefaultBrandSuffixes
	}
	normalized := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		if n := normalize(Product, s); n != "" {
			normalized = append(normalized, n)
		}
	}
	return &Resolver{aliases: aliases, suffixes: normalized, strip: opts.StripBrandSuffixes}
}

// Aliases returns the table the resolver was built with.
func (r *Resolver) Aliases() *AliasTable { return r.aliases }

// Canonicalize maps raw text to the canonical key for kind. Unknown mentions
// become their own key (the normalised text). Empty input yields "".
func (r *Resolver) Canonicalize(kind Kind, raw string) string {
	key := normalize(kind, raw)
	if key == "" {
		return ""
	}
	if kind == Product && r.strip {
		key = r.stripSuffixes(key)
	}
	if c, ok := r.aliases.Lookup(kind, key); ok {
		return c
	}
	return key
}

func (r *Resolver) stripSuffixes(key string) string {
	for changed := true; changed; {
		changed = false
		for _, s := range r.suffixes {
			if strings.HasSuffix(key, " "+s) {
				key = strings.TrimSuffix(key, " "+s)
				changed = true
			}
		}
	}
	return key
}

// DuplicateReport describes a likely-duplicate pair of canonical keys.
type DuplicateReport struct {
	Kind       Kind    `json:"kind"`
	A          string  `json:"a"`
	B          string  `json:"b"`
	Distance   int     `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// IsDuplicate reports whether a and b canonicalise to different keys that
// probably name the same entity (a typo, a missing space). Identical keys are
// the same entity and are not duplicates.
func (r *Resolver) IsDuplicate(kind Kind, a, b string) bool {
	_, dup := r.Compare(kind, a, b)
	return dup
}

// Compare is IsDuplicate with the evidence attached.
func (r *Resolver) Compare(kind Kind, a, b string) (DuplicateReport, bool) {
	ka, kb := r.Canonicalize(kind, a), r.Canonicalize(kind, b)
	rep := DuplicateReport{Kind: kind, A: ka, B: kb}
	if ka == "" || kb == "" || ka == kb {
		return rep, false
	}
	ca, cb := strings.ReplaceAll(ka, " ", ""), strings.ReplaceAll(kb, " ", "")
	rep.Distance = levenshtein.ComputeDistance(ca, cb)
	longest := max(len([]rune(ca)), len([]rune(cb)))
	rep.Similarity = 1 - float64(rep.Distance)/float64(longest)

	if digitsOf(ca) != digitsOf(cb) {
		return rep, false
	}
	if rep.Distance == 0 {
		return rep, true
	}
	shortest := min(len([]rune(ca)), len([]rune(cb)))
	switch {
	case shortest < 4:
		return rep, false
	case shortest < 8:
		return rep, rep.Distance <= 1
	default:
		return rep, rep.Distance <= 2
	}
}

func digitsOf(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// ---------------------------------------------------------------------------
// normalisation
// ---------------------------------------------------------------------------

var (
	foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	numberUnit     = regexp.MustCompile(`(\d)([a-zµ])`)
	slashSpace     = regexp.MustCompile(`\s*/\s*`)
	groupPrefix    = regexp.MustCompile(`^(hrac\s+)?group\s+`)
)

// Normalize applies kind's normalisation rules without alias lookup.
func Normalize(kind Kind, raw string) string { return normalize(kind, raw) }

func normalize(kind Kind, raw string) string {
	s, _, err := transform.String(foldDiacritics, raw)
	if err != nil {
		s = raw
	}
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("’", "", "'", "", "`", "", "®", "", "™", "").Replace(s)

	switch kind {
	case Jurisdiction:
		return strings.ToUpper(collapse(keepChars(s, "")))
	case ModeOfAction:
		s = groupPrefix.ReplaceAllString(collapse(keepChars(s, "")), "")
		return strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	case RateDescriptor:
		s = collapse(keepChars(s, ",-./%+"))
		s = numberUnit.ReplaceAllString(s, "$1 $2")
		return slashSpace.ReplaceAllString(s, "/")
	case ActiveConstituent, GrowthStage:
		return collapse(keepChars(s, ",-./%+"))
	default:
		return collapse(keepChars(s, ""))
	}
}

// keepChars replaces every rune that is not a letter or digit with a space,
// except runes in extra that sit between two letters or digits.
func keepChars(s, extra string) string {
	rs := []rune(s)
	out := make([]rune, len(rs))
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			out[i] = r
		case strings.ContainsRune(extra, r) && i > 0 && i < len(rs)-1 && isAlnum(rs[i-1]) && isAlnum(rs[i+1]):
			out[i] = r
		case r == '/' && strings.ContainsRune(extra, r):
			out[i] = r
		default:
			out[i] = ' '
		}
	}
	return string(out)
}

func isAlnum(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }
