// Package retrieval is the read side of the graph: exact structured
// traversals, vector similarity over chunks, and a hybrid retriever that
// attaches one hop of registered-use context to vector evidence.
package retrieval

import (
	"fmt"

	"github.com/bbiangul/agrokg/embed"
	"github.com/bbiangul/agrokg/identity"
	"github.com/bbiangul/agrokg/kgerr"
	"github.com/bbiangul/agrokg/schema"
	"github.com/bbiangul/agrokg/store"
)

// Config holds retrieval engine configuration.
type Config struct {
	Scorer ScorerConfig `json:"scorer" yaml:"scorer" mapstructure:"scorer"`
	// CandidateFactor multiplies k for the vector candidate pool of a
	// hybrid query.
	CandidateFactor int `json:"candidate_factor" yaml:"candidate_factor" mapstructure:"candidate_factor"`
	MaxK            int `json:"max_k" yaml:"max_k" mapstructure:"max_k"`
	// MaxFacts caps the registered uses attached to one hybrid item.
	MaxFacts int `json:"max_facts" yaml:"max_facts" mapstructure:"max_facts"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{Scorer: DefaultScorerConfig(), CandidateFactor: 3, MaxK: 100, MaxFacts: 20}
}

const (
	maxStructuredLimit = 1000
	maxSearchResults   = 20
)

// Engine answers read queries. It never writes to the store.
type Engine struct {
	store     *store.Store
	embedder  embed.Embedder
	resolver  *identity.Resolver
	reference schema.ReferenceData
	cfg       Config
}

// New creates a retrieval engine. resolver canonicalises filter values the
// same way the loader canonicalised them; nil uses the built-in aliases.
func New(s *store.Store, e embed.Embedder, resolver *identity.Resolver, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Scorer == (ScorerConfig{}) {
		cfg.Scorer = def.Scorer
	}
	if cfg.CandidateFactor <= 0 {
		cfg.CandidateFactor = def.CandidateFactor
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = def.MaxK
	}
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = def.MaxFacts
	}
	if resolver == nil {
		resolver = identity.New(identity.DefaultAliases(), identity.Options{})
	}
	return &Engine{store: s, embedder: e, resolver: resolver, reference: schema.Reference, cfg: cfg}
}

// WithReference replaces the reference data used to validate jurisdiction
// and mode-of-action filters.
func (e *Engine) WithReference(ref schema.ReferenceData) *Engine {
	e.reference = ref
	return e
}

func (e *Engine) checkK(k int) error {
	if k <= 0 || k > e.cfg.MaxK {
		return kgerr.Validation(kgerr.CodeQueryValidation, "k", fmt.Sprintf("must be between 1 and %d, got %d", e.cfg.MaxK, k))
	}
	return nil
}

func invalidQuery(field, msg string) error {
	return kgerr.Validation(kgerr.CodeQueryValidation, field, msg)
}
