package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bbiangul/agrokg/indexer"
	"github.com/bbiangul/agrokg/store"
)

// HybridResult pairs text evidence with the structured facts of the entity
// the evidence mentions. Entity is nil for evidence that mentions nothing.
type HybridResult struct {
	Entity        *store.NamedEntity `json:"entity,omitempty"`
	Score         float64            `json:"score"`
	Similarity    float64            `json:"similarity"`
	Corroboration int                `json:"corroboration"`
	Evidence      []ChunkResult      `json:"text_evidence"`
	Facts         []UseResult        `json:"structured_facts"`
}

// Trace records how a hybrid query was answered.
type Trace struct {
	VectorHits     int      `json:"vector_hits"`
	Entities       int      `json:"entities"`
	Fallback       bool     `json:"fallback"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
	MatchedNames   []string `json:"matched_names,omitempty"`
	FTSQuery       string   `json:"fts_query,omitempty"`
	ElapsedMs      int64    `json:"elapsed_ms"`
}

// item accumulates evidence for one result before ranking.
type item struct {
	key      string
	entity   *store.NamedEntity
	evidence []ChunkResult
	facts    []UseResult
}

// HybridQuery runs a vector query, follows MENTIONS from each candidate
// chunk to weeds, crops and products, attaches their registered uses, and
// ranks the merged items with the configured scorer. With no vector hits it
// falls back to keyword matching of weed and crop names.
func (e *Engine) HybridQuery(ctx context.Context, text string, k int) ([]HybridResult, *Trace, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, invalidQuery("text", "is required")
	}
	if err := e.checkK(k); err != nil {
		return nil, nil, err
	}
	start := time.Now()
	trace := &Trace{}

	var hits []ChunkResult
	qv, err := e.embedQuery(ctx, text)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, trace, ctx.Err()
	case err != nil:
		slog.Warn("retrieval: query embedding failed, using keyword fallback", "error", err)
		trace.FallbackReason = "embedding failed"
	default:
		hits, err = e.vectorHits(ctx, qv, k*e.cfg.CandidateFactor)
		if err != nil {
			return nil, trace, err
		}
	}
	trace.VectorHits = len(hits)

	var items []*item
	if len(hits) == 0 {
		if trace.FallbackReason == "" {
			trace.FallbackReason = "no vector hits"
		}
		trace.Fallback = true
		items, err = e.keywordItems(ctx, text, k, trace)
	} else {
		items, err = e.vectorItems(ctx, hits)
	}
	if err != nil {
		return nil, trace, err
	}

	results := e.rank(items, k)
	for _, r := range results {
		if r.Entity != nil {
			trace.Entities++
		}
	}
	trace.ElapsedMs = time.Since(start).Milliseconds()
	slog.Debug("retrieval: hybrid query",
		"vector_hits", trace.VectorHits, "results", len(results),
		"fallback", trace.Fallback, "elapsed_ms", trace.ElapsedMs)
	return results, trace, nil
}

// vectorItems groups candidate chunks by the entities they mention. Chunks
// that mention nothing become evidence-only items.
func (e *Engine) vectorItems(ctx context.Context, hits []ChunkResult) ([]*item, error) {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	mentions, err := e.store.Mentions(ctx, ids)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*item)
	var items []*item
	for _, h := range hits {
		ments := mentions[h.ChunkID]
		if len(ments) == 0 {
			items = append(items, &item{key: fmt.Sprintf("Chunk:%d", h.ChunkID), evidence: []ChunkResult{h}})
			continue
		}
		for _, m := range ments {
			key := refKey(m.Ref)
			it, ok := byKey[key]
			if !ok {
				ent := m
				it = &item{key: key, entity: &ent}
				byKey[key] = it
				items = append(items, it)
			}
			it.evidence = append(it.evidence, h)
		}
	}

	for _, it := range items {
		if it.entity == nil {
			continue
		}
		if it.facts, err = e.entityFacts(ctx, it.entity.Ref, nil); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// entityFacts returns the registered uses one hop from ref, optionally
// restricted to the ids in within.
func (e *Engine) entityFacts(ctx context.Context, ref store.EntityRef, within map[int64]bool) ([]UseResult, error) {
	ids, err := e.store.UsesForEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	if within != nil {
		kept := ids[:0]
		for _, id := range ids {
			if within[id] {
				kept = append(kept, id)
			}
		}
		ids = kept
	}
	if len(ids) == 0 {
		return []UseResult{}, nil
	}
	rows, err := e.store.FindUses(ctx, store.UseFilter{UseIDs: ids, Limit: e.cfg.MaxFacts})
	if err != nil {
		return nil, err
	}
	return e.attach(ctx, rows)
}

// keywordItems answers a query without vector evidence: weed and crop names
// found in the text select registered uses the way a structured query would,
// and FTS matches supply whatever text evidence exists.
func (e *Engine) keywordItems(ctx context.Context, text string, k int, trace *Trace) ([]*item, error) {
	all, err := e.store.LinkableEntities(ctx)
	if err != nil {
		return nil, err
	}
	byRef := make(map[store.EntityRef]store.NamedEntity)
	var named []store.NamedEntity
	for _, ent := range all {
		if ent.Ref.Kind == store.LabelWeed || ent.Ref.Kind == store.LabelCrop {
			named = append(named, ent)
			byRef[ent.Ref] = ent
		}
	}
	matched := indexer.NewLinker(named).Match(text)

	var evidence []ChunkResult
	var chunkMentions map[int64][]store.NamedEntity
	if q := sanitizeFTSQuery(text); q != "" {
		trace.FTSQuery = q
		kh, err := e.store.KeywordChunks(ctx, q, k*e.cfg.CandidateFactor)
		if err != nil {
			// Malformed FTS input must not fail the structured fallback.
			slog.Warn("retrieval: keyword search failed", "query", q, "error", err)
		}
		ids := make([]int64, len(kh))
		for i, h := range kh {
			evidence = append(evidence, chunkResult(h, 0))
			ids[i] = h.ID
		}
		if chunkMentions, err = e.store.Mentions(ctx, ids); err != nil {
			return nil, err
		}
	}

	if len(matched) == 0 {
		items := make([]*item, len(evidence))
		for i, h := range evidence {
			items[i] = &item{key: fmt.Sprintf("Chunk:%d", h.ChunkID), evidence: []ChunkResult{h}}
		}
		return items, nil
	}

	// Uses must control one of the matched weeds and grow in one of the
	// matched crops; an absent kind does not constrain.
	var weedUses, cropUses map[int64]bool
	for _, ref := range matched {
		trace.MatchedNames = append(trace.MatchedNames, byRef[ref].Name)
		ids, err := e.store.UsesForEntity(ctx, ref)
		if err != nil {
			return nil, err
		}
		set := &weedUses
		if ref.Kind == store.LabelCrop {
			set = &cropUses
		}
		if *set == nil {
			*set = make(map[int64]bool)
		}
		for _, id := range ids {
			(*set)[id] = true
		}
	}
	within := intersect(weedUses, cropUses)

	items := make([]*item, 0, len(matched))
	for _, ref := range matched {
		ent := byRef[ref]
		it := &item{key: refKey(ref), entity: &ent}
		if it.facts, err = e.entityFacts(ctx, ref, within); err != nil {
			return nil, err
		}
		for _, h := range evidence {
			for _, m := range chunkMentions[h.ChunkID] {
				if m.Ref == ref {
					it.evidence = append(it.evidence, h)
					break
				}
			}
		}
		items = append(items, it)
	}
	return items, nil
}

func intersect(a, b map[int64]bool) map[int64]bool {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	out := make(map[int64]bool)
	for id := range a {
		if b[id] {
			out[id] = true
		}
	}
	return out
}

// rank scores items and returns at most k results.
func (e *Engine) rank(items []*item, k int) []HybridResult {
	byKey := make(map[string]*item, len(items))
	cands := make([]Candidate, len(items))
	for i, it := range items {
		byKey[it.key] = it
		c := Candidate{Key: it.key}
		for _, ev := range it.evidence {
			c.Similarities = append(c.Similarities, ev.Similarity)
			c.EffectiveDate = max(c.EffectiveDate, ev.EffectiveDate)
		}
		if len(c.Similarities) == 0 {
			c.Similarities = []float64{0}
		}
		for _, f := range it.facts {
			for _, d := range f.Documents {
				c.EffectiveDate = max(c.EffectiveDate, d.EffectiveDate)
			}
			if f.ProductName != "" && (c.ProductName == "" || f.ProductName < c.ProductName) {
				c.ProductName = f.ProductName
			}
		}
		if it.entity != nil {
			c.Name = it.entity.Name
			if it.entity.Ref.Kind == store.LabelProduct {
				c.ProductName = it.entity.Name
			}
		} else if len(it.evidence) > 0 {
			c.Name = it.evidence[0].Document
		}
		cands[i] = c
	}

	ranked := e.cfg.Scorer.Rank(cands)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]HybridResult, len(ranked))
	for i, r := range ranked {
		it := byKey[r.Key]
		facts, evidence := it.facts, it.evidence
		if facts == nil {
			facts = []UseResult{}
		}
		if evidence == nil {
			evidence = []ChunkResult{}
		}
		out[i] = HybridResult{
			Entity:        it.entity,
			Score:         r.Score,
			Similarity:    r.Similarity,
			Corroboration: len(evidence),
			Evidence:      evidence,
			Facts:         facts,
		}
	}
	return out
}

func refKey(ref store.EntityRef) string {
	return fmt.Sprintf("%s:%d", ref.Kind, ref.ID)
}
