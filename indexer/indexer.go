// Package indexer builds the chunk chain of a document: it chunks ordered
// text units, embeds each chunk once per content hash, links chunks to the
// weeds, crops and products they mention, and swaps the chain in atomically.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bbiangul/agrokg/chunker"
	"github.com/bbiangul/agrokg/embed"
	"github.com/bbiangul/agrokg/store"
)

// Options tune indexing.
type Options struct {
	Chunking  chunker.Config
	BatchSize int           // texts per embedding call
	CacheSize int           // in-process embeddings kept across documents
	Timeout   time.Duration // overall deadline per document; 0 disables
}

// DefaultOptions returns the options used by the engine.
func DefaultOptions() Options {
	return Options{BatchSize: 32, CacheSize: 4096, Timeout: 5 * time.Minute}
}

// Result reports what one IndexDocument call did.
type Result struct {
	Document   string `json:"document"`
	DocumentID int64  `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Removed    int    `json:"removed"`
	Embedded   int    `json:"embedded"`    // embedding calls made for new content
	CacheHits  int    `json:"cache_hits"`  // chunks served from the cache
	Missing    int    `json:"embedding_missing"`
	Mentions   int    `json:"mentions"`
}

// Indexer writes chunk chains.
type Indexer struct {
	store    *store.Store
	embedder embed.Embedder
	chunker  *chunker.Chunker
	cache    *lru.Cache[string, []float32]
	opts     Options
}

// New creates an Indexer. The embedder's dimension must match the store's.
func New(s *store.Store, e embed.Embedder, opts Options) (*Indexer, error) {
	if e.Dim() != s.EmbeddingDim() {
		return nil, fmt.Errorf("embedder dimension %d does not match store dimension %d", e.Dim(), s.EmbeddingDim())
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 4096
	}
	cache, err := lru.New[string, []float32](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Indexer{store: s, embedder: e, chunker: chunker.New(opts.Chunking), cache: cache, opts: opts}, nil
}

// IndexDocument creates or replaces the chunk chain of the document with the
// given source id. Re-indexing replaces the prior chain; unchanged chunk text
// is served from the embedding cache. A chunk whose embedding fails is stored
// with embedding_missing set instead of failing the document.
func (ix *Indexer) IndexDocument(ctx context.Context, sourceID string, units []chunker.Unit) (*Result, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("index: document source id is required")
	}
	if ix.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ix.opts.Timeout)
		defer cancel()
	}

	docID, err := ix.store.EnsureDocument(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	product, err := ix.store.DocumentProduct(ctx, docID)
	if err != nil {
		return nil, err
	}

	pieces := ix.chunker.Chunk(units, chunker.Context{Product: product})
	res := &Result{Document: sourceID, DocumentID: docID, Chunks: len(pieces)}

	vectors, err := ix.embedPieces(ctx, pieces, res)
	if err != nil {
		return nil, err
	}

	entities, err := ix.store.LinkableEntities(ctx)
	if err != nil {
		return nil, err
	}
	link := NewLinker(entities)

	inputs := make([]store.ChunkInput, len(pieces))
	for i, p := range pieces {
		inputs[i] = store.ChunkInput{
			Text:        p.Text,
			SectionType: p.SectionType,
			ContentHash: p.ContentHash,
			Embedding:   vectors[p.ContentHash],
			Mentions:    link.Match(p.Text),
		}
	}

	rr, err := ix.store.ReplaceChunkChain(ctx, docID, inputs)
	if err != nil {
		return nil, fmt.Errorf("replacing chunk chain of %s: %w", sourceID, err)
	}
	res.Removed = rr.Removed
	res.Missing = rr.Missing
	res.Mentions = rr.Mentions

	slog.Info("indexer: document indexed",
		"document", sourceID, "chunks", res.Chunks, "removed", res.Removed,
		"embedded", res.Embedded, "cache_hits", res.CacheHits,
		"missing", res.Missing, "mentions", res.Mentions)
	return res, nil
}

// embedPieces returns one vector per distinct content hash. Hashes whose
// embedding failed are absent from the map.
func (ix *Indexer) embedPieces(ctx context.Context, pieces []chunker.Piece, res *Result) (map[string][]float32, error) {
	model := ix.embedder.Model()
	out := make(map[string][]float32, len(pieces))

	var pending []string
	texts := make(map[string]string)
	for _, p := range pieces {
		if _, seen := texts[p.ContentHash]; seen {
			continue
		}
		texts[p.ContentHash] = p.EmbedText
		if v, ok := ix.cache.Get(cacheKey(model, p.ContentHash)); ok {
			out[p.ContentHash] = v
			continue
		}
		pending = append(pending, p.ContentHash)
	}

	if len(pending) > 0 {
		stored, err := ix.store.CachedEmbeddings(ctx, model, pending)
		if err != nil {
			return nil, fmt.Errorf("reading embedding cache: %w", err)
		}
		var still []string
		for _, h := range pending {
			if v, ok := stored[h]; ok && len(v) == ix.embedder.Dim() {
				out[h] = v
				ix.cache.Add(cacheKey(model, h), v)
				continue
			}
			still = append(still, h)
		}
		pending = still
	}

	fresh := make(map[string][]float32)
	for i := 0; i < len(pending); i += ix.opts.BatchSize {
		end := min(i+ix.opts.BatchSize, len(pending))
		batch := pending[i:end]
		inputs := make([]string, len(batch))
		for j, h := range batch {
			inputs[j] = embed.Truncate(texts[h])
		}

		vecs, err := ix.embedder.Embed(ctx, inputs)
		if err == nil {
			err = embed.CheckShape(ix.embedder.Model(), vecs, len(batch), ix.embedder.Dim())
		}
		res.Embedded += len(batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// One bad text must not lose the whole batch.
			slog.Warn("indexer: embedding batch failed, falling back to individual",
				"batch_start", i, "batch_end", end, "error", err)
			for j, h := range batch {
				single, serr := ix.embedder.Embed(ctx, inputs[j:j+1])
				if serr == nil {
					serr = embed.CheckShape(ix.embedder.Model(), single, 1, ix.embedder.Dim())
				}
				if serr != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					slog.Warn("indexer: embedding failed, chunk stored without vector",
						"content_hash", h, "error", serr)
					continue
				}
				fresh[h] = single[0]
			}
			continue
		}
		for j, h := range batch {
			fresh[h] = vecs[j]
		}
	}

	for h, v := range fresh {
		out[h] = v
		ix.cache.Add(cacheKey(model, h), v)
	}
	if err := ix.store.PutEmbeddings(ctx, model, fresh); err != nil {
		// The vectors are still usable for this chain.
		slog.Warn("indexer: caching embeddings failed", "error", err)
	}

	for _, p := range pieces {
		if _, ok := out[p.ContentHash]; ok {
			if _, isFresh := fresh[p.ContentHash]; !isFresh {
				res.CacheHits++
			}
		}
	}
	return out, nil
}

func cacheKey(model, hash string) string {
	return model + "\x00" + hash
}
