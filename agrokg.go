// Package agrokg is a knowledge graph of registered herbicide uses. It
// loads structured label extractions into an embedded SQLite graph, indexes
// label text for vector search, and answers structured, vector and hybrid
// queries over both.
package agrokg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bbiangul/agrokg/chunker"
	"github.com/bbiangul/agrokg/embed"
	"github.com/bbiangul/agrokg/extraction"
	"github.com/bbiangul/agrokg/identity"
	"github.com/bbiangul/agrokg/indexer"
	"github.com/bbiangul/agrokg/kgerr"
	"github.com/bbiangul/agrokg/loader"
	"github.com/bbiangul/agrokg/mirror"
	"github.com/bbiangul/agrokg/parser"
	"github.com/bbiangul/agrokg/retrieval"
	"github.com/bbiangul/agrokg/schema"
	"github.com/bbiangul/agrokg/store"
)

// Engine is the main entry point for the herbicide knowledge graph.
type Engine interface {
	// Initialize creates constraints and indexes and seeds reference data.
	Initialize(ctx context.Context) (*schema.InitReport, error)

	// Reset deletes every domain node and relationship, then initialises.
	Reset(ctx context.Context) (*schema.InitReport, error)

	// Statistics returns node and relationship counts by type.
	Statistics(ctx context.Context) (*store.Stats, error)

	// Summary returns statistics plus the most used weeds and crops.
	Summary(ctx context.Context, top int) (*schema.Summary, error)

	// LoadRecord upserts one extraction record.
	LoadRecord(ctx context.Context, rec extraction.Record, doc extraction.DocumentInfo) (*loader.LoadResult, error)

	// LoadBatch upserts records with bounded concurrency.
	LoadBatch(ctx context.Context, items []loader.Item) (*loader.BatchResult, error)

	// LoadFiles reads record files and directories and loads them as one
	// batch. Undecodable files are reported as failures.
	LoadFiles(ctx context.Context, paths ...string) (*loader.BatchResult, error)

	// IndexDocument chunks, embeds and stores the text units of a document,
	// replacing any previous chunks of that document.
	IndexDocument(ctx context.Context, sourceID string, units []chunker.Unit) (*indexer.Result, error)

	// IndexFile parses a label file and indexes it under sourceID.
	IndexFile(ctx context.Context, sourceID, path string) (*indexer.Result, error)

	// IndexFiles indexes several files concurrently. Failures are reported
	// per job; the error is non-nil only for cancellation.
	IndexFiles(ctx context.Context, jobs []IndexJob) ([]IndexOutcome, error)

	StructuredQuery(ctx context.Context, f retrieval.Filters) ([]retrieval.UseResult, error)
	VectorQuery(ctx context.Context, text string, k int) ([]retrieval.ChunkResult, error)
	HybridQuery(ctx context.Context, text string, k int) ([]retrieval.HybridResult, *retrieval.Trace, error)
	RotationOptions(ctx context.Context, weed, crop, currentGroup string) ([]retrieval.UseResult, error)
	ProductDetails(ctx context.Context, registrationNumber string) (*retrieval.ProductDetails, error)
	SearchEntities(ctx context.Context, kind, term string) ([]store.NamedEntity, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// IndexJob names one label file to index.
type IndexJob struct {
	SourceID string `json:"source_id"`
	Path     string `json:"path"`
}

// IndexOutcome is the result of one IndexJob.
type IndexOutcome struct {
	IndexJob
	Result *indexer.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	store     *store.Store
	schema    *schema.Manager
	loader    *loader.Loader
	indexer   *indexer.Indexer
	retriever *retrieval.Engine
	parsers   *parser.Registry
	mirror    *mirror.Mirror

	mu     sync.RWMutex
	closed bool
	ready  atomic.Bool // constraints verified present
}

// New creates an engine with the given configuration. The embedder is built
// from cfg.Embedding; NewWithEmbedder accepts one directly. Call Initialize
// before the first load on a new database.
func New(ctx context.Context, cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e, err := embed.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return NewWithEmbedder(ctx, cfg, embed.WithRetry(e))
}

// NewWithEmbedder creates an engine around an existing embedder.
//
// Loading and indexing depend on the store's uniqueness constraints, so a new
// database must be initialised with Initialize first; until then those
// operations return ErrNotInitialized. Queries work on any store.
func NewWithEmbedder(ctx context.Context, cfg Config, emb embed.Embedder) (Engine, error) {
	if emb == nil {
		return nil, fmt.Errorf("%w: embedder is nil", ErrInvalidConfig)
	}
	if cfg.Embedding.Dim == 0 {
		cfg.Embedding.Dim = emb.Dim()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	resolver, err := buildResolver(cfg)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.ResolveDBPath()
	s, err := store.New(dbPath, cfg.Embedding.Dim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	lopts := loader.DefaultOptions()
	if cfg.LoadConcurrency > 0 {
		lopts.Concurrency = cfg.LoadConcurrency
	}
	if cfg.LoadRetries > 0 {
		lopts.MaxRetries = cfg.LoadRetries
	}
	lopts.RecordTimeout = cfg.RecordTimeout

	iopts := indexer.DefaultOptions()
	iopts.Chunking = chunker.Config{MaxTokens: cfg.MaxChunkTokens, Overlap: cfg.ChunkOverlap}
	if cfg.EmbedBatchSize > 0 {
		iopts.BatchSize = cfg.EmbedBatchSize
	}
	if cfg.EmbedCacheSize > 0 {
		iopts.CacheSize = cfg.EmbedCacheSize
	}
	iopts.Timeout = cfg.IndexTimeout

	ix, err := indexer.New(s, emb, iopts)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	m, err := mirror.New(ctx, cfg.Neo4j)
	if err != nil {
		s.Close()
		return nil, err
	}

	slog.Info("agrokg: engine ready",
		"db", dbPath,
		"embedding_model", emb.Model(),
		"embedding_dim", cfg.Embedding.Dim,
		"mirror", m != nil,
		"aliases", resolver.Aliases().Len())

	return &engine{
		cfg:       cfg,
		store:     s,
		schema:    schema.NewManager(s),
		loader:    loader.New(s, resolver, lopts),
		indexer:   ix,
		retriever: retrieval.New(s, emb, resolver, cfg.Retrieval),
		parsers:   parser.NewRegistry(),
		mirror:    m,
	}, nil
}

// buildResolver merges configured alias files over the built-in table.
func buildResolver(cfg Config) (*identity.Resolver, error) {
	aliases := identity.DefaultAliases()
	for _, path := range cfg.AliasFiles {
		t, err := identity.LoadAliasFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		aliases = aliases.Merge(t)
	}
	return identity.New(aliases, identity.Options{StripBrandSuffixes: cfg.StripBrandSuffixes}), nil
}

// open guards every operation against use after Close. The returned func
// releases the read lock.
func (e *engine) open() (func(), error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	return e.mu.RUnlock, nil
}

// writable is open plus a check that Initialize has run against this
// database, possibly from another process.
func (e *engine) writable(ctx context.Context) (func(), error) {
	release, err := e.open()
	if err != nil {
		return nil, err
	}
	if e.ready.Load() {
		return release, nil
	}
	for _, obj := range store.Constraints {
		ok, err := e.store.ObjectExists(ctx, obj.Name)
		if err != nil {
			release()
			return nil, err
		}
		if !ok {
			release()
			return nil, fmt.Errorf("%w: missing constraint %s, run Initialize first", ErrNotInitialized, obj.Name)
		}
	}
	e.ready.Store(true)
	return release, nil
}

func (e *engine) Initialize(ctx context.Context) (*schema.InitReport, error) {
	release, err := e.open()
	if err != nil {
		return nil, err
	}
	defer release()

	report, err := e.schema.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	e.ready.Store(true)
	e.mirror.EnsureSchema(ctx)
	return report, nil
}

func (e *engine) Reset(ctx context.Context) (*schema.InitReport, error) {
	release, err := e.open()
	if err != nil {
		return nil, err
	}
	defer release()
	report, err := e.schema.Reset(ctx)
	if err == nil {
		e.ready.Store(true)
	}
	return report, err
}

func (e *engine) Statistics(ctx context.Context) (*store.Stats, error) {
	release, err := e.open()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.schema.Statistics(ctx)
}

func (e *engine) Summary(ctx context.Context, top int) (*schema.Summary, error) {
	release, err := e.open()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.schema.Summary(ctx, top)
}

func (e *engine) LoadRecord(ctx context.Context, rec extraction.Record, doc extraction.DocumentInfo) (*loader.LoadResult, error) {
	release, err := e.writable(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := e.loader.LoadRecord(ctx, rec, doc)
	if err != nil {
		return nil, err
	}
	e.syncMirror(ctx, res)
	return res, nil
}

func (e *engine) LoadBatch(ctx context.Context, items []loader.Item) (*loader.BatchResult, error) {
	release, err := e.writable(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.loadBatch(ctx, items)
}

func (e *engine) loadBatch(ctx context.Context, items []loader.Item) (*loader.BatchResult, error) {
	res, err := e.loader.LoadBatch(ctx, items)
	if res != nil {
		for _, r := range res.Results {
			e.syncMirror(ctx, r)
		}
	}
	return res, err
}

func (e *engine) LoadFiles(ctx context.Context, paths ...string) (*loader.BatchResult, error) {
	release, err := e.writable(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	items, unreadable, err := loader.ReadItems(paths...)
	if err != nil {
		return nil, err
	}
	res, err := e.loadBatch(ctx, items)
	if res != nil && len(unreadable) > 0 {
		res.Failures = append(unreadable, res.Failures...)
	}
	return res, err
}

// syncMirror copies a loaded record to Neo4j. The SQLite store is the source
// of truth, so mirror failures are logged and never fail the load.
func (e *engine) syncMirror(ctx context.Context, res *loader.LoadResult) {
	if e.mirror == nil || res == nil || res.Snapshot == nil {
		return
	}
	if err := e.mirror.Sync(ctx, res.Snapshot); err != nil {
		slog.Warn("agrokg: mirror sync failed", "registration_number", res.RegistrationNumber, "error", err)
	}
}

func (e *engine) IndexDocument(ctx context.Context, sourceID string, units []chunker.Unit) (*indexer.Result, error) {
	release, err := e.writable(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.indexer.IndexDocument(ctx, sourceID, units)
}

func (e *engine) IndexFile(ctx context.Context, sourceID, path string) (*indexer.Result, error) {
	release, err := e.writable(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.indexFile(ctx, sourceID, path)
}

func (e *engine) indexFile(ctx context.Context, sourceID, path string) (*indexer.Result, error) {
	if strings.TrimSpace(sourceID) == "" {
		sourceID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if _, err := e.parsers.Get(format); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	start := time.Now()
	units, err := e.parsers.ParseFile(ctx, path)
	if err != nil {
		return nil, err
	}
	slog.Debug("agrokg: file parsed", "path", path, "units", len(units), "elapsed", time.Since(start))
	return e.indexer.IndexDocument(ctx, sourceID, units)
}

func (e *engine) IndexFiles(ctx context.Context, jobs []IndexJob) ([]IndexOutcome, error) {
	release, err := e.writable(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([]IndexOutcome, len(jobs))
	limit := e.cfg.IndexConcurrency
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			out[i].IndexJob = job
			if err := gctx.Err(); err != nil {
				out[i].Error = err.Error()
				return nil
			}
			res, err := e.indexFile(gctx, job.SourceID, job.Path)
			if err != nil {
				slog.Warn("agrokg: index failed", "path", job.Path, "error", err)
				out[i].Error = err.Error()
				return nil
			}
			out[i].Result = res
			return nil
		})
	}
	_ = g.Wait()
	return out, ctx.Err()
}

func (e *engine) StructuredQuery(ctx context.Context, f retrieval.Filters) ([]retrieval.UseResult, error) {
	release, err := e.open()
	if err != nil {
		return nil, err
	}
	defer release()
	res, err := e.retriever.StructuredQuery(ctx, f)
	return res, queryErr(err)
}

func (e *engine) VectorQuery(ctx context.Context, text string, k int) ([]retrieval.ChunkResult, error) {
	release, err := e.open()
	if err != nil {
		return nil, err
	}
	defer release()
	res, err := e.retriever.VectorQuery(ctx, text, k)
	return res, queryErr(err)
}

func (e *engine) HybridQuery(ctx context.Context, text string, k int) ([]retrieval.HybridResult, *retrieval.Trace, error) {
	release, err := e.open()
	if err != nil {
		return nil, nil, err
	}
	defer release()
	res, trace, err := e.retriever.HybridQuery(ctx, text, k)
	return res, trace, queryErr(err)
}

func (e *engine) RotationOptions(ctx context.Context, weed, crop, currentGroup string) ([]retrieval.UseResult, error) {
	release, err := e.open()
	if err != nil {
		return nil, err
	}
	defer release()
	res, err := e.retriever.RotationOptions(ctx, weed, crop, currentGroup)
	return res, queryErr(err)
}

func (e *engine) ProductDetails(ctx context.Context, registrationNumber string) (*retrieval.ProductDetails, error) {
	release, err := e.open()
	if err != nil {
		return nil, err
	}
	defer release()
	res, err := e.retriever.ProductDetails(ctx, registrationNumber)
	return res, queryErr(err)
}

func (e *engine) SearchEntities(ctx context.Context, kind, term string) ([]store.NamedEntity, error) {
	release, err := e.open()
	if err != nil {
		return nil, err
	}
	defer release()
	res, err := e.retriever.SearchEntities(ctx, kind, term)
	return res, queryErr(err)
}

// queryErr tags query validation errors with ErrInvalidQuery while keeping
// the kgerr code and field reachable.
func queryErr(err error) error {
	if err == nil || errors.Is(err, ErrInvalidQuery) {
		return err
	}
	if kgerr.CodeOf(err) == kgerr.CodeQueryValidation {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return err
}

func (e *engine) Store() *store.Store {
	return e.store
}

func (e *engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if err := e.mirror.Close(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("closing mirror: %w", err))
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}
