//go:build cgo

package agrokg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbiangul/agrokg/chunker"
	"github.com/bbiangul/agrokg/embed"
	"github.com/bbiangul/agrokg/kgerr"
	"github.com/bbiangul/agrokg/retrieval"
	"github.com/bbiangul/agrokg/store"
)

const xr700Record = `{
	"kind": "product",
	"document": {"source_id": "label-12345", "effective_date": "2024-01-01"},
	"record": {
		"registration_number": "12345",
		"name": "XR700",
		"modes_of_action": ["A"],
		"registered_uses": [
			{"crop": "Wheat", "weed": "Ryegrass", "rate": {"descriptor": "1.5 L/ha", "value": 1.5, "unit": "L/ha"}, "jurisdictions": ["NSW"]}
		]
	}
}`

const xr700Label = `DIRECTIONS FOR USE
Apply XR700 at 1.5 L/ha to control ryegrass in wheat.

STORAGE AND DISPOSAL
Store in the closed original container in a cool place.
`

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "agrokg.db")
	cfg.Embedding = embed.Config{Provider: "fake", Dim: 64}
	cfg.LoadConcurrency = 1

	eng, err := NewWithEmbedder(context.Background(), cfg, embed.NewBagOfWords(64))
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	_, err = eng.Initialize(context.Background())
	require.NoError(t, err)
	return eng
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestEngineLoadIndexQuery(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	dir := writeFiles(t, map[string]string{
		"12345.json":    xr700Record,
		"_summary.json": `{"total": 1}`,
		"broken.json":   `{"kind": "nope"}`,
		"label.txt":     xr700Label,
	})

	batch, err := eng.LoadFiles(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Loaded)
	require.Len(t, batch.Failures, 1)
	assert.Contains(t, batch.Failures[0].ID, "broken.json")

	res, err := eng.IndexFile(ctx, "label-12345", filepath.Join(dir, "label.txt"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)
	assert.Positive(t, res.Mentions)

	uses, err := eng.StructuredQuery(ctx, retrieval.Filters{Weed: "rye grass", Crop: "wheat"})
	require.NoError(t, err)
	require.Len(t, uses, 1)
	assert.Equal(t, "12345", uses[0].RegistrationNumber)

	hits, err := eng.VectorQuery(ctx, "control ryegrass in wheat", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "label-12345", hits[0].Document)

	results, trace, err := eng.HybridQuery(ctx, "control ryegrass in wheat", 5)
	require.NoError(t, err)
	require.NotNil(t, trace)
	assert.False(t, trace.Fallback)
	var withFacts int
	for _, r := range results {
		for _, f := range r.Facts {
			assert.Equal(t, "12345", f.RegistrationNumber)
			withFacts++
		}
	}
	assert.Positive(t, withFacts)

	st, err := eng.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Nodes[store.LabelProduct])
	assert.Equal(t, 2, st.Nodes[store.LabelChunk])

	sum, err := eng.Summary(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, sum.TopWeeds)
	assert.Equal(t, "ryegrass", sum.TopWeeds[0].Name)
}

func TestEngineIndexFiles(t *testing.T) {
	eng := newTestEngine(t)
	dir := writeFiles(t, map[string]string{
		"a.txt":  xr700Label,
		"b.md":   "# Weed table\n\n| Weed | Rate |\n| --- | --- |\n| Ryegrass | 1.5 L/ha |\n",
		"c.docx": "not supported",
	})

	out, err := eng.IndexFiles(context.Background(), []IndexJob{
		{SourceID: "a", Path: filepath.Join(dir, "a.txt")},
		{Path: filepath.Join(dir, "b.md")},
		{SourceID: "c", Path: filepath.Join(dir, "c.docx")},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	require.NotNil(t, out[0].Result)
	assert.Equal(t, "a", out[0].Result.Document)
	require.NotNil(t, out[1].Result)
	assert.Equal(t, "b", out[1].Result.Document)
	assert.Nil(t, out[2].Result)
	assert.Contains(t, out[2].Error, "unsupported")
}

func TestEngineQueryValidation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.StructuredQuery(ctx, retrieval.Filters{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidQuery))
	assert.True(t, kgerr.IsValidation(err))
	assert.Equal(t, "filters", kgerr.FieldOf(err, "field"))

	_, _, err = eng.HybridQuery(ctx, "ryegrass", 0)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = eng.IndexFile(ctx, "x", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestEngineReset(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	dir := writeFiles(t, map[string]string{"12345.json": xr700Record})

	_, err := eng.LoadFiles(ctx, dir)
	require.NoError(t, err)
	_, err = eng.Reset(ctx)
	require.NoError(t, err)

	st, err := eng.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Nodes[store.LabelProduct])
	assert.Positive(t, st.Nodes[store.LabelJurisdiction])
}

func TestEngineRequiresInitializeBeforeWrites(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "agrokg.db")
	cfg.Embedding = embed.Config{Provider: "fake", Dim: 64}
	dir := writeFiles(t, map[string]string{"12345.json": xr700Record})

	eng, err := NewWithEmbedder(ctx, cfg, embed.NewBagOfWords(64))
	require.NoError(t, err)

	_, err = eng.LoadFiles(ctx, dir)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = eng.IndexDocument(ctx, "label-12345", []chunker.Unit{{Text: "Apply at 1.5 L/ha."}})
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = eng.Statistics(ctx)
	require.NoError(t, err, "reads do not need constraints")

	_, err = eng.Initialize(ctx)
	require.NoError(t, err)
	_, err = eng.LoadFiles(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	// A second engine on an initialised database can write straight away.
	again, err := NewWithEmbedder(ctx, cfg, embed.NewBagOfWords(64))
	require.NoError(t, err)
	defer again.Close()
	_, err = again.IndexDocument(ctx, "label-12345", []chunker.Unit{{Text: "Apply at 1.5 L/ha."}})
	assert.NoError(t, err)
}

func TestEngineClosed(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())

	_, err := eng.Statistics(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, _, err = eng.HybridQuery(context.Background(), "ryegrass", 3)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.DBPath = "/tmp/x.db"
	assert.Equal(t, "/tmp/x.db", cfg.ResolveDBPath())

	cfg.DBPath = ""
	cfg.DBName = "labels"
	cfg.StorageDir = "local"
	assert.Equal(t, "labels.db", cfg.ResolveDBPath())

	cfg.StorageDir = "elsewhere"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Embedding.Dim = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.ChunkOverlap = cfg.MaxChunkTokens
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "x.db")
	cfg.Embedding.Provider = "nope"
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
