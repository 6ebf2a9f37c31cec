//go:build cgo

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbiangul/agrokg/kgerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), 4) // dim=4 for test vectors
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.ApplyObjects(context.Background(), SchemaObjects()))
	return s
}

// fixture is one product registered for one use, with its neighbours.
type fixture struct {
	product, crop, weed, use, doc int64
}

func seedUse(t *testing.T, s *Store) fixture {
	t.Helper()
	ctx := context.Background()
	rank := Rank("2024-03-01", 1)
	var f fixture

	var err error
	f.doc, err = s.EnsureDocument(ctx, "label-12345")
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx *Tx) error {
		res, err := tx.MergeNode(ctx, ProductSpec, Node{
			Key:     []any{"12345"},
			Scalars: map[string]string{"name": "Ryeclear 500"},
		}, rank)
		if err != nil {
			return err
		}
		f.product = res.ID
		if res, err = tx.MergeNode(ctx, CropSpec, Node{Key: []any{"wheat"}}, rank); err != nil {
			return err
		}
		f.crop = res.ID
		if res, err = tx.MergeNode(ctx, WeedSpec, Node{
			Key:     []any{"ryegrass"},
			Scalars: map[string]string{"scientific_name": "Lolium rigidum"},
			Sets:    map[string][]string{"aliases": {"annual rye grass"}},
		}, rank); err != nil {
			return err
		}
		f.weed = res.ID
		if res, err = tx.MergeNode(ctx, RegisteredUseSpec, Node{
			Key:     []any{f.product, f.crop, f.weed, "1.5 L/ha"},
			Scalars: map[string]string{"comments": "apply pre-emergence"},
		}, rank); err != nil {
			return err
		}
		f.use = res.ID

		jid, ok, err := tx.LookupCode(ctx, LabelJurisdiction, "NSW")
		if err != nil {
			return err
		}
		require.True(t, ok)
		mid, ok, err := tx.LookupCode(ctx, LabelModeOfAction, "K")
		if err != nil {
			return err
		}
		require.True(t, ok)

		for _, e := range []Edge{
			{Rel: RelHasUse, SrcKind: LabelProduct, SrcID: f.product, DstKind: LabelRegisteredUse, DstID: f.use},
			{Rel: RelForCrop, SrcKind: LabelRegisteredUse, SrcID: f.use, DstKind: LabelCrop, DstID: f.crop},
			{Rel: RelControls, SrcKind: LabelRegisteredUse, SrcID: f.use, DstKind: LabelWeed, DstID: f.weed},
			{Rel: RelRegisteredIn, SrcKind: LabelRegisteredUse, SrcID: f.use, DstKind: LabelJurisdiction, DstID: jid},
			{Rel: RelHasModeOfAction, SrcKind: LabelProduct, SrcID: f.product, DstKind: LabelModeOfAction, DstID: mid},
			{Rel: RelHasLabel, SrcKind: LabelProduct, SrcID: f.product, DstKind: LabelDocument, DstID: f.doc},
		} {
			e.DocumentID = f.doc
			if _, err := tx.InsertEdge(ctx, e, rank); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return f
}

func seedReference(t *testing.T, s *Store) {
	t.Helper()
	_, err := s.SeedReference(context.Background(), 1,
		[]Jurisdiction{{Code: "NSW", Name: "New South Wales"}, {Code: "VIC", Name: "Victoria"}},
		[]ModeOfAction{
			{Code: "K", Description: "Inhibition of very long chain fatty acid synthesis", ResistanceRisk: "moderate"},
			{Code: "M", Description: "Inhibition of EPSP synthase", ResistanceRisk: "moderate"},
		})
	require.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, 4, s.EmbeddingDim())
	assert.NotNil(t, s.DB())

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	s, err := New(filepath.Join(dir, "test.db"), 4)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestNewRejectsBadDimension(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "test.db"), 0)
	assert.Error(t, err)
}

func TestApplyObjectsRejectsIncompatibleIndex(t *testing.T) {
	s := newTestStore(t)
	err := s.ApplyObjects(context.Background(), []Object{
		{"uq_weed_name", "CREATE UNIQUE INDEX uq_weed_name ON weeds(scientific_name)"},
	})
	require.Error(t, err)
	assert.True(t, kgerr.IsSchema(err))
}

// ---------------------------------------------------------------------------
// Node and edge merge
// ---------------------------------------------------------------------------

func TestMergeNodeLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	older, newer := Rank("2023-01-10", 1), Rank("2024-06-01", 2)

	merge := func(name string, methods []string, rank string) MergeResult {
		t.Helper()
		var res MergeResult
		err := s.InTx(ctx, func(tx *Tx) error {
			var err error
			res, err = tx.MergeNode(ctx, ProductSpec, Node{
				Key:     []any{"12345"},
				Scalars: map[string]string{"name": name},
				Sets:    map[string][]string{"application_methods": methods},
			}, rank)
			return err
		})
		require.NoError(t, err)
		return res
	}

	first := merge("Ryeclear", []string{"boom spray"}, older)
	assert.Equal(t, Created, first.Outcome)
	assert.Empty(t, first.Conflicts)

	second := merge("Ryeclear 500", []string{"aerial"}, newer)
	assert.Equal(t, Updated, second.Outcome)
	assert.Equal(t, first.ID, second.ID)
	require.Len(t, second.Conflicts, 1)
	assert.Equal(t, Conflict{LabelProduct, "12345", "name", "Ryeclear 500", "Ryeclear"}, second.Conflicts[0])

	// An older document cannot overwrite, but its conflict is still reported.
	third := merge("Ryeclear Old", nil, older)
	assert.Equal(t, Unchanged, third.Outcome)
	require.Len(t, third.Conflicts, 1)
	assert.Equal(t, "Ryeclear 500", third.Conflicts[0].Kept)
	assert.Equal(t, "Ryeclear Old", third.Conflicts[0].Discarded)

	// Empty scalars never clear a stored value.
	fourth := merge("", nil, newer)
	assert.Equal(t, Unchanged, fourth.Outcome)

	p, err := s.Product(ctx, "12345")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Ryeclear 500", p.Name)
	assert.Equal(t, []string{"aerial", "boom spray"}, p.ApplicationMethods)
}

func TestMergeNodeOlderFillsGap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.MergeNode(ctx, WeedSpec, Node{Key: []any{"ryegrass"}}, Rank("2024-01-01", 1)); err != nil {
			return err
		}
		res, err := tx.MergeNode(ctx, WeedSpec, Node{
			Key:     []any{"ryegrass"},
			Scalars: map[string]string{"scientific_name": "Lolium rigidum"},
		}, Rank("2020-01-01", 1))
		if err != nil {
			return err
		}
		assert.Equal(t, Updated, res.Outcome)
		assert.Empty(t, res.Conflicts)
		return nil
	})
	require.NoError(t, err)

	hits, err := s.SearchNames(ctx, LabelWeed, "rye", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ryegrass", hits[0].Name)
}

func TestMergeNodeKeyArity(t *testing.T) {
	s := newTestStore(t)
	err := s.InTx(context.Background(), func(tx *Tx) error {
		_, err := tx.MergeNode(context.Background(), RegisteredUseSpec, Node{Key: []any{int64(1)}}, "")
		return err
	})
	assert.ErrorContains(t, err, "want 4 key values")
}

func TestInsertEdgeDeduplicates(t *testing.T) {
	s := newTestStore(t)
	seedReference(t, s)
	f := seedUse(t, s)
	ctx := context.Background()

	e := Edge{Rel: RelControls, SrcKind: LabelRegisteredUse, SrcID: f.use, DstKind: LabelWeed, DstID: f.weed}
	err := s.InTx(ctx, func(tx *Tx) error {
		out, err := tx.InsertEdge(ctx, e, "")
		assert.Equal(t, Unchanged, out)
		return err
	})
	require.NoError(t, err)

	// A different discriminator is a distinct parallel edge.
	e.Discriminator = "suppression"
	err = s.InTx(ctx, func(tx *Tx) error {
		out, err := tx.InsertEdge(ctx, e, "")
		assert.Equal(t, Created, out)
		return err
	})
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Relationships[RelControls])
}

func TestMergeEdgeRespectsRank(t *testing.T) {
	s := newTestStore(t)
	seedReference(t, s)
	f := seedUse(t, s)
	ctx := context.Background()

	var constituent int64
	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		res, err := tx.MergeNode(ctx, ActiveConstituentSpec, Node{Key: []any{"s-metolachlor"}}, "")
		constituent = res.ID
		return err
	}))

	e := Edge{
		Rel: RelContains, SrcKind: LabelProduct, SrcID: f.product,
		DstKind: LabelActiveConstituent, DstID: constituent,
	}
	mergeEdge := func(conc float64, rank string) Outcome {
		t.Helper()
		var out Outcome
		e.Props = map[string]any{"concentration": conc}
		require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
			var err error
			out, err = tx.MergeEdge(ctx, e, rank)
			return err
		}))
		return out
	}

	assert.Equal(t, Created, mergeEdge(500, Rank("2023-01-01", 1)))
	assert.Equal(t, Updated, mergeEdge(450, Rank("2024-01-01", 1)))
	assert.Equal(t, Unchanged, mergeEdge(400, Rank("2022-01-01", 1)))
	assert.Equal(t, Unchanged, mergeEdge(450, Rank("2024-01-01", 1)))
}

func TestLookupCodeRejectsNonReferenceLabel(t *testing.T) {
	s := newTestStore(t)
	err := s.InTx(context.Background(), func(tx *Tx) error {
		_, _, err := tx.LookupCode(context.Background(), LabelWeed, "ryegrass")
		return err
	})
	assert.ErrorContains(t, err, "not a reference label")
}

func TestRankOrdering(t *testing.T) {
	assert.Less(t, Rank("2023-12-31", 9), Rank("2024-01-01", 1))
	assert.Less(t, Rank("2024-01-01", 1), Rank("2024-01-01", 2))
	assert.Less(t, Rank("", 5), Rank("1999-01-01", 0))
}

// ---------------------------------------------------------------------------
// Chunks
// ---------------------------------------------------------------------------

func TestReplaceChunkChain(t *testing.T) {
	s := newTestStore(t)
	seedReference(t, s)
	f := seedUse(t, s)
	ctx := context.Background()

	res, err := s.ReplaceChunkChain(ctx, f.doc, []ChunkInput{
		{Text: "Controls annual ryegrass in wheat.", SectionType: "directions", ContentHash: "h1",
			Embedding: []float32{1, 0, 0, 0}, Mentions: []EntityRef{{LabelWeed, f.weed}, {LabelCrop, f.crop}}},
		{Text: "Store in a cool dry place.", ContentHash: "h2"},
		{Text: "Do not graze treated crops.", SectionType: "restrictions", ContentHash: "h3",
			Embedding: []float32{0, 1, 0, 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, ReplaceResult{Removed: 0, Inserted: 3, Next: 2, Mentions: 2, Missing: 1}, *res)

	chain, err := s.ChunkChain(ctx, "label-12345")
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "directions", chain[0].SectionType)
	assert.Equal(t, "general", chain[1].SectionType)
	assert.True(t, chain[1].EmbeddingMissing)

	mentions, err := s.Mentions(ctx, []int64{chain[0].ID})
	require.NoError(t, err)
	require.Len(t, mentions[chain[0].ID], 2)

	// Replacing swaps the chain and drops every edge of the old chunks.
	res, err = s.ReplaceChunkChain(ctx, f.doc, []ChunkInput{
		{Text: "Revised directions for ryegrass.", ContentHash: "h4", Embedding: []float32{0, 0, 1, 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Removed)
	assert.Equal(t, 1, res.Inserted)
	assert.Zero(t, res.Next)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Nodes[LabelChunk])
	assert.Equal(t, 1, stats.Relationships[RelHasChunk])
	assert.Zero(t, stats.Relationships[RelNext])
	assert.Zero(t, stats.Relationships[RelMentions])
	assert.Equal(t, 1, stats.Embeddings)
	assert.Zero(t, stats.EmbeddingsMissing)
}

func TestReplaceChunkChainRejectsWrongDimension(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, err := s.EnsureDocument(ctx, "doc")
	require.NoError(t, err)

	_, err = s.ReplaceChunkChain(ctx, doc, []ChunkInput{{Text: "x", ContentHash: "h", Embedding: []float32{1, 2}}})
	assert.ErrorContains(t, err, "2 dimensions, want 4")

	chain, err := s.ChunkChain(ctx, "doc")
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestEnsureDocumentIsStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, err := s.EnsureDocument(ctx, "doc")
	require.NoError(t, err)
	b, err := s.EnsureDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestVectorSearchSkipsMissingEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, err := s.EnsureDocument(ctx, "doc")
	require.NoError(t, err)
	_, err = s.ReplaceChunkChain(ctx, doc, []ChunkInput{
		{Text: "alpha", ContentHash: "a", Embedding: []float32{1, 0, 0, 0}},
		{Text: "beta", ContentHash: "b"},
		{Text: "gamma", ContentHash: "c", Embedding: []float32{0, 1, 0, 0}},
	})
	require.NoError(t, err)

	hits, err := s.VectorSearch(ctx, []float32{1, 0.1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "alpha", hits[0].Text)
	assert.Equal(t, "doc", hits[0].DocumentSourceID)
	assert.Less(t, hits[0].Distance, hits[1].Distance)
	assert.Equal(t, []float32{1, 0, 0, 0}, hits[0].Embedding)
}

func TestKeywordChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, err := s.EnsureDocument(ctx, "doc")
	require.NoError(t, err)
	_, err = s.ReplaceChunkChain(ctx, doc, []ChunkInput{
		{Text: "Controls annual ryegrass in wheat.", ContentHash: "a"},
		{Text: "Store in a cool dry place.", ContentHash: "b"},
	})
	require.NoError(t, err)

	hits, err := s.KeywordChunks(ctx, "ryegrass", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].Seq)
	assert.True(t, hits[0].EmbeddingMissing)

	// Replaced chunks leave the keyword index through the delete trigger.
	_, err = s.ReplaceChunkChain(ctx, doc, []ChunkInput{{Text: "Store in a cool dry place.", ContentHash: "b"}})
	require.NoError(t, err)
	hits, err = s.KeywordChunks(ctx, "ryegrass", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEmbeddingCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutEmbeddings(ctx, "nomic", map[string][]float32{"h1": {0.5, 0, 0, 1}}))

	got, err := s.CachedEmbeddings(ctx, "nomic", []string{"h1", "h2"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]float32{"h1": {0.5, 0, 0, 1}}, got)

	// Entries are scoped by model.
	got, err = s.CachedEmbeddings(ctx, "other", []string{"h1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func TestFindUses(t *testing.T) {
	s := newTestStore(t)
	seedReference(t, s)
	f := seedUse(t, s)
	ctx := context.Background()

	rows, err := s.FindUses(ctx, UseFilter{Weed: "ryegrass", Crop: "wheat"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, f.use, r.UseID)
	assert.Equal(t, "12345", r.RegistrationNumber)
	assert.Equal(t, "Ryeclear 500", r.ProductName)
	assert.Equal(t, "Lolium rigidum", r.WeedScientificName)
	assert.Equal(t, "1.5 L/ha", r.RateText, "rate text falls back to the descriptor")
	assert.Equal(t, "apply pre-emergence", r.Comments)

	cases := []struct {
		name string
		f    UseFilter
		want int
	}{
		{"jurisdiction match", UseFilter{Jurisdiction: "NSW"}, 1},
		{"jurisdiction miss", UseFilter{Jurisdiction: "VIC"}, 0},
		{"mode match", UseFilter{ModeOfAction: "K"}, 1},
		{"mode excluded", UseFilter{Weed: "ryegrass", ExcludeModes: []string{"K"}}, 0},
		{"other mode excluded", UseFilter{Weed: "ryegrass", ExcludeModes: []string{"M"}}, 1},
		{"registration", UseFilter{RegistrationNumber: "99999"}, 0},
		{"use ids", UseFilter{UseIDs: []int64{f.use}}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := s.FindUses(ctx, tc.f)
			require.NoError(t, err)
			assert.Len(t, rows, tc.want)
		})
	}
}

func TestUsesForEntity(t *testing.T) {
	s := newTestStore(t)
	seedReference(t, s)
	f := seedUse(t, s)
	ctx := context.Background()

	for _, ref := range []EntityRef{{LabelWeed, f.weed}, {LabelCrop, f.crop}, {LabelProduct, f.product}} {
		ids, err := s.UsesForEntity(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, []int64{f.use}, ids, ref.Kind)
	}
	_, err := s.UsesForEntity(ctx, EntityRef{LabelJurisdiction, 1})
	assert.Error(t, err)
}

func TestProductAndDocumentProduct(t *testing.T) {
	s := newTestStore(t)
	seedReference(t, s)
	f := seedUse(t, s)
	ctx := context.Background()

	p, err := s.Product(ctx, "12345")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, []string{"K"}, p.ModesOfAction)

	missing, err := s.Product(ctx, "00000")
	require.NoError(t, err)
	assert.Nil(t, missing)

	name, err := s.DocumentProduct(ctx, f.doc)
	require.NoError(t, err)
	assert.Equal(t, "Ryeclear 500", name)

	other, err := s.EnsureDocument(ctx, "unlinked")
	require.NoError(t, err)
	name, err = s.DocumentProduct(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestLinkableEntitiesAndSearch(t *testing.T) {
	s := newTestStore(t)
	seedReference(t, s)
	seedUse(t, s)
	ctx := context.Background()

	ents, err := s.LinkableEntities(ctx)
	require.NoError(t, err)
	kinds := map[string]string{}
	for _, e := range ents {
		kinds[e.Name] = e.Ref.Kind
	}
	assert.Equal(t, map[string]string{
		"ryegrass":     LabelWeed,
		"wheat":        LabelCrop,
		"Ryeclear 500": LabelProduct,
	}, kinds)

	hits, err := s.SearchNames(ctx, LabelWeed, "ANNUAL RYE", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, []string{"annual rye grass"}, hits[0].Aliases)

	_, err = s.SearchNames(ctx, LabelProduct, "rye", 10)
	assert.Error(t, err)
}

func TestTopByUses(t *testing.T) {
	s := newTestStore(t)
	seedReference(t, s)
	seedUse(t, s)
	ctx := context.Background()

	top, err := s.TopByUses(ctx, LabelWeed, 5)
	require.NoError(t, err)
	assert.Equal(t, []NameCount{{"ryegrass", 1}}, top)

	top, err = s.TopByUses(ctx, LabelCrop, 5)
	require.NoError(t, err)
	assert.Equal(t, []NameCount{{"wheat", 1}}, top)
}

// ---------------------------------------------------------------------------
// Reference data, statistics and reset
// ---------------------------------------------------------------------------

func TestSeedReferenceVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	js := []Jurisdiction{{Code: "NSW", Name: "New South Wales"}}

	n, err := s.SeedReference(ctx, 1, js, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	js[0].Name = "NSW (renamed)"
	n, err = s.SeedReference(ctx, 1, js, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "same version never rewrites")

	n, err = s.SeedReference(ctx, 2, js, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := s.ReferenceVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestStatsAndClear(t *testing.T) {
	s := newTestStore(t)
	seedReference(t, s)
	seedUse(t, s)
	ctx := context.Background()
	require.NoError(t, s.PutEmbeddings(ctx, "nomic", map[string][]float32{"h": {1, 0, 0, 0}}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Nodes[LabelProduct])
	assert.Equal(t, 1, stats.Nodes[LabelRegisteredUse])
	assert.Equal(t, 2, stats.Nodes[LabelJurisdiction])
	assert.Equal(t, 6, stats.TotalRelationships())
	assert.Len(t, stats.Relationships, len(RelationshipTypes))
	assert.Equal(t, 1, stats.CachedEmbeddings)

	require.NoError(t, s.Clear(ctx))

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalNodes())
	assert.Zero(t, stats.TotalRelationships())
	assert.Equal(t, 1, stats.CachedEmbeddings, "embedding cache survives a clear")
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(os.ErrNotExist))
	assert.True(t, IsTransient(kgerr.Wrap(os.ErrDeadlineExceeded, kgerr.CodeStoreTransient, "commit")))
}
