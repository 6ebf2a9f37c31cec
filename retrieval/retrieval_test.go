//go:build cgo

package retrieval

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbiangul/agrokg/chunker"
	"github.com/bbiangul/agrokg/embed"
	"github.com/bbiangul/agrokg/extraction"
	"github.com/bbiangul/agrokg/indexer"
	"github.com/bbiangul/agrokg/kgerr"
	"github.com/bbiangul/agrokg/loader"
	"github.com/bbiangul/agrokg/schema"
	"github.com/bbiangul/agrokg/store"
)

const testDim = 256

func ptr(f float64) *float64 { return &f }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), testDim)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	_, err = schema.NewManager(s).Initialize(context.Background())
	require.NoError(t, err)
	return s
}

// seed loads three products that all control ryegrass in wheat:
// XR700 (group A), Bravo 500 (group B, also wild oats in barley) and
// Alpha 250 (group A, older label).
func seed(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	l := loader.New(s, nil, loader.DefaultOptions())

	records := []struct {
		rec *extraction.ProductRecord
		doc extraction.DocumentInfo
	}{
		{&extraction.ProductRecord{
			RegistrationNumber: "12345", Name: "XR700", ModesOfAction: []string{"A"},
			Uses: []extraction.UseRecord{{
				Crop: "Wheat", Weed: "Ryegrass",
				Rate:          extraction.RateRecord{Descriptor: "1.5 L/ha", Value: ptr(1.5), Unit: "L/ha"},
				Timing:        []string{"Z13"},
				Jurisdictions: []string{"NSW"},
				Restrictions:  []extraction.RestrictionRecord{{Type: extraction.RestrictionWithholding, Value: "7", Unit: "days"}},
			}},
		}, extraction.DocumentInfo{SourceID: "label-12345", EffectiveDate: "2024-01-01", Version: 1}},
		{&extraction.ProductRecord{
			RegistrationNumber: "22222", Name: "Bravo 500", ModesOfAction: []string{"B"},
			Uses: []extraction.UseRecord{
				{Crop: "Wheat", Weed: "Ryegrass", Rate: extraction.RateRecord{Descriptor: "20 g/ha", Value: ptr(20), Unit: "g/ha"}, Jurisdictions: []string{"VIC"}},
				{Crop: "Barley", Weed: "Wild oats", Rate: extraction.RateRecord{Descriptor: "25 g/ha", Value: ptr(25), Unit: "g/ha"}},
			},
		}, extraction.DocumentInfo{SourceID: "label-22222", EffectiveDate: "2024-06-01", Version: 1}},
		{&extraction.ProductRecord{
			RegistrationNumber: "33333", Name: "Alpha 250", ModesOfAction: []string{"A"},
			Uses: []extraction.UseRecord{
				{Crop: "Wheat", Weed: "Ryegrass", Rate: extraction.RateRecord{Descriptor: "0.5 L/ha", Value: ptr(0.5), Unit: "L/ha"}},
			},
		}, extraction.DocumentInfo{SourceID: "label-33333", EffectiveDate: "2023-01-01", Version: 1}},
	}
	for _, r := range records {
		_, err := l.LoadRecord(ctx, r.rec, r.doc)
		require.NoError(t, err)
	}
}

// index writes the label text of XR700 and Bravo 500.
func index(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	ix, err := indexer.New(s, embed.NewBagOfWords(testDim), indexer.DefaultOptions())
	require.NoError(t, err)
	_, err = ix.IndexDocument(ctx, "label-12345", []chunker.Unit{
		{Text: "XR700 controls ryegrass in wheat when applied at 1.5 L/ha."},
		{Text: "Store in the closed original container in a cool place away from sunlight."},
	})
	require.NoError(t, err)
	_, err = ix.IndexDocument(ctx, "label-22222", []chunker.Unit{
		{Text: "Bravo 500 controls wild oats in barley at 25 g/ha."},
	})
	require.NoError(t, err)
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s := newTestStore(t)
	seed(t, s)
	index(t, s)
	return New(s, embed.NewBagOfWords(testDim), nil, DefaultConfig()), s
}

func regNumbers(rs []UseResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.RegistrationNumber
	}
	return out
}

// ---------------------------------------------------------------------------
// Structured queries
// ---------------------------------------------------------------------------

func TestStructuredQueryScenario(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	got, err := e.StructuredQuery(ctx, Filters{Weed: "Ryegrass", Crop: "Wheat", RegistrationNumber: "12345"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	u := got[0]
	assert.Equal(t, "XR700", u.ProductName)
	assert.Equal(t, "1.5 L/ha", u.RateText)
	require.Len(t, u.Rates, 1)
	assert.Equal(t, "1.5", u.Rates[0].ValueText)
	assert.Equal(t, []string{"NSW"}, u.Jurisdictions)
	assert.Equal(t, []string{"A"}, u.ModesOfAction)
	require.Len(t, u.Restrictions, 1)
	assert.Equal(t, "withholding", u.Restrictions[0].Type)
	require.Len(t, u.Timings, 1)
	require.NotEmpty(t, u.Documents)
	assert.Equal(t, "label-12345", u.Documents[0].SourceID)
}

func TestStructuredQueryOrdersByProductThenRate(t *testing.T) {
	e, _ := newTestEngine(t)
	got, err := e.StructuredQuery(context.Background(), Filters{Weed: "Ryegrass", Crop: "Wheat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"33333", "22222", "12345"}, regNumbers(got))
}

func TestStructuredQueryCanonicalisesFilters(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	got, err := e.StructuredQuery(ctx, Filters{Weed: "Rye Grass", Crop: " WHEAT "})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = e.StructuredQuery(ctx, Filters{Jurisdiction: "New South Wales"})
	require.NoError(t, err)
	assert.Equal(t, []string{"12345"}, regNumbers(got))

	got, err = e.StructuredQuery(ctx, Filters{Weed: "ryegrass", ModeOfAction: "Group B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"22222"}, regNumbers(got))

	got, err = e.StructuredQuery(ctx, Filters{Weed: "ryegrass", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStructuredQueryNoMatchIsEmpty(t *testing.T) {
	e, _ := newTestEngine(t)
	got, err := e.StructuredQuery(context.Background(), Filters{Weed: "Fleabane"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStructuredQueryValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	tests := []struct {
		name  string
		f     Filters
		field string
	}{
		{"no filters", Filters{}, "filters"},
		{"blank filters", Filters{Weed: "  "}, "filters"},
		{"punctuation only", Filters{Weed: "?!"}, "weed"},
		{"unknown jurisdiction", Filters{Jurisdiction: "Narnia"}, "jurisdiction"},
		{"unknown group", Filters{ModeOfAction: "X"}, "mode_of_action"},
		{"negative limit", Filters{Weed: "ryegrass", Limit: -1}, "limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.StructuredQuery(context.Background(), tt.f)
			require.Error(t, err)
			assert.True(t, kgerr.IsValidation(err))
			assert.Equal(t, tt.field, kgerr.FieldOf(err, "field"))
		})
	}
}

// ---------------------------------------------------------------------------
// Supplementary reads
// ---------------------------------------------------------------------------

func TestRotationOptions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	got, err := e.RotationOptions(ctx, "Ryegrass", "Wheat", "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"22222"}, regNumbers(got))

	got, err = e.RotationOptions(ctx, "Ryegrass", "", "Group B")
	require.NoError(t, err)
	assert.Equal(t, []string{"33333", "12345"}, regNumbers(got))

	_, err = e.RotationOptions(ctx, "Ryegrass", "Wheat", "X")
	assert.True(t, kgerr.IsValidation(err))
	_, err = e.RotationOptions(ctx, "", "Wheat", "A")
	assert.True(t, kgerr.IsValidation(err))
}

func TestProductDetails(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	p, err := e.ProductDetails(ctx, "22222")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Bravo 500", p.Name)
	assert.Equal(t, []string{"B"}, p.ModesOfAction)
	require.Len(t, p.Uses, 2)
	assert.Equal(t, "20 g/ha", p.Uses[0].RateText)

	p, err = e.ProductDetails(ctx, "99999")
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = e.ProductDetails(ctx, " ")
	assert.True(t, kgerr.IsValidation(err))
}

func TestSearchEntities(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	got, err := e.SearchEntities(ctx, "weed", "RYE")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ryegrass", got[0].Name)

	got, err = e.SearchEntities(ctx, "crop", "ley")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "barley", got[0].Name)

	got, err = e.SearchEntities(ctx, "weed", "fleabane")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = e.SearchEntities(ctx, "pest", "rye")
	assert.True(t, kgerr.IsValidation(err))
	_, err = e.SearchEntities(ctx, "weed", "")
	assert.True(t, kgerr.IsValidation(err))
}

// ---------------------------------------------------------------------------
// Vector and hybrid queries
// ---------------------------------------------------------------------------

func TestVectorQueryScenario(t *testing.T) {
	e, _ := newTestEngine(t)
	got, err := e.VectorQuery(context.Background(), "ryegrass control in wheat", 3)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 3)

	found := false
	for i, c := range got {
		if strings.Contains(c.Text, "XR700 controls ryegrass") {
			found = true
			assert.Equal(t, "label-12345", c.Document)
		}
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Similarity, c.Similarity)
		}
	}
	assert.True(t, found, "scenario chunk is among the top 3")
}

func TestVectorQueryExcludesMissingEmbeddings(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	failing := embed.Func{Name: "bag-of-words", Dimension: testDim, Fn: func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("provider down")
	}}
	ix, err := indexer.New(s, failing, indexer.DefaultOptions())
	require.NoError(t, err)
	_, err = ix.IndexDocument(context.Background(), "label-12345", []chunker.Unit{
		{Text: "XR700 controls ryegrass in wheat when applied at 1.5 L/ha."},
	})
	require.NoError(t, err)

	e := New(s, embed.NewBagOfWords(testDim), nil, DefaultConfig())
	got, err := e.VectorQuery(context.Background(), "ryegrass control in wheat", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHybridQueryScenario(t *testing.T) {
	e, _ := newTestEngine(t)
	results, trace, err := e.HybridQuery(context.Background(), "ryegrass control in wheat", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 3)
	assert.False(t, trace.Fallback)
	assert.Equal(t, 3, trace.VectorHits)

	found := false
	for _, r := range results {
		for _, f := range r.Facts {
			if f.RegistrationNumber == "12345" && f.Weed == "ryegrass" && f.Crop == "wheat" {
				found = true
				require.NotEmpty(t, r.Evidence)
				assert.Contains(t, r.Evidence[0].Text, "XR700 controls ryegrass")
			}
		}
	}
	assert.True(t, found, "scenario use is attached as a structured fact")

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestHybridQueryStable(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	first, _, err := e.HybridQuery(ctx, "controls ryegrass wild oats", 5)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, _, err := e.HybridQuery(ctx, "controls ryegrass wild oats", 5)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestHybridQueryKeywordFallback(t *testing.T) {
	// Products are loaded but nothing is indexed, so vector search is empty.
	s := newTestStore(t)
	seed(t, s)
	e := New(s, embed.NewBagOfWords(testDim), nil, DefaultConfig())

	results, trace, err := e.HybridQuery(context.Background(), "Which products control ryegrass in wheat?", 5)
	require.NoError(t, err)
	assert.True(t, trace.Fallback)
	assert.Equal(t, "no vector hits", trace.FallbackReason)
	assert.ElementsMatch(t, []string{"ryegrass", "wheat"}, trace.MatchedNames)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NotNil(t, r.Entity)
		assert.ElementsMatch(t, []string{"33333", "22222", "12345"}, regNumbers(r.Facts))
	}
}

func TestHybridQueryFallbackOnEmbeddingFailure(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	index(t, s)
	down := embed.Func{Name: "down", Dimension: testDim, Fn: func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("provider down")
	}}
	e := New(s, down, nil, DefaultConfig())

	results, trace, err := e.HybridQuery(context.Background(), "wild oats in barley", 5)
	require.NoError(t, err)
	assert.True(t, trace.Fallback)
	assert.Equal(t, "embedding failed", trace.FallbackReason)
	assert.NotEmpty(t, trace.FTSQuery)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, []string{"22222"}, regNumbers(r.Facts))
		require.Len(t, r.Evidence, 1)
		assert.Contains(t, r.Evidence[0].Text, "Bravo 500")
	}
}

func TestQueryParameterValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.VectorQuery(ctx, "", 3)
	assert.True(t, kgerr.IsValidation(err))
	_, err = e.VectorQuery(ctx, "ryegrass", 0)
	assert.True(t, kgerr.IsValidation(err))
	_, _, err = e.HybridQuery(ctx, "ryegrass", 101)
	assert.True(t, kgerr.IsValidation(err))
	_, _, err = e.HybridQuery(ctx, "   ", 3)
	assert.True(t, kgerr.IsValidation(err))
}
