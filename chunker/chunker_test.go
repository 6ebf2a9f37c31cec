package chunker

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Core chunker tests
// ---------------------------------------------------------------------------

func TestChunkSimple(t *testing.T) {
	c := New(Config{MaxTokens: 512, Overlap: 64})
	pieces := c.Chunk([]Unit{
		{Heading: "Product name", Text: "XR700 Selective Herbicide. Active constituent: 240 g/L clethodim."},
	}, Context{Product: "XR700"})

	if len(pieces) != 1 {
		t.Fatalf("expected 1 piece, got %d", len(pieces))
	}
	p := pieces[0]
	if p.SectionType != SectionProductIdentity {
		t.Errorf("SectionType = %q, want %q", p.SectionType, SectionProductIdentity)
	}
	if !strings.HasPrefix(p.EmbedText, "[Product: XR700] [Section: product_identity] Product name ") {
		t.Errorf("EmbedText = %q", p.EmbedText)
	}
	if p.ContentHash != ContentHash(p.EmbedText) {
		t.Error("ContentHash should hash the embedded text")
	}
}

func TestChunkInheritsSection(t *testing.T) {
	c := New(Config{})
	pieces := c.Chunk([]Unit{
		{Text: "DIRECTIONS FOR USE\nApply with a boom sprayer."},
		{Text: "Use the higher amount where infestations are dense and established."},
	}, Context{})

	if len(pieces) != 2 {
		t.Fatalf("expected 2 pieces, got %d", len(pieces))
	}
	for i, p := range pieces {
		if p.SectionType != SectionDirectionsForUse {
			t.Errorf("pieces[%d].SectionType = %q, want %q", i, p.SectionType, SectionDirectionsForUse)
		}
	}
}

func TestChunkWeedTable(t *testing.T) {
	c := New(Config{})
	table := "| Weed | Rate | Comments |\n|---|---|---|\n| Annual ryegrass | 1.5 L/ha | Apply early |\n| Wild oats | 1.0 L/ha | |"
	pieces := c.Chunk([]Unit{{Text: table}}, Context{Product: "XR700"})

	if len(pieces) != 1 {
		t.Fatalf("expected 1 piece, got %d", len(pieces))
	}
	if pieces[0].SectionType != SectionWeedTable {
		t.Errorf("SectionType = %q, want %q", pieces[0].SectionType, SectionWeedTable)
	}
	if !strings.Contains(pieces[0].EmbedText, "[Weed Control Table]") {
		t.Errorf("EmbedText missing table title: %q", pieces[0].EmbedText)
	}
}

func TestChunkLongContent(t *testing.T) {
	c := New(Config{MaxTokens: 20, Overlap: 4})

	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("This is sentence number. ")
	}

	pieces := c.Chunk([]Unit{{Heading: "Long Section", Text: sb.String()}}, Context{})
	if len(pieces) < 2 {
		t.Errorf("expected multiple pieces for long content, got %d", len(pieces))
	}
}

func TestChunkSplitsLongTableByRows(t *testing.T) {
	c := New(Config{MaxTokens: 30, Overlap: 4})

	var sb strings.Builder
	sb.WriteString("| Weed | Rate | Comments |\n|---|---|---|\n")
	for i := 0; i < 20; i++ {
		sb.WriteString("| Annual ryegrass | 1.5 L/ha | Apply before the 3 leaf stage |\n")
	}

	pieces := c.Chunk([]Unit{{Text: sb.String()}}, Context{})
	if len(pieces) < 2 {
		t.Fatalf("expected the table to split, got %d pieces", len(pieces))
	}
	for i, p := range pieces {
		if !strings.HasPrefix(p.Text, "| Weed | Rate | Comments |\n|---|---|---|") {
			t.Errorf("pieces[%d] does not repeat the header: %q", i, p.Text)
		}
	}
}

func TestChunkDropsOnlyBlankUnits(t *testing.T) {
	c := New(Config{})
	pieces := c.Chunk([]Unit{{Text: "   "}, {Text: "\n\t"}, {Text: "Store in a cool, dry place away from direct sunlight."}}, Context{})
	if len(pieces) != 1 {
		t.Fatalf("expected 1 piece, got %d", len(pieces))
	}
	if pieces[0].SectionType != SectionStorage {
		t.Errorf("SectionType = %q, want %q", pieces[0].SectionType, SectionStorage)
	}
}

func TestChunkKeepsShortUnits(t *testing.T) {
	c := New(Config{})
	units := []Unit{{Text: "WHP: 7 days"}, {Text: "Group A"}, {Text: "Rate 1.5 L/ha"}}
	pieces := c.Chunk(units, Context{})
	if len(pieces) != len(units) {
		t.Fatalf("expected %d pieces, got %d", len(units), len(pieces))
	}
	for i, p := range pieces {
		if p.Text != units[i].Text {
			t.Errorf("pieces[%d].Text = %q, want %q", i, p.Text, units[i].Text)
		}
	}
}

func TestChunkDeterministic(t *testing.T) {
	c := New(Config{})
	units := []Unit{{Text: "Withholding period: do not graze or cut for stock food for 7 days after application."}}
	a := c.Chunk(units, Context{Product: "XR700"})
	b := c.Chunk(units, Context{Product: "XR700"})
	if len(a) != 1 || len(b) != 1 || a[0].ContentHash != b[0].ContentHash {
		t.Fatal("identical input must produce identical hashes")
	}
	other := c.Chunk(units, Context{Product: "Other"})
	if other[0].ContentHash == a[0].ContentHash {
		t.Error("context prefix should change the hash")
	}
}

// ---------------------------------------------------------------------------
// Section classification
// ---------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"APVMA Approval No: 12345/0001", SectionProductIdentity},
		{"Statement of claims: for the control of grass weeds", SectionClaims},
		{"GROUP A HERBICIDE", SectionResistanceWarning},
		{"Weeds controlled", SectionWeedTable},
		{"Critical comments: apply to actively growing weeds", SectionDirectionsForUse},
		{"Do not harvest for 28 days", SectionWithholding},
		{"Tank mix with a wetting agent", SectionCompatibility},
		{"First aid: if poisoning occurs", SectionSafety},
		{"Triple rinse the container before disposal", SectionStorage},
		{"Made in Australia", SectionGeneral},
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestIsWeedTable(t *testing.T) {
	if !IsWeedTable("Name | Rate\nFoo | 200 mL/ha\nBar | 300 mL/ha") {
		t.Error("per-hectare rates should mark a weed table")
	}
	if IsWeedTable("Item | Value\nColour | Blue\nOdour | None") {
		t.Error("plain property table is not a weed table")
	}
	if IsWeedTable("Wild oats | 1 L/ha") {
		t.Error("a single row is not a table")
	}
}

func TestContextualize(t *testing.T) {
	got := Contextualize(Context{Product: "XR700"}, "", SectionGeneral, "Shake well.")
	if got != "[Product: XR700] Shake well." {
		t.Errorf("Contextualize = %q", got)
	}
	got = Contextualize(Context{}, "DIRECTIONS FOR USE", SectionDirectionsForUse, "Apply at 1.5 L/ha.")
	want := "[Section: directions_for_use] [Directions for Use] DIRECTIONS FOR USE Apply at 1.5 L/ha."
	if got != want {
		t.Errorf("Contextualize = %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"single_word", "hello", 2},              // ceil(1 * 1.3) = 2
		{"two_words", "hello world", 3},          // ceil(2 * 1.3) = 3
		{"ten_words", "a b c d e f g h i j", 13}, // ceil(10 * 1.3) = 13
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := estimateTokens(tt.text)
			if got != tt.want {
				t.Errorf("estimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	c := New(Config{})
	if c.cfg.MaxTokens != 512 {
		t.Errorf("default MaxTokens = %d, want 512", c.cfg.MaxTokens)
	}
	if c.cfg.Overlap != 64 {
		t.Errorf("default Overlap = %d, want 64", c.cfg.Overlap)
	}
}

func TestSplitContentLong(t *testing.T) {
	c := New(Config{MaxTokens: 10, Overlap: 2})

	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("This is paragraph number. ")
	}

	fragments := c.splitContent(sb.String())
	if len(fragments) < 2 {
		t.Errorf("expected multiple fragments, got %d", len(fragments))
	}
	for i, f := range fragments {
		if strings.TrimSpace(f) == "" {
			t.Errorf("fragment[%d] is empty", i)
		}
	}
}

func TestSplitSentencesKeepsDecimals(t *testing.T) {
	got := splitSentences("Apply 1.5 L/ha. Do not exceed 2.0 L/ha!")
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %q", len(got), got)
	}
	if got[0] != "Apply 1.5 L/ha." {
		t.Errorf("got[0] = %q", got[0])
	}
}

func TestIsHeading(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"numbered_single", "1. Directions", true},
		{"all_caps", "DIRECTIONS FOR USE", true},
		{"markdown_h2", "## Withholding periods", true},
		{"regular_text", "Apply to actively growing weeds.", false},
		{"empty", "", false},
		{"short_caps", "AB", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsHeading(tt.line)
			if got != tt.want {
				t.Errorf("IsHeading(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}
