package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/bbiangul/agrokg/chunker"
)

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestRegistryBuiltInParsers(t *testing.T) {
	reg := NewRegistry()

	for _, format := range []string{"txt", "md", "markdown", "pdf", "xlsx", "PDF"} {
		t.Run(format, func(t *testing.T) {
			p, err := reg.Get(format)
			require.NoError(t, err)
			require.NotNil(t, p)
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	reg := NewRegistry()
	for _, format := range []string{"docx", "csv", "json", "xls", ""} {
		p, err := reg.Get(format)
		assert.Error(t, err, format)
		assert.Nil(t, p)
	}
}

func TestRegistryCustomParser(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("custom")
	require.Error(t, err)

	reg.Register("custom", &TextParser{})
	p, err := reg.Get("custom")
	require.NoError(t, err)
	assert.IsType(t, &TextParser{}, p)
}

func TestParseFileUnknownExtension(t *testing.T) {
	_, err := NewRegistry().ParseFile(context.Background(), "label.docx")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Text and markdown
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTextParserSplitsAtHeadings(t *testing.T) {
	path := writeFile(t, "label.txt", `PRODUCT IDENTITY
Active constituent: 700 g/L glyphosate

DIRECTIONS FOR USE
Apply 1.5 L/ha to ryegrass in wheat.

Do not apply in windy conditions.

STORAGE AND DISPOSAL
Store in a cool place.
`)
	units, err := NewRegistry().ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, "PRODUCT IDENTITY", units[0].Heading)
	assert.Equal(t, "Active constituent: 700 g/L glyphosate", units[0].Text)
	assert.Equal(t, "DIRECTIONS FOR USE", units[1].Heading)
	assert.Contains(t, units[1].Text, "\n\nDo not apply")
	assert.Equal(t, "STORAGE AND DISPOSAL", units[2].Heading)
}

func TestTextParserWithoutHeadings(t *testing.T) {
	units := splitUnits("just a line\nand another\n")
	require.Len(t, units, 1)
	assert.Empty(t, units[0].Heading)
	assert.Equal(t, "just a line\nand another", units[0].Text)

	assert.Empty(t, splitUnits("   \n\n"))
}

func TestTextParserMissingFile(t *testing.T) {
	_, err := (&TextParser{}).Parse(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestMarkdownParser(t *testing.T) {
	path := writeFile(t, "label.md", "# XR700\n\nIntro text.\n\n## Weed table\n\n| Weed | Rate |\n| --- | --- |\n| Ryegrass | 1.5 L/ha |\n\n```\n# not a heading\n```\n")
	units, err := NewRegistry().ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, chunker.Unit{Heading: "XR700", Text: "Intro text."}, units[0])
	assert.Equal(t, "Weed table", units[1].Heading)
	assert.Contains(t, units[1].Text, "| Ryegrass | 1.5 L/ha |")
	assert.Contains(t, units[1].Text, "# not a heading")
}

// ---------------------------------------------------------------------------
// XLSX
// ---------------------------------------------------------------------------

func TestXLSXParser(t *testing.T) {
	f := excelize.NewFile()
	t.Cleanup(func() { _ = f.Close() })
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Weed", "Crop", "Rate"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Ryegrass", "Wheat", "1.5 L/ha"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]any{"Wild oats", "Barley|Oats"}))

	path := filepath.Join(t.TempDir(), "weeds.xlsx")
	require.NoError(t, f.SaveAs(path))

	units, err := NewRegistry().ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "Sheet1", units[0].Heading)
	assert.Equal(t, "| Weed | Crop | Rate |\n| --- | --- | --- |\n| Ryegrass | Wheat | 1.5 L/ha |\n| Wild oats | Barley/Oats |  |", units[0].Text)
}

func TestSheetUnitsRepeatHeader(t *testing.T) {
	rows := [][]string{{"Weed", "Rate"}}
	for i := 0; i < rowsPerUnit+5; i++ {
		rows = append(rows, []string{fmt.Sprintf("weed %d", i), "1 L/ha"})
	}
	units := sheetUnits("Weeds", rows)
	require.Len(t, units, 2)
	for _, u := range units {
		assert.Contains(t, u.Text, "| Weed | Rate |\n| --- | --- |")
	}
	assert.Contains(t, units[1].Text, fmt.Sprintf("weed %d", rowsPerUnit))
}

func TestSheetUnitsHeaderOnly(t *testing.T) {
	units := sheetUnits("S", [][]string{{"a", "b"}, {"", ""}})
	require.Len(t, units, 1)
	assert.Equal(t, "| a | b |", units[0].Text)
	assert.Nil(t, sheetUnits("S", [][]string{{""}}))
}
