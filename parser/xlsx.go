package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/bbiangul/agrokg/chunker"
)

// rowsPerUnit bounds the size of one table unit; the header row is repeated
// at the top of every block.
const rowsPerUnit = 40

type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) ([]chunker.Unit, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var units []chunker.Unit
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		units = append(units, sheetUnits(sheet, rows)...)
	}

	if len(units) == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}
	return units, nil
}

// sheetUnits renders a sheet as markdown table blocks headed by the sheet
// name.
func sheetUnits(sheet string, rows [][]string) []chunker.Unit {
	rows = dropEmptyRows(rows)
	if len(rows) == 0 {
		return nil
	}
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}

	header := tableRow(rows[0], width)
	sep := "|" + strings.Repeat(" --- |", width)
	body := rows[1:]
	if len(body) == 0 {
		return []chunker.Unit{{Heading: sheet, Text: header}}
	}

	var units []chunker.Unit
	for start := 0; start < len(body); start += rowsPerUnit {
		end := min(start+rowsPerUnit, len(body))
		var b strings.Builder
		b.WriteString(header + "\n" + sep + "\n")
		for _, r := range body[start:end] {
			b.WriteString(tableRow(r, width) + "\n")
		}
		units = append(units, chunker.Unit{Heading: sheet, Text: strings.TrimRight(b.String(), "\n")})
	}
	return units
}

func tableRow(cells []string, width int) string {
	padded := make([]string, width)
	for i := range padded {
		if i < len(cells) {
			padded[i] = strings.TrimSpace(strings.ReplaceAll(cells[i], "|", "/"))
		}
	}
	return "| " + strings.Join(padded, " | ") + " |"
}

func dropEmptyRows(rows [][]string) [][]string {
	out := rows[:0:0]
	for _, r := range rows {
		if strings.TrimSpace(strings.Join(r, "")) != "" {
			out = append(out, r)
		}
	}
	return out
}
