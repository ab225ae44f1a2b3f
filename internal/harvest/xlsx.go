package harvest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet name of generated workbooks.
const SheetName = "Fiche de ramasse"

// ErrHeaderNotFound means the template has no complete row of column headers.
var ErrHeaderNotFound = errors.New("harvest: header row not found in template")

var columnHeaders = []string{
	"Référence",
	"Produit (goût + format)",
	"DDM",
	"Quantité cartons",
	"Quantité palettes",
	"Poids palettes (kg)",
}

// Accepted spellings per column, compared after Canon.
var headerAliases = [][]string{
	{"reference"},
	{"produit", "produit gout format"},
	{"ddm", "date de durabilite"},
	{"quantite cartons", "n cartons", "no cartons", "nb cartons"},
	{"quantite palettes", "n palettes", "no palettes", "nb palettes"},
	{"poids palettes kg", "poids palettes", "poids kg"},
}

var (
	createdLabel   = regexp.MustCompile(`(?i)date\s+de\s+cr[eé]ation`)
	pickupLabel    = regexp.MustCompile(`(?i)date\s+de\s+ram+asse`)
	recipientLabel = regexp.MustCompile(`(?i)destinataire`)
)

const (
	headerScanRows = 100
	headerScanCols = 30
	lineHeightPt   = 14.0
)

// template wraps one worksheet being filled. Coordinates are 1-based.
type template struct {
	f      *excelize.File
	sheet  string
	rows   [][]string
	merges []excelize.MergeCell
}

func newTemplate(f *excelize.File, sheet string) (*template, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	merges, err := f.GetMergeCells(sheet)
	if err != nil {
		return nil, err
	}
	return &template{f: f, sheet: sheet, rows: rows, merges: merges}, nil
}

type span struct {
	col1, row1, col2, row2 int
}

func (t *template) spans() []span {
	out := make([]span, 0, len(t.merges))
	for _, m := range t.merges {
		c1, r1, err1 := excelize.CellNameToCoordinates(m.GetStartAxis())
		c2, r2, err2 := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, span{c1, r1, c2, r2})
	}
	return out
}

// find returns the first cell whose text matches rx.
func (t *template) find(rx *regexp.Regexp) (col, row int, ok bool) {
	for i, r := range t.rows {
		for j, v := range r {
			if rx.MatchString(v) {
				return j + 1, i + 1, true
			}
		}
	}
	return 0, 0, false
}

func (t *template) cell(col, row int) string {
	if row < 1 || row > len(t.rows) || col < 1 || col > len(t.rows[row-1]) {
		return ""
	}
	return t.rows[row-1][col-1]
}

// write sets a value, redirecting to the top-left cell when (col, row) lies
// inside a merged range.
func (t *template) write(col, row int, v any) error {
	for _, s := range t.spans() {
		if s.row1 <= row && row <= s.row2 && s.col1 <= col && col <= s.col2 {
			col, row = s.col1, s.row1
			break
		}
	}
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return t.f.SetCellValue(t.sheet, name, v)
}

// headerRun finds the lowest row holding the six column headers side by side
// and returns that row and the first column.
func (t *template) headerRun() (row, col int, ok bool) {
	maxRow := min(len(t.rows), headerScanRows)
	for r := 1; r <= maxRow; r++ {
		for c := 1; c+len(headerAliases)-1 <= headerScanCols; c++ {
			if t.matchesHeaders(c, r) {
				row, col, ok = r, c, true
				break
			}
		}
	}
	return row, col, ok
}

func (t *template) matchesHeaders(col, row int) bool {
	for k, aliases := range headerAliases {
		v := Canon(t.cell(col+k, row))
		found := false
		for _, a := range aliases {
			if v == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (t *template) writeRecipient(rc Recipient) error {
	c, r, ok := t.find(recipientLabel)
	if !ok {
		return nil
	}

	var target *span
	for _, s := range t.spans() {
		if s.row1 <= r && r <= s.row2 && s.col1 > c {
			if target == nil || s.col1 < target.col1 {
				target = &s
			}
		}
	}
	if target == nil {
		target = &span{col1: c + 1, row1: r, col2: c + 6, row2: r + 2}
		from, _ := excelize.CoordinatesToCellName(target.col1, target.row1)
		to, _ := excelize.CoordinatesToCellName(target.col2, target.row2)
		if err := t.f.MergeCell(t.sheet, from, to); err != nil {
			return err
		}
		merges, err := t.f.GetMergeCells(t.sheet)
		if err != nil {
			return err
		}
		t.merges = merges
	}

	parts := []string{rc.Name}
	for _, l := range rc.Lines {
		if strings.TrimSpace(l) != "" {
			parts = append(parts, l)
		}
	}
	text := strings.Join(parts, "\n")
	if err := t.write(target.col1, target.row1, text); err != nil {
		return err
	}

	style, err := t.f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top", Horizontal: "left"},
	})
	if err != nil {
		return err
	}
	anchor, _ := excelize.CoordinatesToCellName(target.col1, target.row1)
	if err := t.f.SetCellStyle(t.sheet, anchor, anchor, style); err != nil {
		return err
	}

	perRow := lineHeightPt * float64(len(parts)) / float64(target.row2-target.row1+1)
	for row := target.row1; row <= target.row2; row++ {
		cur, err := t.f.GetRowHeight(t.sheet, row)
		if err != nil {
			return err
		}
		if perRow > cur {
			if err := t.f.SetRowHeight(t.sheet, row, perRow); err != nil {
				return err
			}
		}
	}
	return nil
}

// fill writes dates, recipient and lines. It returns the header row, the
// first header column and the last data row written.
func (t *template) fill(s Sheet) (hdrRow, hdrCol, lastRow int, err error) {
	if c, r, ok := t.find(createdLabel); ok {
		if err = t.write(c+1, r, s.CreatedOn.Format(DateLayout)); err != nil {
			return
		}
	}
	if c, r, ok := t.find(pickupLabel); ok {
		if err = t.write(c+1, r, s.PickupDate.Format(DateLayout)); err != nil {
			return
		}
	}
	if err = t.writeRecipient(s.Recipient); err != nil {
		return
	}

	hdrRow, hdrCol, ok := t.headerRun()
	if !ok {
		return 0, 0, 0, ErrHeaderNotFound
	}

	lines, _ := s.Compute()
	lastRow = hdrRow
	for i, l := range lines {
		row := hdrRow + 1 + i
		values := []any{l.Reference, l.Label, formatDate(l), l.Cartons, l.Pallets, l.WeightKg}
		for k, v := range values {
			if err = t.write(hdrCol+k, row, v); err != nil {
				return
			}
		}
		lastRow = row
	}
	return hdrRow, hdrCol, lastRow, nil
}

func formatDate(l ComputedLine) string {
	if l.BestBefore.IsZero() {
		return ""
	}
	return l.BestBefore.Format(DateLayout)
}

// FillTemplate writes s into an existing delivery-note workbook. Labels and
// the header row are located by their text, so the template layout may vary.
func FillTemplate(r io.Reader, s Sheet) ([]byte, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("harvest: open template: %w", err)
	}
	defer f.Close()

	t, err := newTemplate(f, f.GetSheetName(f.GetActiveSheetIndex()))
	if err != nil {
		return nil, err
	}
	if _, _, _, err := t.fill(s); err != nil {
		return nil, err
	}
	return writeBuffer(f)
}

// Workbook renders s into a fresh workbook laid out like the paper form.
func Workbook(s Sheet, iss Issuer) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, err
	}
	if err := layout(f, iss); err != nil {
		return nil, err
	}

	t, err := newTemplate(f, SheetName)
	if err != nil {
		return nil, err
	}
	hdrRow, hdrCol, lastRow, err := t.fill(s)
	if err != nil {
		return nil, err
	}
	if err := decorate(f, hdrRow, hdrCol, lastRow, s); err != nil {
		return nil, err
	}
	return writeBuffer(f)
}

// Row of the column headers in generated workbooks; data starts below it.
const layoutHeaderRow = 9

// layout writes the static labels of the form: the delivery-note box on the
// left, the issuer block on the right, then the column headers.
func layout(f *excelize.File, iss Issuer) error {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 12}})
	if err != nil {
		return err
	}

	cells := []struct {
		cell  string
		value string
		bold  bool
	}{
		{"A1", "BON DE LIVRAISON", true},
		{"A2", "DATE DE CREATION :", false},
		{"A3", "DATE DE RAMASSE :", false},
		{"A4", "DESTINATAIRE :", false},
		{"E1", iss.Name, true},
	}
	for _, c := range cells {
		if err := f.SetCellValue(SheetName, c.cell, c.value); err != nil {
			return err
		}
		if c.bold {
			if err := f.SetCellStyle(SheetName, c.cell, c.cell, bold); err != nil {
				return err
			}
		}
	}
	if err := f.MergeCell(SheetName, "B4", "C7"); err != nil {
		return err
	}

	extra := iss.Lines
	if iss.Footer != "" {
		extra = append(append([]string{}, iss.Lines...), iss.Footer)
	}
	for i, l := range extra {
		row := i + 2
		if row >= layoutHeaderRow-1 {
			break
		}
		if err := f.SetCellValue(SheetName, fmt.Sprintf("E%d", row), l); err != nil {
			return err
		}
	}

	for i, h := range columnHeaders {
		name, _ := excelize.CoordinatesToCellName(i+1, layoutHeaderRow)
		if err := f.SetCellValue(SheetName, name, h); err != nil {
			return err
		}
	}

	widths := []float64{20, 42, 14, 16, 18, 18}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, w); err != nil {
			return err
		}
	}
	return nil
}

func decorate(f *excelize.File, hdrRow, hdrCol, lastRow int, s Sheet) error {
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"E6E6E6"}, Pattern: 1},
		Border:    border,
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return err
	}
	body, err := f.NewStyle(&excelize.Style{
		Border:    border,
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	last := hdrCol + len(columnHeaders) - 1
	from, _ := excelize.CoordinatesToCellName(hdrCol, hdrRow)
	to, _ := excelize.CoordinatesToCellName(last, hdrRow)
	if err := f.SetCellStyle(SheetName, from, to, header); err != nil {
		return err
	}

	totalRow := lastRow + 1
	if lastRow > hdrRow {
		from, _ = excelize.CoordinatesToCellName(hdrCol, hdrRow+1)
		to, _ = excelize.CoordinatesToCellName(last, lastRow)
		if err := f.SetCellStyle(SheetName, from, to, body); err != nil {
			return err
		}
	}

	_, totals := s.Compute()
	label, _ := excelize.CoordinatesToCellName(hdrCol, totalRow)
	labelEnd, _ := excelize.CoordinatesToCellName(hdrCol+2, totalRow)
	if err := f.MergeCell(SheetName, label, labelEnd); err != nil {
		return err
	}
	if err := f.SetCellValue(SheetName, label, "Totaux"); err != nil {
		return err
	}
	for k, v := range []int{totals.Cartons, totals.Pallets, totals.WeightKg} {
		name, _ := excelize.CoordinatesToCellName(hdrCol+3+k, totalRow)
		if err := f.SetCellValue(SheetName, name, v); err != nil {
			return err
		}
	}
	from, _ = excelize.CoordinatesToCellName(hdrCol, totalRow)
	to, _ = excelize.CoordinatesToCellName(last, totalRow)
	return f.SetCellStyle(SheetName, from, to, header)
}

func writeBuffer(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
