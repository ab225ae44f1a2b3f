package planning

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// FicheSheetName is the worksheet filled in production-sheet templates and
// created in generated workbooks.
const FicheSheetName = "Fiche de production"

// Share of a kefir batch that goes through the filter. Infusions are not
// filtered.
const kefirFilteredRatio = 0.60

const dateFormat = "dd/mm/yyyy"

// ProductionSheet is everything printed on the production sheet of one
// batch.
type ProductionSheet struct {
	WeekOf      time.Time
	BestBefore  time.Time
	Flavour     string
	Plan        VolumePlan
	Allocations []Allocation
}

// FicheVolumes are the phase-2 volumes of the sheet, in litres.
type FicheVolumes struct {
	Filtered   float64 `json:"filtered_l"`
	Final      float64 `json:"final_l"`
	Unfiltered float64 `json:"unfiltered_l"`
	Total      float64 `json:"total_l"`
}

// Volumes splits what leaves the tank into the filtered and unfiltered
// parts. A plan without a start volume gives the zero value.
func (s ProductionSheet) Volumes() FicheVolumes {
	p := s.Plan
	if p.Start <= 0 {
		return FicheVolumes{}
	}
	transferred := p.Start - p.Tank.TransferLoss
	ratio := kefirFilteredRatio
	if p.Infusion {
		ratio = 0
	}
	v := FicheVolumes{Filtered: transferred * ratio}
	v.Unfiltered = transferred - v.Filtered
	v.Final = v.Filtered + p.Aroma
	v.Total = v.Final + v.Unfiltered
	return v
}

// Column of each packaging slot on rows 15 (bottles) and 16 (cartons).
const (
	slotSym33x12 = iota + 2
	slotSym33x6
	slotNiko33x12
	slotInter33x6
	slotSym75x6
	slotSym75x4
	slotNiko75x6
	slotOther75
)

var (
	stockCount    = regexp.MustCompile(`(?i)(carton|pack)\s+de\s+(\d+)\s+bouteilles?`)
	stockLitres   = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*[lL]\b`)
	stockCL       = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*cl\b`)
	productCount  = regexp.MustCompile(`(?i)x\s*(\d+)`)
	labelSpaceRun = regexp.MustCompile(`[\s\-_/]+`)
)

// parseFormat reads the bottle count and bottle volume in litres from the
// stock label, then from the product label. Zero means unknown.
func parseFormat(a Allocation) (count int, litres float64) {
	if m := stockCount.FindStringSubmatch(a.Stock); m != nil {
		count, _ = strconv.Atoi(m[2])
	}
	litres = parseLitres(a.Stock)
	if count == 0 {
		if m := productCount.FindStringSubmatch(a.Product); m != nil {
			count, _ = strconv.Atoi(m[1])
		}
	}
	if count == 0 {
		count = a.BottlesPerCarton
	}
	if litres == 0 {
		if m := stockCL.FindStringSubmatch(a.Product); m != nil {
			litres = parseDecimal(m[1]) / 100
		}
	}
	return count, litres
}

func parseLitres(s string) float64 {
	if m := stockLitres.FindStringSubmatch(s); m != nil {
		return parseDecimal(m[1])
	}
	if m := stockCL.FindStringSubmatch(s); m != nil {
		return parseDecimal(m[1]) / 100
	}
	return 0
}

func parseDecimal(s string) float64 {
	v, _ := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	return v
}

// slotOf returns the sheet column of a format, or 0 when it has none.
func slotOf(a Allocation) int {
	count, litres := parseFormat(a)
	if count == 0 || litres == 0 {
		return 0
	}
	product := strings.ToUpper(a.Product)
	niko := strings.Contains(product, "NIKO")
	inter := strings.Contains(product, "PROBIOTIC") || strings.Contains(product, "WATER KEFIR")

	switch {
	case math.Abs(litres-0.33) < 0.01:
		switch {
		case count == 12 && niko:
			return slotNiko33x12
		case count == 6 && inter:
			return slotInter33x6
		case count == 6:
			return slotSym33x6
		default:
			return slotSym33x12
		}
	case math.Abs(litres-0.75) < 0.01:
		switch {
		case count == 6 && niko:
			return slotNiko75x6
		case count == 6:
			return slotSym75x6
		case count == 4:
			return slotSym75x4
		default:
			return slotOther75
		}
	}
	return 0
}

// Slot totals of the sheet's flavour, keyed by column.
type slotTotals struct {
	bottles map[int]int
	cartons map[int]int
}

func (s ProductionSheet) slots() slotTotals {
	t := slotTotals{bottles: map[int]int{}, cartons: map[int]int{}}
	flavour := strings.TrimSpace(s.Flavour)
	for _, a := range s.Allocations {
		if flavour != "" && strings.TrimSpace(a.Flavour) != flavour {
			continue
		}
		if a.Cartons <= 0 {
			continue
		}
		col := slotOf(a)
		if col == 0 {
			continue
		}
		t.cartons[col] += a.Cartons
		t.bottles[col] += a.Bottles
	}
	return t
}

// Labels the template's flavour drop-down accepts, keyed by labelKey.
var excelLabels = map[string]string{
	"original":           "K. Original",
	"menthe citron vert": "K. Menthe - Citron Vert",
	"gingembre":          "K. Gingembre",
	"pamplemousse":       "K. Pamplemousse",
	"mangue passion":     "K. Mangue - Passion",
	"menthe poivree":     "EP. Menthe Poivrée",
	"melisse":            "EP. Mélisse",
	"anis etoilee":       "EP. Anis étoilée",
	"zeste d'agrumes":    "EP. Zest d'agrumes",
	"peche":              "K. Pêche",
	"autre":              "Autre :",
}

func labelKey(s string) string {
	s = strings.ReplaceAll(fold(strings.TrimSpace(s)), "’", "'")
	return strings.Join(strings.Fields(labelSpaceRun.ReplaceAllString(s, " ")), " ")
}

// ExcelLabel maps a flavour to the spelling of the template's list. Unknown
// flavours are returned unchanged.
func ExcelLabel(flavour string) string {
	if l, ok := excelLabels[labelKey(flavour)]; ok {
		return l
	}
	return flavour
}

// Dilution rows, in order, and the ingredient each one is meant for.
var dilutionCells = []struct {
	cell    string
	keyword string
}{
	{"C30", "sucre"},
	{"C31", "figue"},
	{"C32", "citron"},
	{"C33", "grain"},
}

// dilutionPlacement assigns each dilution ingredient to a row: keyword
// matches first, then the rest to the free rows in name order. Ingredients
// beyond the four rows are dropped.
func dilutionPlacement(ingredients map[string]float64) map[string]float64 {
	names := make([]string, 0, len(ingredients))
	for n := range ingredients {
		names = append(names, n)
	}
	sort.Strings(names)

	out := map[string]float64{}
	var rest []string
	for _, n := range names {
		key := fold(n)
		placed := false
		for _, d := range dilutionCells {
			if _, used := out[d.cell]; !used && strings.Contains(key, d.keyword) {
				out[d.cell] = round(ingredients[n], 2)
				placed = true
				break
			}
		}
		if !placed {
			rest = append(rest, n)
		}
	}
	for _, n := range rest {
		for _, d := range dilutionCells {
			if _, used := out[d.cell]; !used {
				out[d.cell] = round(ingredients[n], 2)
				break
			}
		}
	}
	return out
}

// fiche fills one worksheet. Writes inside a merged range go to its
// top-left cell.
type fiche struct {
	f     *excelize.File
	sheet string
}

func (w *fiche) set(cell string, v any) error {
	col, row, err := excelize.CellNameToCoordinates(cell)
	if err != nil {
		return err
	}
	merges, err := w.f.GetMergeCells(w.sheet)
	if err != nil {
		return err
	}
	for _, m := range merges {
		c1, r1, err1 := excelize.CellNameToCoordinates(m.GetStartAxis())
		c2, r2, err2 := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err1 != nil || err2 != nil {
			continue
		}
		if r1 <= row && row <= r2 && c1 <= col && col <= c2 {
			cell = m.GetStartAxis()
			break
		}
	}
	return w.f.SetCellValue(w.sheet, cell, v)
}

func (w *fiche) setAt(col, row int, v any) error {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return w.set(name, v)
}

func (w *fiche) date(cell string, t time.Time) error {
	if err := w.set(cell, t); err != nil {
		return err
	}
	style, err := w.f.NewStyle(&excelize.Style{
		CustomNumFmt: ptr(dateFormat),
		Alignment:    &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	if err != nil {
		return err
	}
	return w.f.SetCellStyle(w.sheet, cell, cell, style)
}

// remerge clears merges overlapping from:to, then merges exactly that range.
func (w *fiche) remerge(from, to string) error {
	c1, r1, err := excelize.CellNameToCoordinates(from)
	if err != nil {
		return err
	}
	c2, r2, err := excelize.CellNameToCoordinates(to)
	if err != nil {
		return err
	}
	merges, err := w.f.GetMergeCells(w.sheet)
	if err != nil {
		return err
	}
	for _, m := range merges {
		mc1, mr1, _ := excelize.CellNameToCoordinates(m.GetStartAxis())
		mc2, mr2, _ := excelize.CellNameToCoordinates(m.GetEndAxis())
		if mr2 < r1 || mr1 > r2 || mc2 < c1 || mc1 > c2 {
			continue
		}
		if err := w.f.UnmergeCell(w.sheet, m.GetStartAxis(), m.GetEndAxis()); err != nil {
			return err
		}
	}
	return w.f.MergeCell(w.sheet, from, to)
}

func (w *fiche) pageSetup() error {
	if err := w.f.SetPageLayout(w.sheet, &excelize.PageLayoutOptions{
		Size:        ptr(9), // A4
		Orientation: ptr("portrait"),
		FitToWidth:  ptr(1),
		FitToHeight: ptr(0),
	}); err != nil {
		return err
	}
	if err := w.f.SetPageMargins(w.sheet, &excelize.PageLayoutMarginsOptions{
		Left:         ptr(0.4),
		Right:        ptr(0.4),
		Top:          ptr(0.5),
		Bottom:       ptr(0.5),
		Horizontally: ptr(true),
	}); err != nil {
		return err
	}
	return w.f.SetSheetProps(w.sheet, &excelize.SheetPropsOptions{FitToPage: ptr(true)})
}

func (w *fiche) title(capacity float64) error {
	if capacity <= 0 {
		return nil
	}
	if err := w.set("C1", fmt.Sprintf("Cuve de %.0fL", capacity)); err != nil {
		return err
	}
	style, err := w.f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Family: "Aptos Narrow", Size: 20, Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}
	return w.f.SetCellStyle(w.sheet, "C1", "C1", style)
}

func (w *fiche) fill(s ProductionSheet, rulers RulerTable) error {
	if err := w.pageSetup(); err != nil {
		return err
	}
	if err := w.title(s.Plan.Tank.Capacity); err != nil {
		return err
	}
	if !s.WeekOf.IsZero() {
		if err := w.date("A21", s.WeekOf); err != nil {
			return err
		}
	}
	if err := w.set("B8", ExcelLabel(s.Flavour)); err != nil {
		return err
	}
	if err := w.remerge("B10", "C10"); err != nil {
		return err
	}
	if !s.BestBefore.IsZero() {
		if err := w.date("B10", s.BestBefore); err != nil {
			return err
		}
	}

	t := s.slots()
	for col := slotSym33x12; col <= slotOther75; col++ {
		if n := t.bottles[col]; n > 0 {
			if err := w.setAt(col, 15, n); err != nil {
				return err
			}
		}
		if n := t.cartons[col]; n > 0 {
			if err := w.setAt(col, 16, n); err != nil {
				return err
			}
		}
	}

	for cell, qty := range dilutionPlacement(s.Plan.Dilution) {
		if err := w.set(cell, qty); err != nil {
			return err
		}
	}

	p := s.Plan
	if p.Start <= 0 {
		return nil
	}
	v := s.Volumes()
	for _, c := range []cellValue{
		{"C35", p.Start},
		{"B42", v.Filtered},
		{"B43", v.Final},
		{"B48", v.Total},
	} {
		if err := w.set(c.cell, math.Round(c.value)); err != nil {
			return err
		}
	}

	capacity := int(p.Tank.Capacity)
	if _, ok := rulers[capacity]; !ok {
		return nil
	}
	for _, c := range []cellValue{
		{"C36", p.Start},
		{"B44", v.Final},
		{"B49", v.Total},
	} {
		if err := w.set(c.cell, rulers.Height(c.value, capacity)); err != nil {
			return err
		}
	}
	return nil
}

type cellValue struct {
	cell  string
	value float64
}

// FicheWorkbook fills the production sheet. With a template, the worksheet
// named FicheSheetName (or the active one) is filled in place; without one a
// bare workbook carrying the same cells is produced. Dipstick heights are
// left blank for tanks missing from rulers.
func FicheWorkbook(template io.Reader, s ProductionSheet, rulers RulerTable) ([]byte, error) {
	var (
		f   *excelize.File
		err error
	)
	if template != nil {
		f, err = excelize.OpenReader(template)
		if err != nil {
			return nil, fmt.Errorf("planning: open template: %w", err)
		}
	} else {
		f = excelize.NewFile()
		if err := f.SetSheetName("Sheet1", FicheSheetName); err != nil {
			return nil, err
		}
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if idx, err := f.GetSheetIndex(FicheSheetName); err == nil && idx >= 0 {
		sheet = FicheSheetName
	}

	w := &fiche{f: f, sheet: sheet}
	if err := w.fill(s, rulers); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FicheFileName names the workbook after the flavour and start date.
func FicheFileName(s ProductionSheet) string {
	name := strings.Join(strings.Fields(labelKey(s.Flavour)), "_")
	if name == "" {
		name = "production"
	}
	if !s.WeekOf.IsZero() {
		name += "_" + s.WeekOf.Format("20060102")
	}
	return "fiche_" + name + ".xlsx"
}

func ptr[T any](v T) *T {
	return &v
}
