package harvest

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
)

// Issuer is the sender block printed at the top of the sheet.
type Issuer struct {
	Name   string
	Lines  []string
	Footer string
}

func DefaultIssuer() Issuer {
	return Issuer{
		Name: "FERMENT STATION",
		Lines: []string{
			"Carré Ivry Bâtiment D2",
			"47 rue Ernest Renan",
			"94200 Ivry-sur-Seine - FRANCE",
			"Tél : 0967504647",
			"Site : https://www.symbiose-kefir.fr",
		},
		Footer: "Produits issus de l'Agriculture Biologique certifié par FR-BIO-01",
	}
}

var pdfHeaders = []string{"Référence", "Produit", "DDM", "Nb cartons", "Nb palettes", "Poids (kg)"}

// Column widths in mm; they add up to the 180 mm printable width.
var pdfWidths = []float64{28, 62, 24, 22, 22, 22}

const (
	pdfLeft    = 15.0
	pdfTop     = 18.0
	pdfBottom  = 15.0
	headerH    = 8.0
	lineH      = 6.0
	fontFamily = "Helvetica"
)

// PDF renders the sheet as an A4 delivery note.
func PDF(s Sheet, iss Issuer) ([]byte, error) {
	return renderPDF(s, iss, true)
}

type pdfDoc struct {
	*fpdf.Fpdf
	tr func(string) string
}

func renderPDF(s Sheet, iss Issuer, compress bool) ([]byte, error) {
	p := fpdf.New("P", "mm", "A4", "")
	p.SetCompression(compress)
	p.SetMargins(pdfLeft, pdfTop, pdfLeft)
	p.SetAutoPageBreak(true, pdfBottom)
	p.AddPage()

	d := &pdfDoc{Fpdf: p, tr: p.UnicodeTranslatorFromDescriptor("")}
	d.issuer(iss)
	d.box(s)
	d.table(s)

	if err := p.Error(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := p.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *pdfDoc) issuer(iss Issuer) {
	d.SetXY(pdfLeft, pdfTop)
	d.SetFont(fontFamily, "B", 12)
	d.CellFormat(0, 6, d.tr(iss.Name), "", 1, "L", false, 0, "")
	d.SetFont(fontFamily, "", 11)
	for _, l := range iss.Lines {
		d.CellFormat(0, 5, d.tr(l), "", 1, "L", false, 0, "")
	}
	if iss.Footer != "" {
		d.Ln(2)
		d.SetFont(fontFamily, "", 9)
		d.CellFormat(0, 4, d.tr(iss.Footer), "", 1, "L", false, 0, "")
	}
	d.Ln(2)
}

// box draws the "BON DE LIVRAISON" frame with dates and recipient.
func (d *pdfDoc) box(s Sheet) {
	pageW, _ := d.GetPageSize()
	width := (pageW - 2*pdfLeft) * 0.70
	wLabel, wValue := width*0.55, width*0.45

	d.SetFont(fontFamily, "B", 12)
	d.SetXY(pdfLeft, d.GetY()+2)
	d.CellFormat(width, 8, "BON DE LIVRAISON", "1", 1, "L", false, 0, "")

	d.SetFont(fontFamily, "", 11)
	row := func(label, value string) {
		d.SetX(pdfLeft)
		d.CellFormat(wLabel, 8, d.tr(label), "1", 0, "L", false, 0, "")
		d.CellFormat(wValue, 8, d.tr(value), "1", 1, "R", false, 0, "")
	}
	row("DATE DE CREATION :", s.CreatedOn.Format(DateLayout))
	row("DATE DE RAMASSE :", s.PickupDate.Format(DateLayout))

	parts := append([]string{s.Recipient.Name}, s.Recipient.Lines...)
	text := d.tr(strings.Join(parts, "\n"))
	n := 0
	for _, p := range strings.Split(text, "\n") {
		n += max(1, len(d.lines(p, wValue-2)))
	}
	h := max(8, lineH*float64(n))

	y := d.GetY()
	d.SetXY(pdfLeft, y)
	d.CellFormat(wLabel, h, "DESTINATAIRE :", "1", 0, "L", false, 0, "")
	d.SetXY(pdfLeft+wLabel, y)
	d.MultiCell(wValue, lineH, text, "", "L", false)
	d.Rect(pdfLeft+wLabel, y, wValue, h, "D")
	d.SetXY(pdfLeft, y+h)
}

// lines wraps text already passed through tr. Translated text is cp1252,
// not UTF-8, so it must be measured byte by byte.
func (d *pdfDoc) lines(text string, w float64) [][]byte {
	return d.SplitLines([]byte(text), w)
}

func (d *pdfDoc) tableHeader() {
	d.SetFillColor(230, 230, 230)
	d.SetFont(fontFamily, "B", 10)
	d.SetX(pdfLeft)
	for i, h := range pdfHeaders {
		d.CellFormat(pdfWidths[i], headerH, d.tr(h), "1", 0, "C", true, 0, "")
	}
	d.Ln(headerH)
	d.SetFont(fontFamily, "", 10)
}

// breakIfNeeded starts a new page, repeating the header, when a row of
// height h would not fit.
func (d *pdfDoc) breakIfNeeded(h float64) {
	_, pageH := d.GetPageSize()
	if d.GetY()+h > pageH-pdfBottom {
		d.AddPage()
		d.tableHeader()
	}
}

func (d *pdfDoc) table(s Sheet) {
	d.Ln(6)
	d.tableHeader()

	lines, totals := s.Compute()
	for _, l := range lines {
		label := d.tr(l.Label)
		wrapped := d.lines(label, pdfWidths[1]-2)
		h := max(lineH, lineH*float64(len(wrapped)))
		d.breakIfNeeded(h)

		x, y := pdfLeft, d.GetY()
		cells := []string{
			l.Reference,
			"",
			formatDate(l),
			strconv.Itoa(l.Cartons),
			strconv.Itoa(l.Pallets),
			strconv.Itoa(l.WeightKg),
		}
		for i, v := range cells {
			d.SetXY(x, y)
			if i == 1 {
				d.MultiCell(pdfWidths[i], lineH, label, "", "L", false)
				d.Rect(x, y, pdfWidths[i], h, "D")
			} else {
				d.CellFormat(pdfWidths[i], h, d.tr(v), "1", 0, "C", false, 0, "")
			}
			x += pdfWidths[i]
		}
		d.SetXY(pdfLeft, y+h)
	}

	d.breakIfNeeded(headerH)
	d.SetFont(fontFamily, "B", 10)
	d.SetX(pdfLeft)
	d.CellFormat(pdfWidths[0]+pdfWidths[1]+pdfWidths[2], headerH, "Totaux", "1", 0, "R", false, 0, "")
	d.CellFormat(pdfWidths[3], headerH, groupThousands(totals.Cartons), "1", 0, "C", false, 0, "")
	d.CellFormat(pdfWidths[4], headerH, groupThousands(totals.Pallets), "1", 0, "C", false, 0, "")
	d.CellFormat(pdfWidths[5], headerH, groupThousands(totals.WeightKg), "1", 1, "C", false, 0, "")
}
