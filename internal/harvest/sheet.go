// Package harvest builds pickup sheets ("fiches de ramasse"): the list of
// cartons handed to the carrier, with pallet counts and gross weights, rendered
// as Excel or PDF.
package harvest

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/common"
)

// DateLayout is how dates appear on the sheet.
const DateLayout = "02/01/2006"

// BestBeforeDays is the shelf life added to the fermentation start date.
const BestBeforeDays = 365

type Line struct {
	Reference  string    `json:"reference"`
	Product    string    `json:"product"`
	Format     string    `json:"format"`
	BestBefore time.Time `json:"best_before"`
	Cartons    int       `json:"cartons"`
	// Pallets overrides the computed pallet count when positive.
	Pallets int `json:"pallets,omitempty"`
}

// Recipient is a carrier or warehouse a sheet is addressed to.
type Recipient struct {
	Name   string   `json:"name"`
	Lines  []string `json:"address_lines"`
	Emails []string `json:"email_recipients"`
}

type Sheet struct {
	CreatedOn  time.Time `json:"created_on"`
	PickupDate time.Time `json:"pickup_date"`
	Recipient  Recipient `json:"recipient"`
	Lines      []Line    `json:"lines"`
}

// ComputedLine is a Line with its pallet count and gross weight filled in.
type ComputedLine struct {
	Line
	Label          string
	CartonWeight   float64
	PalletCapacity int
	Pallets        int
	WeightKg       int
}

type Totals struct {
	Cartons  int
	Pallets  int
	WeightKg int
}

// BestBefore returns the best-before date for a batch started on start.
func BestBefore(start time.Time) time.Time {
	return start.AddDate(0, 0, BestBeforeDays)
}

// ComputeLine fills pallets and weight. Unless given, pallets are cartons over
// capacity rounded up; weight is cartons times carton weight plus pallet tare,
// rounded to the kg.
func ComputeLine(l Line) ComputedLine {
	cl := ComputedLine{
		Line:           l,
		Label:          DisplayLabel(l.Product, l.Format),
		CartonWeight:   CartonWeight(l.Format, l.Product),
		PalletCapacity: PalletCapacity(l.Format, l.Product),
	}
	switch {
	case l.Pallets > 0:
		cl.Pallets = l.Pallets
	case l.Cartons > 0 && cl.PalletCapacity > 0:
		cl.Pallets = int(math.Ceil(float64(l.Cartons) / float64(cl.PalletCapacity)))
	}
	if l.Cartons > 0 {
		w := float64(l.Cartons)*cl.CartonWeight + float64(cl.Pallets)*EmptyPalletWeight
		cl.WeightKg = int(math.Round(w))
	}
	return cl
}

// Compute returns the computed lines and their totals.
func (s Sheet) Compute() ([]ComputedLine, Totals) {
	out := make([]ComputedLine, 0, len(s.Lines))
	var t Totals
	for _, l := range s.Lines {
		cl := ComputeLine(l)
		t.Cartons += cl.Cartons
		t.Pallets += cl.Pallets
		t.WeightKg += cl.WeightKg
		out = append(out, cl)
	}
	return out, t
}

// Validate checks the sheet can be sent: a named recipient and at least one carton.
func (s Sheet) Validate() error {
	if strings.TrimSpace(s.Recipient.Name) == "" {
		return common.NewValidationError("recipient", "is required")
	}
	if s.PickupDate.IsZero() {
		return common.NewValidationError("pickup_date", "is required")
	}
	for i, l := range s.Lines {
		if l.Cartons < 0 {
			return common.NewValidationError(fmt.Sprintf("lines[%d].cartons", i), "must not be negative")
		}
		if CartonWeight(l.Format, l.Product) == 0 {
			return common.NewValidationError(fmt.Sprintf("lines[%d].format", i), "unknown format "+l.Format)
		}
	}
	if _, t := s.Compute(); t.Cartons <= 0 {
		return common.NewValidationError("lines", "at least one carton is required")
	}
	return nil
}

// NonEmpty returns the sheet without zero-carton lines.
func (s Sheet) NonEmpty() Sheet {
	lines := make([]Line, 0, len(s.Lines))
	for _, l := range s.Lines {
		if l.Cartons > 0 {
			lines = append(lines, l)
		}
	}
	s.Lines = lines
	return s
}

// FileName is the attachment name for the sheet, e.g. Fiche_de_ramasse_20260415.pdf.
func (s Sheet) FileName(ext string) string {
	return "Fiche_de_ramasse_" + s.PickupDate.Format("20060102") + "." + ext
}

type recipientsFile struct {
	Recipients []Recipient `json:"destinataires"`
}

// LoadRecipients reads the recipients directory, {"destinataires": [...]}.
func LoadRecipients(r io.Reader) ([]Recipient, error) {
	var f recipientsFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, err
	}
	return f.Recipients, nil
}

// FindRecipient looks a recipient up by name, ignoring case.
func FindRecipient(list []Recipient, name string) (Recipient, bool) {
	for _, r := range list {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return Recipient{}, false
}

// groupThousands formats n with a space every three digits: 12 345.
func groupThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
