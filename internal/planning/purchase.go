package planning

import (
	"encoding/csv"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/dmitrijs2005/fermentstation/internal/brewery"
	"github.com/dmitrijs2005/fermentstation/internal/common"
)

// Status grades how many days of stock remain.
type Status string

const (
	StatusCritical Status = "critical"
	StatusWarning  Status = "warning"
	StatusOK       Status = "ok"
)

// Material type codes of packaging components.
const (
	TypePackaging = "CONDITIONNEMENT"
	TypeContainer = "CONTENANT"
)

// CoverageOptions drive Coverage. Zero values take the defaults.
type CoverageOptions struct {
	// WindowDays is the consumption history averaged into a daily pace.
	WindowDays int `json:"window_days"`
	// HorizonDays is how far ahead the recommended order must cover.
	HorizonDays int `json:"horizon_days"`
	// Below CriticalDays a line is critical, below WarningDays a warning.
	CriticalDays int `json:"critical_days"`
	WarningDays  int `json:"warning_days"`
	// IncludeContainers adds empty bottles to the packaging components.
	IncludeContainers bool `json:"include_containers"`
	// HideUnused drops components with no consumption in the window.
	HideUnused bool `json:"hide_unused"`
}

func DefaultCoverageOptions() CoverageOptions {
	return CoverageOptions{
		WindowDays:        30,
		HorizonDays:       30,
		CriticalDays:      7,
		WarningDays:       21,
		IncludeContainers: true,
	}
}

// Normalize fills defaults and checks bounds.
func (o CoverageOptions) Normalize() (CoverageOptions, error) {
	d := DefaultCoverageOptions()
	if o.WindowDays == 0 {
		o.WindowDays = d.WindowDays
	}
	if o.HorizonDays == 0 {
		o.HorizonDays = d.HorizonDays
	}
	if o.CriticalDays == 0 {
		o.CriticalDays = d.CriticalDays
	}
	if o.WarningDays == 0 {
		o.WarningDays = d.WarningDays
	}
	switch {
	case o.WindowDays < 7 || o.WindowDays > 365:
		return o, common.NewValidationError("window_days", "must be between 7 and 365")
	case o.HorizonDays < 1 || o.HorizonDays > 365:
		return o, common.NewValidationError("horizon_days", "must be between 1 and 365")
	case o.CriticalDays < 1 || o.CriticalDays > 90:
		return o, common.NewValidationError("critical_days", "must be between 1 and 90")
	case o.WarningDays < 1 || o.WarningDays > 180:
		return o, common.NewValidationError("warning_days", "must be between 1 and 180")
	}
	return o, nil
}

func (o CoverageOptions) status(days float64) Status {
	switch {
	case days < float64(o.CriticalDays):
		return StatusCritical
	case days < float64(o.WarningDays):
		return StatusWarning
	}
	return StatusOK
}

type StatusCounts struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	OK       int `json:"ok"`
}

func (c *StatusCounts) add(s Status) {
	switch s {
	case StatusCritical:
		c.Critical++
	case StatusWarning:
		c.Warning++
	default:
		c.OK++
	}
}

type ProductCoverage struct {
	Label    string  `json:"label"`
	Stock    int     `json:"stock"`
	VolumeHL float64 `json:"volume_hl"`
	Days     float64 `json:"days"`
	Status   Status  `json:"status"`
}

type ComponentCoverage struct {
	ID       int     `json:"id"`
	Label    string  `json:"label"`
	Type     string  `json:"type"`
	Unit     string  `json:"unit"`
	Stock    float64 `json:"stock"`
	Consumed float64 `json:"consumed"`
	PerDay   float64 `json:"per_day"`
	// Days is nil when nothing was consumed: the stock never runs out.
	Days   *float64 `json:"days"`
	Status Status   `json:"status"`
}

// OrderLine is a component whose stock does not cover the horizon.
type OrderLine struct {
	ID      int     `json:"id"`
	Label   string  `json:"label"`
	Unit    string  `json:"unit"`
	Need    float64 `json:"need"`
	Stock   float64 `json:"stock"`
	ToOrder float64 `json:"to_order"`
	Status  Status  `json:"status"`
}

type CoverageReport struct {
	Options         CoverageOptions     `json:"options"`
	Products        []ProductCoverage   `json:"products"`
	ProductCounts   StatusCounts        `json:"product_counts"`
	Components      []ComponentCoverage `json:"components"`
	ComponentCounts StatusCounts        `json:"component_counts"`
	Orders          []OrderLine         `json:"orders"`
	TotalToOrder    float64             `json:"total_to_order"`
}

// Coverage grades finished products by their days of stock, packaging
// components by stock over the average daily consumption of the window, and
// lists what to order so every component lasts HorizonDays. opts must be
// normalized.
func Coverage(opts CoverageOptions, autonomy *brewery.Autonomy, materials []brewery.RawMaterial, cons *brewery.Consumption) *CoverageReport {
	r := &CoverageReport{
		Options:    opts,
		Products:   []ProductCoverage{},
		Components: []ComponentCoverage{},
		Orders:     []OrderLine{},
	}

	if autonomy != nil {
		for _, p := range autonomy.Products {
			pc := ProductCoverage{
				Label:    p.Label,
				Stock:    int(p.VirtualQuantity),
				VolumeHL: round(p.Volume, 1),
				Days:     round(p.Autonomy, 1),
				Status:   opts.status(p.Autonomy),
			}
			r.ProductCounts.add(pc.Status)
			r.Products = append(r.Products, pc)
		}
	}
	sort.SliceStable(r.Products, func(i, j int) bool { return r.Products[i].Days < r.Products[j].Days })

	types := map[string]bool{TypePackaging: true}
	sections := []brewery.ConsumptionSection{}
	if cons != nil {
		sections = append(sections, cons.Packaging)
	}
	if opts.IncludeContainers {
		types[TypeContainer] = true
		if cons != nil {
			sections = append(sections, cons.Containers)
		}
	}
	consumed := map[int]float64{}
	for _, s := range sections {
		for _, e := range s.Elements {
			consumed[e.MaterialID] = e.Quantity
		}
	}

	type exact struct{ stock, perDay float64 }
	raw := map[int]exact{}
	for _, m := range materials {
		if !types[m.Type.Code] {
			continue
		}
		qty := consumed[m.ID]
		if opts.HideUnused && qty == 0 {
			continue
		}
		perDay := qty / float64(opts.WindowDays)
		cc := ComponentCoverage{
			ID:       m.ID,
			Label:    m.Label,
			Type:     m.Type.Code,
			Unit:     m.Unit.Symbol,
			Stock:    math.Round(m.VirtualQuantity),
			Consumed: math.Round(qty),
			PerDay:   round(perDay, 1),
			Status:   StatusOK,
		}
		if perDay > 0 {
			days := m.VirtualQuantity / perDay
			cc.Status = opts.status(days)
			d := round(days, 1)
			cc.Days = &d
		}
		raw[m.ID] = exact{stock: m.VirtualQuantity, perDay: perDay}
		r.ComponentCounts.add(cc.Status)
		r.Components = append(r.Components, cc)
	}
	sort.SliceStable(r.Components, func(i, j int) bool {
		return daysOrInf(r.Components[i].Days) < daysOrInf(r.Components[j].Days)
	})

	for _, cc := range r.Components {
		x := raw[cc.ID]
		need := x.perDay * float64(opts.HorizonDays)
		toOrder := math.Max(0, need-x.stock)
		if toOrder <= 0 {
			continue
		}
		ol := OrderLine{
			ID:      cc.ID,
			Label:   cc.Label,
			Unit:    cc.Unit,
			Need:    math.Round(need),
			Stock:   math.Round(x.stock),
			ToOrder: math.Round(toOrder),
			Status:  cc.Status,
		}
		r.TotalToOrder += ol.ToOrder
		r.Orders = append(r.Orders, ol)
	}
	sort.SliceStable(r.Orders, func(i, j int) bool { return r.Orders[i].ToOrder > r.Orders[j].ToOrder })
	return r
}

func daysOrInf(d *float64) float64 {
	if d == nil {
		return math.Inf(1)
	}
	return *d
}

var orderHeader = []string{"composant", "unite", "besoin", "stock", "a_commander"}

// WriteOrdersCSV writes the recommended order, one line per component.
func WriteOrdersCSV(w io.Writer, orders []OrderLine) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(orderHeader); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 0, 64) }
	for _, o := range orders {
		if err := cw.Write([]string{o.Label, o.Unit, f(o.Need), f(o.Stock), f(o.ToOrder)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
