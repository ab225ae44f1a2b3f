package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/fermentstation/internal/harvest"
	"github.com/dmitrijs2005/fermentstation/internal/server/services"
)

// dateLayout is the wire format of every date in a sheet request.
const dateLayout = "2006-01-02"

type sheetLine struct {
	Reference  string `json:"reference"`
	Product    string `json:"product"`
	Format     string `json:"format"`
	BestBefore string `json:"best_before"`
	Cartons    int    `json:"cartons"`
	Pallets    int    `json:"pallets"`
}

type sheetRequest struct {
	CreatedOn  string            `json:"created_on"`
	PickupDate string            `json:"pickup_date"`
	Recipient  harvest.Recipient `json:"recipient"`
	Lines      []sheetLine       `json:"lines"`
	To         []string          `json:"to"`
}

type computedLine struct {
	Reference      string  `json:"reference"`
	Label          string  `json:"label"`
	Format         string  `json:"format"`
	BestBefore     string  `json:"best_before"`
	Cartons        int     `json:"cartons"`
	CartonWeight   float64 `json:"carton_weight_kg"`
	PalletCapacity int     `json:"pallet_capacity"`
	Pallets        int     `json:"pallets"`
	WeightKg       int     `json:"weight_kg"`
}

type totals struct {
	Cartons  int `json:"cartons"`
	Pallets  int `json:"pallets"`
	WeightKg int `json:"weight_kg"`
}

func parseDate(field, v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, badRequest(field, "expected YYYY-MM-DD")
	}
	return t, nil
}

func (r sheetRequest) sheet() (harvest.Sheet, error) {
	var (
		s   harvest.Sheet
		err error
	)
	if s.CreatedOn, err = parseDate("created_on", r.CreatedOn); err != nil {
		return s, err
	}
	if s.PickupDate, err = parseDate("pickup_date", r.PickupDate); err != nil {
		return s, err
	}
	s.Recipient = r.Recipient
	for i, l := range r.Lines {
		bb, err := parseDate("lines["+strconv.Itoa(i)+"].best_before", l.BestBefore)
		if err != nil {
			return s, err
		}
		s.Lines = append(s.Lines, harvest.Line{
			Reference:  l.Reference,
			Product:    l.Product,
			Format:     l.Format,
			BestBefore: bb,
			Cartons:    l.Cartons,
			Pallets:    l.Pallets,
		})
	}
	return s, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func toTotals(t harvest.Totals) totals {
	return totals{Cartons: t.Cartons, Pallets: t.Pallets, WeightKg: t.WeightKg}
}

// readSheet binds and converts the request body. It writes the error response itself.
func (h *handlers) readSheet(c *gin.Context) (sheetRequest, harvest.Sheet, bool) {
	var req sheetRequest
	if !h.bind(c, &req) {
		return req, harvest.Sheet{}, false
	}
	s, err := req.sheet()
	if err != nil {
		h.fail(c, err)
		return req, s, false
	}
	return req, s, true
}

func (h *handlers) harvestRecipients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"recipients": h.harvest.Recipients()})
}

func (h *handlers) harvestPreview(c *gin.Context) {
	_, s, ok := h.readSheet(c)
	if !ok {
		return
	}
	lines, tot, err := h.harvest.Preview(s)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]computedLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, computedLine{
			Reference:      l.Reference,
			Label:          l.Label,
			Format:         l.Format,
			BestBefore:     formatDate(l.BestBefore),
			Cartons:        l.Cartons,
			CartonWeight:   l.CartonWeight,
			PalletCapacity: l.PalletCapacity,
			Pallets:        l.Pallets,
			WeightKg:       l.WeightKg,
		})
	}
	c.JSON(http.StatusOK, gin.H{"lines": out, "totals": toTotals(tot)})
}

func (h *handlers) harvestPDF(c *gin.Context) {
	_, s, ok := h.readSheet(c)
	if !ok {
		return
	}
	doc, err := h.harvest.PDF(c.Request.Context(), s)
	if err != nil {
		h.fail(c, err)
		return
	}
	sendDocument(c, doc)
}

func (h *handlers) harvestExcel(c *gin.Context) {
	_, s, ok := h.readSheet(c)
	if !ok {
		return
	}
	doc, err := h.harvest.Excel(c.Request.Context(), s)
	if err != nil {
		h.fail(c, err)
		return
	}
	sendDocument(c, doc)
}

func (h *handlers) harvestSend(c *gin.Context) {
	req, s, ok := h.readSheet(c)
	if !ok {
		return
	}
	res, err := h.harvest.Send(c.Request.Context(), identityFrom(c), services.HarvestSendInput{Sheet: s, To: req.To})
	if err != nil {
		h.failExternal(c, "email", err)
		return
	}
	h.metrics.HarvestSent.Inc()
	c.JSON(http.StatusOK, gin.H{
		"sent":         res.Sent,
		"totals":       toTotals(res.Totals),
		"archive_keys": res.ArchiveKeys,
		"archive_url":  res.ArchiveURL,
	})
}

func sendDocument(c *gin.Context, doc *services.Document) {
	c.Header("Content-Disposition", `attachment; filename="`+doc.Name+`"`)
	c.Data(http.StatusOK, doc.ContentType, doc.Content)
}
