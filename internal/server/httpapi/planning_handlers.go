package httpapi

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/fermentstation/internal/planning"
	"github.com/dmitrijs2005/fermentstation/internal/server/services"
)

type distributionRequest struct {
	Formats   []planning.Format `json:"formats"`
	Overrides map[string]int    `json:"overrides"`
}

type ficheRequest struct {
	TankID     string            `json:"tank_id"`
	ProductID  int               `json:"product_id"`
	Flavour    string            `json:"flavour"`
	WeekOf     string            `json:"week_of"`
	BestBefore string            `json:"best_before"`
	Formats    []planning.Format `json:"formats"`
	Overrides  map[string]int    `json:"overrides"`
}

func (r ficheRequest) input() (services.FicheInput, error) {
	in := services.FicheInput{
		TankID:    r.TankID,
		ProductID: r.ProductID,
		Flavour:   r.Flavour,
		Formats:   r.Formats,
		Overrides: r.Overrides,
	}
	var err error
	if in.WeekOf, err = parseDate("week_of", r.WeekOf); err != nil {
		return in, err
	}
	if in.BestBefore, err = parseDate("best_before", r.BestBefore); err != nil {
		return in, err
	}
	return in, nil
}

type lotsRequest struct {
	Ingredients []planning.IngredientLine `json:"ingredients"`
}

// queryInt reads an optional integer query parameter; absent is 0.
func queryInt(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest(name, "must be an integer")
	}
	return n, nil
}

// queryBool reads an optional boolean query parameter with a default.
func queryBool(c *gin.Context, name string, def bool) (bool, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest(name, "must be a boolean")
	}
	return b, nil
}

func coverageOptions(c *gin.Context) (planning.CoverageOptions, error) {
	o := planning.DefaultCoverageOptions()
	var err error
	ints := []struct {
		name string
		dst  *int
	}{
		{"days", &o.WindowDays},
		{"horizon", &o.HorizonDays},
		{"critical", &o.CriticalDays},
		{"warning", &o.WarningDays},
	}
	for _, q := range ints {
		n, err := queryInt(c, q.name)
		if err != nil {
			return o, err
		}
		if n != 0 {
			*q.dst = n
		}
	}
	if o.IncludeContainers, err = queryBool(c, "containers", true); err != nil {
		return o, err
	}
	if o.HideUnused, err = queryBool(c, "hide_unused", false); err != nil {
		return o, err
	}
	return o, nil
}

func (h *handlers) tanks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tanks": h.planning.Tanks()})
}

func (h *handlers) tankVolume(c *gin.Context) {
	productID, err := queryInt(c, "product_id")
	if err != nil {
		h.fail(c, err)
		return
	}
	p, err := h.planning.Volume(c.Request.Context(), c.Param("id"), productID)
	if err != nil {
		h.failExternal(c, "brewery", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) distribute(c *gin.Context) {
	var req distributionRequest
	if !h.bind(c, &req) {
		return
	}
	out, err := h.planning.Distribute(req.Formats, req.Overrides)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": out})
}

func (h *handlers) fiche(c *gin.Context) {
	var req ficheRequest
	if !h.bind(c, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(c, err)
		return
	}
	doc, err := h.planning.Fiche(c.Request.Context(), in)
	if err != nil {
		h.failExternal(c, "brewery", err)
		return
	}
	sendDocument(c, doc)
}

func (h *handlers) coverage(c *gin.Context) (*planning.CoverageReport, bool) {
	opts, err := coverageOptions(c)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	r, err := h.planning.Purchases(c.Request.Context(), opts, forceRefresh(c))
	if err != nil {
		h.failExternal(c, "brewery", err)
		return nil, false
	}
	return r, true
}

func (h *handlers) purchases(c *gin.Context) {
	if r, ok := h.coverage(c); ok {
		c.JSON(http.StatusOK, r)
	}
}

func (h *handlers) purchasesCSV(c *gin.Context) {
	r, ok := h.coverage(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := planning.WriteOrdersCSV(&buf, r.Orders); err != nil {
		h.fail(c, err)
		return
	}
	name := "commande_emballages_" + strconv.Itoa(r.Options.HorizonDays) + "j.csv"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *handlers) allocateLots(c *gin.Context) {
	var req lotsRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.planning.AllocateLots(c.Request.Context(), req.Ingredients)
	if err != nil {
		h.failExternal(c, "brewery", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
