package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultWindowDays = 30
	maxWindowDays     = 365
)

// windowDays reads ?days=, defaulting to a 30 day window.
func windowDays(c *gin.Context) (int, error) {
	v := c.Query("days")
	if v == "" {
		return defaultWindowDays, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxWindowDays {
		return 0, badRequest("days", "must be between 1 and 365")
	}
	return n, nil
}

func forceRefresh(c *gin.Context) bool {
	b, _ := strconv.ParseBool(c.Query("force_refresh"))
	return b
}

func (h *handlers) stockAutonomy(c *gin.Context) {
	days, err := windowDays(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.brewery.StockAutonomy(c.Request.Context(), days, forceRefresh(c))
	if err != nil {
		h.failExternal(c, "brewery", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) stockAutonomyExcel(c *gin.Context) {
	days, err := windowDays(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	b, err := h.brewery.StockAutonomyExcel(c.Request.Context(), days)
	if err != nil {
		h.failExternal(c, "brewery", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="autonomie_stocks.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", b)
}

func (h *handlers) materialConsumption(c *gin.Context) {
	days, err := windowDays(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.brewery.MaterialConsumption(c.Request.Context(), days, forceRefresh(c))
	if err != nil {
		h.failExternal(c, "brewery", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) rawMaterials(c *gin.Context) {
	res, err := h.brewery.RawMaterials(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.failExternal(c, "brewery", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"raw_materials": res})
}

func (h *handlers) products(c *gin.Context) {
	res, err := h.brewery.Products(c.Request.Context())
	if err != nil {
		h.failExternal(c, "brewery", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": res})
}

func (h *handlers) warehouses(c *gin.Context) {
	res, err := h.brewery.Warehouses(c.Request.Context())
	if err != nil {
		h.failExternal(c, "brewery", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"warehouses": res})
}
