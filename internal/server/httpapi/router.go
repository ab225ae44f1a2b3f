package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/server/metrics"
)

const pingTimeout = 2 * time.Second

type handlers struct {
	auth          AuthService
	proposals     ProposalService
	harvest       HarvestService
	planning      PlanningService
	brewery       BreweryClient
	metrics       *metrics.Metrics
	log           logging.Logger
	ping          func(ctx context.Context) error
	secureCookies bool
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	h := &handlers{
		auth:          d.Auth,
		proposals:     d.Proposals,
		harvest:       d.Harvest,
		planning:      d.Planning,
		brewery:       d.Brewery,
		metrics:       d.Metrics,
		log:           d.Log.With("module", "http"),
		ping:          d.Ping,
		secureCookies: d.SecureCookies,
	}
	if h.metrics == nil {
		h.metrics = metrics.New("")
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(requestID(), accessLog(h.log, h.metrics), recovery(h.log))

	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	a := r.Group("/auth")
	a.POST("/register", h.register)
	a.POST("/login", h.login)
	a.POST("/logout", h.logout)
	a.POST("/password-reset", h.requestReset)
	a.GET("/session", h.requireSession, h.session)
	a.POST("/change-password", h.requireSession, h.changePassword)

	r.GET("/reset/:token", h.verifyReset)
	r.POST("/reset/:token", h.resetPassword)

	api := r.Group("/api", h.requireSession)

	p := api.Group("/proposals")
	p.GET("", h.listProposals)
	p.GET("/:name", h.loadProposal)
	p.PUT("/:name", h.saveProposal)
	p.DELETE("/:name", h.requireAdmin, h.deleteProposal)
	p.POST("/:name/rename", h.renameProposal)
	p.PUT("/:name/status", h.setProposalStatus)

	hs := api.Group("/harvest-sheets")
	hs.GET("/recipients", h.harvestRecipients)
	hs.POST("/preview", h.harvestPreview)
	hs.POST("/pdf", h.harvestPDF)
	hs.POST("/xlsx", h.harvestExcel)
	hs.POST("", h.harvestSend)

	if h.planning != nil {
		pl := api.Group("/planning")
		pl.GET("/tanks", h.tanks)
		pl.GET("/tanks/:id/volume", h.tankVolume)
		pl.POST("/distribution", h.distribute)
		pl.POST("/fiche.xlsx", h.fiche)
		if h.brewery != nil {
			pl.GET("/purchases", h.purchases)
			pl.GET("/purchases.csv", h.purchasesCSV)
			pl.POST("/lots", h.allocateLots)
		}
	}

	if h.brewery != nil {
		b := api.Group("/brewery")
		b.GET("/stock-autonomy", h.stockAutonomy)
		b.GET("/stock-autonomy.xlsx", h.stockAutonomyExcel)
		b.GET("/consumption", h.materialConsumption)
		b.GET("/raw-materials", h.rawMaterials)
		b.GET("/products", h.products)
		b.GET("/warehouses", h.warehouses)
	}

	return r
}

func (h *handlers) healthz(c *gin.Context) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			h.log.Warn(ctx, "health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
