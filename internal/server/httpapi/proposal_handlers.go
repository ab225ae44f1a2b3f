package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/fermentstation/internal/common"
)

type proposalResponse struct {
	Name      string          `json:"name"`
	Status    string          `json:"status"`
	CreatedBy string          `json:"created_by"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *handlers) listProposals(c *gin.Context) {
	list, err := h.proposals.List(c.Request.Context(), identityFrom(c).TenantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": list})
}

func (h *handlers) loadProposal(c *gin.Context) {
	p, err := h.proposals.Load(c.Request.Context(), identityFrom(c).TenantID, c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proposalResponse{
		Name:      p.Name,
		Status:    p.Status,
		CreatedBy: p.CreatedBy,
		Payload:   p.Payload,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	})
}

// saveProposal stores the raw body as the proposal payload.
func (h *handlers) saveProposal(c *gin.Context) {
	var payload json.RawMessage
	if !h.bind(c, &payload) {
		return
	}
	created, err := h.proposals.Save(c.Request.Context(), identityFrom(c), c.Param("name"), payload)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"name": c.Param("name"), "created": created})
}

func (h *handlers) deleteProposal(c *gin.Context) {
	deleted, err := h.proposals.Delete(c.Request.Context(), identityFrom(c).TenantID, c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !deleted {
		h.fail(c, common.ErrorNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) renameProposal(c *gin.Context) {
	var req renameRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.proposals.Rename(c.Request.Context(), identityFrom(c).TenantID, c.Param("name"), req.Name); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": req.Name})
}

func (h *handlers) setProposalStatus(c *gin.Context) {
	var req statusRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.proposals.SetStatus(c.Request.Context(), identityFrom(c).TenantID, c.Param("name"), req.Status); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "status": req.Status})
}
