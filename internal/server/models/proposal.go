package models

import (
	"encoding/json"
	"time"
)

// Proposal statuses.
const (
	ProposalDraft     = "draft"
	ProposalValidated = "validated"
	ProposalSent      = "sent"
	ProposalArchived  = "archived"
)

// ValidProposalStatus reports whether s is a known status.
func ValidProposalStatus(s string) bool {
	switch s {
	case ProposalDraft, ProposalValidated, ProposalSent, ProposalArchived:
		return true
	}
	return false
}

// Proposal is a saved production plan. Payload is caller-defined JSON; the
// store only relies on payload._meta.name.
type Proposal struct {
	ID        int64
	TenantID  string
	CreatedBy string
	Name      string
	Payload   json.RawMessage
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProposalSummary is a list entry.
type ProposalSummary struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
