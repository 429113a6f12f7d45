package http

import (
	"github.com/fyrsmithlabs/vendorflow/internal/decision"
	"github.com/fyrsmithlabs/vendorflow/internal/linking"
	"github.com/fyrsmithlabs/vendorflow/internal/pipeline"
	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services"`
}

// ProcessResponse is the response body for POST /threads/:id/process.
// Report is nil when the run was queued.
type ProcessResponse struct {
	Queued    bool             `json:"queued,omitempty"`
	Mutations int              `json:"mutations"`
	Report    *pipeline.Report `json:"report,omitempty"`
}

// LinkRequest is the request body for POST /threads/:id/link.
type LinkRequest struct {
	ProjectID string `json:"projectId"`
}

// UserRequest is the request body for accept and reject.
type UserRequest struct {
	User string `json:"user"`
}

// ProposalsResponse is the response body for GET /proposals.
type ProposalsResponse struct {
	Proposals []store.Proposal `json:"proposals"`
}

// AcceptResponse is the response body for POST /proposals/:id/accept.
type AcceptResponse = decision.AcceptResult

// ExpireResponse is the response body for POST /proposals/expire.
type ExpireResponse struct {
	Expired int `json:"expired"`
}

// HistoryResponse is the response body for GET /relationships/:id/history.
type HistoryResponse struct {
	RelationshipID string               `json:"relationshipId"`
	Changes        []store.StatusChange `json:"changes"`
}

// CandidatesResponse is the response body for GET /threads/:id/candidates.
type CandidatesResponse = linking.Result

// DefinitionsResponse is the response body for GET /definitions.
type DefinitionsResponse struct {
	Definitions []signals.Definition `json:"definitions"`
}
