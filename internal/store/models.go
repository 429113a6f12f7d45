package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

// ProposalState is the lifecycle state of a StatusProposal.
type ProposalState string

const (
	ProposalPending  ProposalState = "PENDING"
	ProposalAccepted ProposalState = "ACCEPTED"
	ProposalRejected ProposalState = "REJECTED"
	ProposalExpired  ProposalState = "EXPIRED"
)

// LinkMethod records how a thread or message was tied to a project.
type LinkMethod string

const (
	LinkAuto   LinkMethod = "AUTO"
	LinkManual LinkMethod = "MANUAL"
)

// ChangedBySystem marks status changes applied without a human.
const ChangedBySystem = "SYSTEM_AUTO"

// Project is a planned event.
type Project struct {
	ID        string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string     `gorm:"not null" json:"name"`
	EventDate *time.Time `gorm:"index" json:"eventDate,omitempty"`
	Venue     string     `json:"venue,omitempty"`
	EventType string     `json:"eventType,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Supplier is a vendor the planner corresponds with.
type Supplier struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Email     string    `gorm:"index" json:"email,omitempty"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ThreadStatusEntry is one entry in a thread's denormalized status history.
type ThreadStatusEntry struct {
	Status     string        `json:"status"`
	Source     thread.Source `json:"source"`
	Confidence float64       `json:"confidence"`
	MessageID  string        `json:"messageId,omitempty"`
	DetectedAt time.Time     `json:"detectedAt"`
}

// Thread is a vendor conversation.
type Thread struct {
	ID                string                                `gorm:"type:varchar(36);primaryKey" json:"id"`
	Subject           string                                `json:"subject,omitempty"`
	CurrentStatus     string                                `json:"currentStatus,omitempty"`
	StatusHistory     datatypes.JSONSlice[ThreadStatusEntry] `json:"statusHistory"`
	AnalysisVersion   string                                `json:"analysisVersion,omitempty"`
	LastAnalyzedAt    *time.Time                            `json:"lastAnalyzedAt,omitempty"`
	LastMessageAt     *time.Time                            `gorm:"index" json:"lastMessageAt,omitempty"`
	Analysis          datatypes.JSON                        `json:"analysis,omitempty"`
	DetectedProjectID *string                               `gorm:"type:varchar(36);index" json:"detectedProjectId,omitempty"`
	ProjectConfidence float64                               `json:"projectConfidence"`
	ProjectLinkMethod LinkMethod                            `json:"projectLinkMethod,omitempty"`
	CreatedAt         time.Time                             `json:"createdAt"`
	UpdatedAt         time.Time                             `json:"updatedAt"`
}

// Snapshot decodes the persisted analysis, or returns nil if none exists.
func (t *Thread) Snapshot() (*thread.Analysis, error) {
	if len(t.Analysis) == 0 {
		return nil, nil
	}
	var a thread.Analysis
	if err := json.Unmarshal(t.Analysis, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Message is one email in a thread. Content is immutable after ingest.
type Message struct {
	ID                string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	ThreadID          string           `gorm:"type:varchar(36);not null;index:idx_message_thread_sent,priority:1" json:"threadId"`
	Direction         thread.Direction `gorm:"type:varchar(16);not null" json:"direction"`
	Subject           string           `json:"subject,omitempty"`
	RawContent        string           `json:"rawContent"`
	CleanedContent    string           `json:"cleanedContent"`
	SentAt            time.Time        `gorm:"not null;index:idx_message_thread_sent,priority:2" json:"sentAt"`
	SupplierID        *string          `gorm:"type:varchar(36);index" json:"supplierId,omitempty"`
	ProjectID         *string          `gorm:"type:varchar(36);index" json:"projectId,omitempty"`
	ProjectLinkMethod LinkMethod       `json:"projectLinkMethod,omitempty"`
	DetectedStatus    string           `json:"detectedStatus,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
}

// ToThreadMessage converts to the analysis shape with the given index.
func (m *Message) ToThreadMessage(index int) thread.Message {
	tm := thread.Message{
		Index:      index,
		ID:         m.ID,
		Direction:  m.Direction,
		Subject:    m.Subject,
		Content:    m.CleanedContent,
		RawContent: m.RawContent,
		SentAt:     m.SentAt,
	}
	if m.SupplierID != nil {
		tm.SupplierID = *m.SupplierID
	}
	if m.ProjectID != nil {
		tm.ProjectID = *m.ProjectID
	}
	return tm
}

// Relationship pairs a supplier with a project and holds its status.
type Relationship struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SupplierID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_relationship_pair,priority:1" json:"supplierId"`
	ProjectID  string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_relationship_pair,priority:2" json:"projectId"`
	StatusSlug string    `json:"statusSlug"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// StatusChange is an append-only history row for a relationship.
type StatusChange struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	RelationshipID string    `gorm:"type:varchar(36);not null;index" json:"relationshipId"`
	FromStatus     string    `json:"fromStatus"`
	ToStatus       string    `gorm:"not null" json:"toStatus"`
	ChangedAt      time.Time `gorm:"not null;index" json:"changedAt"`
	ChangedBy      string    `gorm:"not null" json:"changedBy"`
	Reason         string    `json:"reason"`
	ProposalID     *string   `gorm:"type:varchar(36)" json:"proposalId,omitempty"`
	ThreadID       *string   `gorm:"type:varchar(36)" json:"threadId,omitempty"`
}

// Proposal is a status change awaiting human review.
//
// PendingKey is "<relationship>:<target>" while the proposal is PENDING and
// NULL afterwards; its unique index allows at most one live proposal per
// relationship and target.
type Proposal struct {
	ID             string                      `gorm:"type:varchar(36);primaryKey" json:"id"`
	RelationshipID string                      `gorm:"type:varchar(36);not null;index" json:"relationshipId"`
	ThreadID       string                      `gorm:"type:varchar(36);index" json:"threadId,omitempty"`
	FromStatus     string                      `json:"fromStatus"`
	ToStatus       string                      `gorm:"not null" json:"toStatus"`
	Confidence     float64                     `json:"confidence"`
	MatchedSignals datatypes.JSONSlice[string] `json:"matchedSignals"`
	Reasoning      string                      `json:"reasoning"`
	State          ProposalState               `gorm:"type:varchar(16);not null;index" json:"state"`
	PendingKey     *string                     `gorm:"type:varchar(128);uniqueIndex" json:"-"`
	CreatedAt      time.Time                   `json:"createdAt"`
	ExpiresAt      time.Time                   `gorm:"not null;index" json:"expiresAt"`
	ResolvedAt     *time.Time                  `json:"resolvedAt,omitempty"`
	ResolvedBy     string                      `json:"resolvedBy,omitempty"`
}

// PendingKeyFor builds the uniqueness key for a live proposal.
func PendingKeyFor(relationshipID, toStatus string) string {
	return relationshipID + ":" + toStatus
}

// StatusDefinition is the persisted form of signals.Definition.
type StatusDefinition struct {
	Slug             string                      `gorm:"type:varchar(64);primaryKey" json:"slug"`
	Name             string                      `json:"name"`
	Description      string                      `json:"description,omitempty"`
	SortOrder        int                         `gorm:"column:sort_order" json:"order"`
	InboundSignals   datatypes.JSONSlice[string] `json:"inboundSignals"`
	OutboundSignals  datatypes.JSONSlice[string] `json:"outboundSignals"`
	ExclusionSignals datatypes.JSONSlice[string] `json:"exclusionSignals"`
	UpdatedAt        time.Time                   `json:"updatedAt"`
}

// ToDefinition converts to the matcher's shape.
func (d *StatusDefinition) ToDefinition() signals.Definition {
	return signals.Definition{
		Slug:             d.Slug,
		Name:             d.Name,
		Description:      d.Description,
		Order:            d.SortOrder,
		InboundSignals:   []string(d.InboundSignals),
		OutboundSignals:  []string(d.OutboundSignals),
		ExclusionSignals: []string(d.ExclusionSignals),
	}
}

// FromDefinition converts from the matcher's shape.
func FromDefinition(d signals.Definition) StatusDefinition {
	return StatusDefinition{
		Slug:             d.Slug,
		Name:             d.Name,
		Description:      d.Description,
		SortOrder:        d.Order,
		InboundSignals:   datatypes.NewJSONSlice(nonNil(d.InboundSignals)),
		OutboundSignals:  datatypes.NewJSONSlice(nonNil(d.OutboundSignals)),
		ExclusionSignals: datatypes.NewJSONSlice(nonNil(d.ExclusionSignals)),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func (p *Project) BeforeCreate(*gorm.DB) error      { newID(&p.ID); return nil }
func (s *Supplier) BeforeCreate(*gorm.DB) error     { newID(&s.ID); return nil }
func (t *Thread) BeforeCreate(*gorm.DB) error       { newID(&t.ID); return nil }
func (m *Message) BeforeCreate(*gorm.DB) error      { newID(&m.ID); return nil }
func (r *Relationship) BeforeCreate(*gorm.DB) error { newID(&r.ID); return nil }
func (c *StatusChange) BeforeCreate(*gorm.DB) error { newID(&c.ID); return nil }
func (p *Proposal) BeforeCreate(*gorm.DB) error     { newID(&p.ID); return nil }

// allModels lists every table managed by Migrate.
func allModels() []any {
	return []any{
		&Project{},
		&Supplier{},
		&Thread{},
		&Message{},
		&Relationship{},
		&StatusChange{},
		&Proposal{},
		&StatusDefinition{},
	}
}
