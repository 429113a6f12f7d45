// Package events publishes domain changes to NATS and consumes thread
// ingest notifications.
//
// Subjects:
//   - vendorflow.status.applied.{relationship_id}
//   - vendorflow.proposal.{created|accepted|rejected|expired}.{relationship_id}
//   - vendorflow.thread.linked.{thread_id}
//   - vendorflow.ingest.thread (consumed)
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/store"
)

// Subject prefixes.
const (
	SubjectPrefix       = "vendorflow"
	SubjectIngestThread = SubjectPrefix + ".ingest.thread"
)

// Event types carried in the envelope.
const (
	TypeStatusApplied    = "status.applied"
	TypeProposalCreated  = "proposal.created"
	TypeProposalAccepted = "proposal.accepted"
	TypeProposalRejected = "proposal.rejected"
	TypeProposalExpired  = "proposal.expired"
	TypeThreadLinked     = "thread.linked"
)

// Event is the envelope of every published message.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// ThreadLink is the payload of a thread.linked event.
type ThreadLink struct {
	ThreadID   string           `json:"threadId"`
	ProjectID  string           `json:"projectId"`
	Method     store.LinkMethod `json:"method"`
	Confidence float64          `json:"confidence"`
}

// Config configures the NATS connection.
type Config struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	Name          string        `koanf:"name"`
	QueueGroup    string        `koanf:"queue_group"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	MaxReconnects int           `koanf:"max_reconnects"`
}

// Connect dials NATS with reconnect handlers that log through logger.
func Connect(cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	name := cfg.Name
	if name == "" {
		name = "vendorflow"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Publisher publishes domain events. Publish failures are logged, never
// returned, so a broker outage does not fail a committed change.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher wraps an open connection.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, logger: logger, now: time.Now}
}

// Publish sends data wrapped in an Event envelope to subject.
func (p *Publisher) Publish(subject, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env, err := json.Marshal(Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: p.now().UTC(),
		Data:       raw,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if err := p.nc.Publish(subject, env); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) publish(subject, eventType string, data any) {
	if err := p.Publish(subject, eventType, data); err != nil {
		p.logger.Warn("event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// StatusApplied publishes a committed status change.
func (p *Publisher) StatusApplied(_ context.Context, change store.StatusChange) {
	p.publish(subject("status.applied", change.RelationshipID), TypeStatusApplied, change)
}

// ProposalChanged publishes a proposal under the subject for its state.
func (p *Publisher) ProposalChanged(_ context.Context, prop store.Proposal) {
	eventType := ProposalEventType(prop.State)
	p.publish(subject(eventType, prop.RelationshipID), eventType, prop)
}

// ThreadLinked publishes a committed project link.
func (p *Publisher) ThreadLinked(_ context.Context, threadID, projectID string, method store.LinkMethod, confidence float64) {
	p.publish(subject(TypeThreadLinked, threadID), TypeThreadLinked, ThreadLink{
		ThreadID:   threadID,
		ProjectID:  projectID,
		Method:     method,
		Confidence: confidence,
	})
}

// ProposalEventType maps a proposal state to its event type.
func ProposalEventType(state store.ProposalState) string {
	switch state {
	case store.ProposalAccepted:
		return TypeProposalAccepted
	case store.ProposalRejected:
		return TypeProposalRejected
	case store.ProposalExpired:
		return TypeProposalExpired
	default:
		return TypeProposalCreated
	}
}

func subject(eventType, id string) string {
	return SubjectPrefix + "." + eventType + "." + sanitizeToken(id)
}

// sanitizeToken keeps ids from introducing extra subject tokens or
// wildcards.
func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) StatusApplied(context.Context, store.StatusChange)                       {}
func (NopPublisher) ProposalChanged(context.Context, store.Proposal)                         {}
func (NopPublisher) ThreadLinked(context.Context, string, string, store.LinkMethod, float64) {}
