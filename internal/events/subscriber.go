package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// IngestRequest asks for a thread to be processed.
type IngestRequest struct {
	ThreadID string `json:"threadId"`
	Force    bool   `json:"force,omitempty"`
}

// ParseIngest accepts either a JSON IngestRequest or a bare thread id.
func ParseIngest(data []byte) (IngestRequest, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return IngestRequest{}, errors.New("empty ingest message")
	}
	if strings.HasPrefix(trimmed, "{") {
		var req IngestRequest
		if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
			return IngestRequest{}, fmt.Errorf("decoding ingest message: %w", err)
		}
		if req.ThreadID == "" {
			return IngestRequest{}, errors.New("ingest message has no threadId")
		}
		return req, nil
	}
	return IngestRequest{ThreadID: trimmed}, nil
}

// IngestHandler receives parsed ingest requests. Returning an error only
// logs it; redelivery is the producer's concern.
type IngestHandler func(ctx context.Context, req IngestRequest) error

// Subscriber consumes the ingest subject through a queue group so that
// several daemons share the work.
type Subscriber struct {
	nc     *nats.Conn
	group  string
	logger *zap.Logger
	sub    *nats.Subscription
}

// NewSubscriber creates a subscriber. An empty group defaults to
// "vendorflow".
func NewSubscriber(nc *nats.Conn, group string, logger *zap.Logger) *Subscriber {
	if group == "" {
		group = "vendorflow"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{nc: nc, group: group, logger: logger}
}

// Start subscribes and dispatches each message to handle. ctx is passed
// to every handler call.
func (s *Subscriber) Start(ctx context.Context, handle IngestHandler) error {
	if s.sub != nil {
		return errors.New("subscriber already started")
	}
	sub, err := s.nc.QueueSubscribe(SubjectIngestThread, s.group, func(msg *nats.Msg) {
		req, err := ParseIngest(msg.Data)
		if err != nil {
			s.logger.Warn("dropping malformed ingest message", zap.Error(err))
			return
		}
		if err := handle(ctx, req); err != nil {
			s.logger.Warn("ingest handler failed",
				zap.String("thread_id", req.ThreadID), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", SubjectIngestThread, err)
	}
	s.sub = sub
	s.logger.Info("listening for ingest notifications",
		zap.String("subject", SubjectIngestThread), zap.String("queue", s.group))
	return nil
}

// Stop drains the subscription.
func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	err := s.sub.Drain()
	s.sub = nil
	return err
}
