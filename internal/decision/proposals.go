package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/metrics"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
)

// AcceptResult is the outcome of accepting a proposal. Change is nil when
// the relationship was already at the proposed status.
type AcceptResult struct {
	Proposal *store.Proposal     `json:"proposal"`
	Change   *store.StatusChange `json:"change,omitempty"`
}

// Accept applies a PENDING proposal on behalf of user. A proposal whose
// expiry has passed is expired instead and ErrNotPending is returned.
func (e *Engine) Accept(ctx context.Context, proposalID, user string) (*AcceptResult, error) {
	ctx, span := e.tracer.Start(ctx, "decision.Accept", trace.WithAttributes(attribute.String("proposal.id", proposalID)))
	defer span.End()

	if user == "" {
		return nil, errors.New("user is required")
	}
	p, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.State != store.ProposalPending {
		return nil, fmt.Errorf("proposal %s is %s: %w", proposalID, p.State, ErrNotPending)
	}

	release, err := e.locker.Lock(ctx, lockKey(p.RelationshipID))
	if err != nil {
		return nil, Retryable("locking relationship "+p.RelationshipID, err)
	}
	defer release()

	now := e.now().UTC()
	var (
		res     AcceptResult
		expired bool
	)
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		cur, err := tx.GetProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		if cur.State != store.ProposalPending {
			return fmt.Errorf("proposal %s is %s: %w", proposalID, cur.State, ErrNotPending)
		}

		if !now.Before(cur.ExpiresAt) {
			if _, err := tx.ResolveProposal(ctx, cur.ID, store.ProposalExpired, ResolvedBySweep, now); err != nil {
				return err
			}
			cur.State = store.ProposalExpired
			res.Proposal = cur
			expired = true
			return nil
		}

		rel, err := tx.LockRelationship(ctx, cur.RelationshipID)
		if err != nil {
			return err
		}
		ok, err := tx.ResolveProposal(ctx, cur.ID, store.ProposalAccepted, user, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("proposal %s: %w", proposalID, ErrNotPending)
		}
		cur.State = store.ProposalAccepted
		cur.ResolvedAt = &now
		cur.ResolvedBy = user
		cur.PendingKey = nil
		res.Proposal = cur

		if rel.StatusSlug == cur.ToStatus {
			return nil
		}
		change, err := tx.ApplyTransition(ctx, store.StatusTransition{
			RelationshipID: rel.ID,
			FromStatus:     rel.StatusSlug,
			ToStatus:       cur.ToStatus,
			ChangedBy:      user,
			Reason:         "Accepted proposal: " + cur.Reasoning,
			ProposalID:     cur.ID,
			ThreadID:       cur.ThreadID,
			At:             now,
		})
		if err != nil {
			return err
		}
		res.Change = change
		return nil
	})
	switch {
	case errors.Is(err, ErrNotPending), errors.Is(err, store.ErrNotFound):
		return nil, err
	case err != nil:
		return nil, Retryable("accepting proposal "+proposalID, err)
	}

	if expired {
		metrics.RecordProposalResolved(string(store.ProposalExpired), 1)
		e.notifier.ProposalChanged(ctx, *res.Proposal)
		e.logger.Info("proposal expired on accept", zap.String("proposal_id", proposalID))
		return nil, fmt.Errorf("proposal %s expired at %s: %w", proposalID, res.Proposal.ExpiresAt.Format(time.RFC3339), ErrNotPending)
	}

	metrics.RecordProposalResolved(string(store.ProposalAccepted), 1)
	e.notifier.ProposalChanged(ctx, *res.Proposal)
	if res.Change != nil {
		e.notifier.StatusApplied(ctx, *res.Change)
	}
	e.logger.Info("proposal accepted",
		zap.String("proposal_id", proposalID),
		zap.String("relationship_id", res.Proposal.RelationshipID),
		zap.String("to", res.Proposal.ToStatus),
		zap.String("user", user),
		zap.Bool("applied", res.Change != nil))
	return &res, nil
}

// Reject closes a PENDING proposal without touching the relationship.
func (e *Engine) Reject(ctx context.Context, proposalID, user string) (*store.Proposal, error) {
	if user == "" {
		return nil, errors.New("user is required")
	}
	p, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	ok, err := e.store.ResolveProposal(ctx, proposalID, store.ProposalRejected, user, now)
	if err != nil {
		return nil, Retryable("rejecting proposal "+proposalID, err)
	}
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, ErrNotPending)
	}

	p.State = store.ProposalRejected
	p.ResolvedAt = &now
	p.ResolvedBy = user
	p.PendingKey = nil

	metrics.RecordProposalResolved(string(store.ProposalRejected), 1)
	e.notifier.ProposalChanged(ctx, *p)
	e.logger.Info("proposal rejected", zap.String("proposal_id", proposalID), zap.String("user", user))
	return p, nil
}

// ExpireStale retires every PENDING proposal past its expiry and returns
// how many it changed. Running it again finds nothing.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, "decision.ExpireStale")
	defer span.End()

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	now := e.now().UTC()
	total := 0
	for {
		batch, err := e.store.ExpireProposals(ctx, now, ResolvedBySweep, e.cfg.SweepBatchSize)
		for _, p := range batch {
			e.notifier.ProposalChanged(ctx, p)
		}
		total += len(batch)
		metrics.RecordProposalResolved(string(store.ProposalExpired), len(batch))
		if err != nil {
			span.RecordError(err)
			return total, Retryable("expiring proposals", err)
		}
		if e.cfg.SweepBatchSize <= 0 || len(batch) < e.cfg.SweepBatchSize {
			break
		}
	}

	span.SetAttributes(attribute.Int("expired", total))
	if total > 0 {
		e.logger.Info("expired stale proposals", zap.Int("count", total))
	}
	return total, nil
}

// ListProposals lists proposals matching f.
func (e *Engine) ListProposals(ctx context.Context, f store.ProposalFilter) ([]store.Proposal, error) {
	return e.store.ListProposals(ctx, f)
}

// History returns a relationship's status changes oldest first.
func (e *Engine) History(ctx context.Context, relationshipID string) ([]store.StatusChange, error) {
	if _, err := e.store.GetRelationship(ctx, relationshipID); err != nil {
		return nil, err
	}
	return e.store.ListStatusChanges(ctx, relationshipID)
}
