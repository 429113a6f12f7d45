package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CreateProposal inserts a PENDING proposal. It returns ErrDuplicatePending
// when one already exists for the same relationship and target.
func (s *Store) CreateProposal(ctx context.Context, p *Proposal) error {
	p.State = ProposalPending
	key := PendingKeyFor(p.RelationshipID, p.ToStatus)
	p.PendingKey = &key
	p.CreatedAt = p.CreatedAt.UTC()
	p.ExpiresAt = p.ExpiresAt.UTC()

	err := s.conn(ctx).Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("relationship %s to %q: %w", p.RelationshipID, p.ToStatus, ErrDuplicatePending)
	}
	return err
}

// FindPendingProposal returns the live proposal for a relationship and
// target, or nil when there is none.
func (s *Store) FindPendingProposal(ctx context.Context, relationshipID, toStatus string) (*Proposal, error) {
	var p Proposal
	err := s.conn(ctx).
		Where("pending_key = ? AND state = ?", PendingKeyFor(relationshipID, toStatus), ProposalPending).
		Limit(1).
		Find(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, nil
	}
	return &p, nil
}

// GetProposal loads a proposal by id.
func (s *Store) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	var p Proposal
	if err := s.conn(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "proposal", id)
	}
	return &p, nil
}

// ProposalFilter narrows ListProposals.
type ProposalFilter struct {
	State          ProposalState
	RelationshipID string
	ThreadID       string
	Limit          int
	Offset         int
}

// ListProposals returns proposals newest first.
func (s *Store) ListProposals(ctx context.Context, f ProposalFilter) ([]Proposal, error) {
	q := s.conn(ctx).Model(&Proposal{})
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.RelationshipID != "" {
		q = q.Where("relationship_id = ?", f.RelationshipID)
	}
	if f.ThreadID != "" {
		q = q.Where("thread_id = ?", f.ThreadID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []Proposal
	err := q.Order("created_at DESC, id ASC").Find(&out).Error
	return out, err
}

// ResolveProposal moves a PENDING proposal to state. It reports false,
// without error, when the proposal was no longer PENDING.
func (s *Store) ResolveProposal(ctx context.Context, id string, state ProposalState, by string, at time.Time) (bool, error) {
	if state == ProposalPending {
		return false, fmt.Errorf("cannot resolve proposal %s to %s", id, state)
	}
	res := s.conn(ctx).Model(&Proposal{}).
		Where("id = ? AND state = ?", id, ProposalPending).
		Updates(map[string]any{
			"state":       state,
			"pending_key": nil,
			"resolved_at": at.UTC(),
			"resolved_by": by,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpireProposals marks every PENDING proposal whose expiry is at or
// before now as EXPIRED and returns the proposals it changed. Proposals
// resolved concurrently are skipped.
func (s *Store) ExpireProposals(ctx context.Context, now time.Time, by string, limit int) ([]Proposal, error) {
	var due []Proposal
	q := s.conn(ctx).
		Where("state = ? AND expires_at <= ?", ProposalPending, now.UTC()).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&due).Error; err != nil {
		return nil, err
	}

	expired := make([]Proposal, 0, len(due))
	for _, p := range due {
		ok, err := s.ResolveProposal(ctx, p.ID, ProposalExpired, by, now)
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		p.State = ProposalExpired
		p.PendingKey = nil
		resolved := now.UTC()
		p.ResolvedAt = &resolved
		p.ResolvedBy = by
		expired = append(expired, p)
	}
	return expired, nil
}
