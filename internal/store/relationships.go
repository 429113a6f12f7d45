package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureRelationship returns the relationship for a supplier and project,
// creating it with initialStatus when missing.
func (s *Store) EnsureRelationship(ctx context.Context, supplierID, projectID, initialStatus string) (*Relationship, error) {
	rel := Relationship{SupplierID: supplierID, ProjectID: projectID, StatusSlug: initialStatus}
	err := s.conn(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rel).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}
	return s.FindRelationship(ctx, supplierID, projectID)
}

// FindRelationship loads the relationship for a supplier and project.
func (s *Store) FindRelationship(ctx context.Context, supplierID, projectID string) (*Relationship, error) {
	var rel Relationship
	err := s.conn(ctx).
		Where("supplier_id = ? AND project_id = ?", supplierID, projectID).
		First(&rel).Error
	if err != nil {
		return nil, notFound(err, "relationship", supplierID+"/"+projectID)
	}
	return &rel, nil
}

// GetRelationship loads a relationship by id.
func (s *Store) GetRelationship(ctx context.Context, id string) (*Relationship, error) {
	var rel Relationship
	if err := s.conn(ctx).First(&rel, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "relationship", id)
	}
	return &rel, nil
}

// LockRelationship loads a relationship with a row lock. It only locks
// when called on a transaction-bound Store, and SQLite ignores it.
func (s *Store) LockRelationship(ctx context.Context, id string) (*Relationship, error) {
	var rel Relationship
	err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&rel, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "relationship", id)
	}
	return &rel, nil
}

// ProjectIDsForSuppliers returns the set of projects that already have a
// relationship with any of supplierIDs.
func (s *Store) ProjectIDsForSuppliers(ctx context.Context, supplierIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(supplierIDs) == 0 {
		return out, nil
	}
	var ids []string
	err := s.conn(ctx).Model(&Relationship{}).
		Where("supplier_id IN ?", supplierIDs).
		Distinct().
		Pluck("project_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// StatusTransition describes one change to a relationship's status.
type StatusTransition struct {
	RelationshipID string
	FromStatus     string
	ToStatus       string
	ChangedBy      string
	Reason         string
	ProposalID     string
	ThreadID       string
	At             time.Time
}

// ApplyTransition moves a relationship from FromStatus to ToStatus and
// appends the history row. It fails with ErrConflict if the relationship
// is no longer at FromStatus. Call it on a transaction-bound Store so the
// update and the history row commit together.
func (s *Store) ApplyTransition(ctx context.Context, tr StatusTransition) (*StatusChange, error) {
	at := tr.At.UTC()
	res := s.conn(ctx).Model(&Relationship{}).
		Where("id = ? AND status_slug = ?", tr.RelationshipID, tr.FromStatus).
		Updates(map[string]any{"status_slug": tr.ToStatus, "updated_at": at})
	if res.Error != nil {
		return nil, fmt.Errorf("updating relationship: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("relationship %s not at %q: %w", tr.RelationshipID, tr.FromStatus, ErrConflict)
	}

	change := &StatusChange{
		RelationshipID: tr.RelationshipID,
		FromStatus:     tr.FromStatus,
		ToStatus:       tr.ToStatus,
		ChangedAt:      at,
		ChangedBy:      tr.ChangedBy,
		Reason:         tr.Reason,
		ProposalID:     optional(tr.ProposalID),
		ThreadID:       optional(tr.ThreadID),
	}
	if err := s.conn(ctx).Create(change).Error; err != nil {
		return nil, fmt.Errorf("appending status history: %w", err)
	}
	return change, nil
}

// ListStatusChanges returns a relationship's history oldest first.
func (s *Store) ListStatusChanges(ctx context.Context, relationshipID string) ([]StatusChange, error) {
	var out []StatusChange
	err := s.conn(ctx).
		Where("relationship_id = ?", relationshipID).
		Order("changed_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
