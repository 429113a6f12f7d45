package store

import (
	"context"
	"time"
)

// CreateProject inserts a project.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	if p.EventDate != nil {
		d := p.EventDate.UTC()
		p.EventDate = &d
	}
	return s.conn(ctx).Create(p).Error
}

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := s.conn(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "project", id)
	}
	return &p, nil
}

// ListLiveProjects returns projects without a date or dated on or after
// cutoff.
func (s *Store) ListLiveProjects(ctx context.Context, cutoff time.Time) ([]Project, error) {
	var out []Project
	err := s.conn(ctx).
		Where("event_date IS NULL OR event_date >= ?", cutoff.UTC()).
		Order("name ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CreateSupplier inserts a supplier.
func (s *Store) CreateSupplier(ctx context.Context, sup *Supplier) error {
	return s.conn(ctx).Create(sup).Error
}

// GetSupplier loads a supplier by id.
func (s *Store) GetSupplier(ctx context.Context, id string) (*Supplier, error) {
	var sup Supplier
	if err := s.conn(ctx).First(&sup, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "supplier", id)
	}
	return &sup, nil
}
