package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/fyrsmithlabs/vendorflow/internal/signals"
)

// ListDefinitions returns every status definition ordered by lifecycle.
func (s *Store) ListDefinitions(ctx context.Context) ([]StatusDefinition, error) {
	var out []StatusDefinition
	err := s.conn(ctx).Order("sort_order ASC, slug ASC").Find(&out).Error
	return out, err
}

// UpsertDefinition inserts or replaces a definition by slug.
func (s *Store) UpsertDefinition(ctx context.Context, d signals.Definition) (*StatusDefinition, error) {
	row := FromDefinition(d)
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("upserting definition %s: %w", d.Slug, err)
	}
	return &row, nil
}

// SeedDefinitions inserts defs when the table is empty. It reports
// whether anything was written.
func (s *Store) SeedDefinitions(ctx context.Context, defs []signals.Definition) (bool, error) {
	var n int64
	if err := s.conn(ctx).Model(&StatusDefinition{}).Count(&n).Error; err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	rows := make([]StatusDefinition, 0, len(defs))
	for _, d := range defs {
		rows = append(rows, FromDefinition(d))
	}
	if err := s.conn(ctx).Create(&rows).Error; err != nil {
		return false, fmt.Errorf("seeding definitions: %w", err)
	}
	return true, nil
}

// DefinitionSource serves the definition table from the database.
type DefinitionSource struct {
	store *Store
}

// NewDefinitionSource returns a signals.Source backed by s.
func NewDefinitionSource(s *Store) *DefinitionSource {
	return &DefinitionSource{store: s}
}

// Load implements signals.Source.
func (d *DefinitionSource) Load(ctx context.Context) ([]signals.Definition, error) {
	rows, err := d.store.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	defs := make([]signals.Definition, 0, len(rows))
	for i := range rows {
		defs = append(defs, rows[i].ToDefinition())
	}
	return defs, nil
}

var _ signals.Source = (*DefinitionSource)(nil)
