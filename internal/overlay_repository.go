package internal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lychee-technology/bulkingest"
)

// OverlayRepository serves dry runs: reads fall through to base while every
// write lands in an in-memory layer, so base is never modified.
type OverlayRepository struct {
	base    bulkingest.EntityRepository
	overlay *MemoryRepository
}

var (
	_ bulkingest.EntityRepository = (*OverlayRepository)(nil)
	_ bulkingest.Seeder           = (*OverlayRepository)(nil)
)

func NewOverlayRepository(base bulkingest.EntityRepository) *OverlayRepository {
	return &OverlayRepository{base: base, overlay: NewMemoryRepository()}
}

func (r *OverlayRepository) Create(ctx context.Context, entityType bulkingest.EntityType, bundle string, fields bulkingest.Fields) (*bulkingest.Entity, error) {
	return r.overlay.Create(ctx, entityType, bundle, fields)
}

// Update copies a base record into the overlay on first write.
func (r *OverlayRepository) Update(ctx context.Context, entityType bulkingest.EntityType, id uuid.UUID, fields bulkingest.Fields) (*bulkingest.Entity, error) {
	existing, err := r.overlay.LoadByUUID(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		original, err := r.base.LoadByUUID(ctx, entityType, id)
		if err != nil {
			return nil, err
		}
		if original == nil {
			return nil, fmt.Errorf("%s %s: %w", entityType, id, bulkingest.ErrEntityNotFound)
		}
		if _, err := r.overlay.Seed(ctx, []bulkingest.SeedRecord{{
			Type:   entityType,
			UUID:   id.String(),
			Bundle: original.Bundle,
			Fields: original.Fields,
		}}); err != nil {
			return nil, err
		}
	}
	return r.overlay.Update(ctx, entityType, id, fields)
}

func (r *OverlayRepository) LoadByUUID(ctx context.Context, entityType bulkingest.EntityType, id uuid.UUID) (*bulkingest.Entity, error) {
	entity, err := r.overlay.LoadByUUID(ctx, entityType, id)
	if err != nil || entity != nil {
		return entity, err
	}
	return r.base.LoadByUUID(ctx, entityType, id)
}

// Seed loads records into the in-memory layer only.
func (r *OverlayRepository) Seed(ctx context.Context, records []bulkingest.SeedRecord) (int, error) {
	return r.overlay.Seed(ctx, records)
}
