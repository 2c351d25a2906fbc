package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/bulkingest"
)

// MemoryRepository is an in-process EntityRepository used for dry runs and tests.
type MemoryRepository struct {
	mu           sync.RWMutex
	entities     map[bulkingest.EntityType]map[uuid.UUID]*bulkingest.Entity
	revisions    map[uuid.UUID][]int64
	nextID       map[bulkingest.EntityType]int64
	nextRevision int64
	nowFunc      func() time.Time
}

var (
	_ bulkingest.EntityRepository = (*MemoryRepository)(nil)
	_ bulkingest.Seeder           = (*MemoryRepository)(nil)
)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entities:  make(map[bulkingest.EntityType]map[uuid.UUID]*bulkingest.Entity),
		revisions: make(map[uuid.UUID][]int64),
		nextID:    make(map[bulkingest.EntityType]int64),
		nowFunc:   time.Now,
	}
}

func (r *MemoryRepository) withClock(now func() time.Time) {
	if now == nil {
		return
	}
	r.nowFunc = now
}

func (r *MemoryRepository) Create(ctx context.Context, entityType bulkingest.EntityType, bundle string, fields bulkingest.Fields) (*bulkingest.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !entityType.Valid() {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate uuid: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(entityType, id, bundle, fields), nil
}

func (r *MemoryRepository) insertLocked(entityType bulkingest.EntityType, id uuid.UUID, bundle string, fields bulkingest.Fields) *bulkingest.Entity {
	now := r.nowFunc()
	r.nextID[entityType]++
	entity := &bulkingest.Entity{
		ID:        r.nextID[entityType],
		UUID:      id,
		Type:      entityType,
		Bundle:    bundle,
		Fields:    fields.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if entityType.Revisionable() {
		entity.RevisionID = r.newRevisionLocked(id)
	}

	byUUID, ok := r.entities[entityType]
	if !ok {
		byUUID = make(map[uuid.UUID]*bulkingest.Entity)
		r.entities[entityType] = byUUID
	}
	byUUID[id] = entity
	return cloneEntity(entity)
}

func (r *MemoryRepository) newRevisionLocked(id uuid.UUID) *int64 {
	r.nextRevision++
	vid := r.nextRevision
	r.revisions[id] = append(r.revisions[id], vid)
	return &vid
}

func (r *MemoryRepository) Update(ctx context.Context, entityType bulkingest.EntityType, id uuid.UUID, fields bulkingest.Fields) (*bulkingest.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entity, ok := r.entities[entityType][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", entityType, id, bulkingest.ErrEntityNotFound)
	}
	entity.Fields = fields.Clone()
	entity.UpdatedAt = r.nowFunc()
	if entityType.Revisionable() {
		entity.RevisionID = r.newRevisionLocked(id)
	}
	return cloneEntity(entity), nil
}

func (r *MemoryRepository) LoadByUUID(ctx context.Context, entityType bulkingest.EntityType, id uuid.UUID) (*bulkingest.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.entities[entityType][id]
	if !ok {
		return nil, nil
	}
	return cloneEntity(entity), nil
}

// Seed inserts records whose uuid is not yet present and returns how many were added.
func (r *MemoryRepository) Seed(ctx context.Context, records []bulkingest.SeedRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for i, rec := range records {
		id, err := validateSeedRecord(rec)
		if err != nil {
			return added, fmt.Errorf("seed record %d: %w", i, err)
		}
		if _, exists := r.entities[rec.Type][id]; exists {
			continue
		}
		r.insertLocked(rec.Type, id, rec.Bundle, rec.Fields)
		added++
	}
	return added, nil
}

// Revisions returns the revision ids recorded for a node, oldest first.
func (r *MemoryRepository) Revisions(id uuid.UUID) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int64(nil), r.revisions[id]...)
}

// Count returns the number of stored records of entityType.
func (r *MemoryRepository) Count(entityType bulkingest.EntityType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities[entityType])
}

func cloneEntity(e *bulkingest.Entity) *bulkingest.Entity {
	out := *e
	out.Fields = e.Fields.Clone()
	if e.RevisionID != nil {
		vid := *e.RevisionID
		out.RevisionID = &vid
	}
	return &out
}

func validateSeedRecord(rec bulkingest.SeedRecord) (uuid.UUID, error) {
	if !rec.Type.Valid() {
		return uuid.Nil, fmt.Errorf("unsupported entity type %q", rec.Type)
	}
	id, err := uuid.Parse(rec.UUID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid uuid %q: %w", rec.UUID, err)
	}
	return id, nil
}
