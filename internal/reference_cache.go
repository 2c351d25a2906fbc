package internal

import (
	"context"

	"github.com/google/uuid"
	"github.com/lychee-technology/bulkingest"
)

// ReferenceKind names a family of auxiliary classification records.
type ReferenceKind string

const (
	ReferenceKindTaxonomyTerm ReferenceKind = "taxonomy_term"
)

// EntityType returns the repository type backing the reference kind.
func (k ReferenceKind) EntityType() bulkingest.EntityType {
	return bulkingest.EntityType(k)
}

// LookupFunc loads a classification record by uuid. It returns nil, nil when
// the record does not exist.
type LookupFunc func(ctx context.Context, id uuid.UUID) (*bulkingest.Entity, error)

// ReferenceCache memoizes uuid -> durable id lookups of classification
// records for one batch run. The first resolution of a key is kept for the
// rest of the run, including a lookup that found nothing.
type ReferenceCache struct {
	entries map[ReferenceKind]map[uuid.UUID]int64
	missing map[ReferenceKind]map[uuid.UUID]struct{}
	lookups int
}

// NewReferenceCache creates an empty cache.
func NewReferenceCache() *ReferenceCache {
	return &ReferenceCache{
		entries: make(map[ReferenceKind]map[uuid.UUID]int64),
		missing: make(map[ReferenceKind]map[uuid.UUID]struct{}),
	}
}

// Resolve returns the durable id of the record of the given kind and uuid,
// calling lookup only on a cache miss. Repository errors are not cached, so a
// transient failure can be retried by a later operation.
func (c *ReferenceCache) Resolve(ctx context.Context, kind ReferenceKind, id uuid.UUID, lookup LookupFunc) (int64, error) {
	byUUID, ok := c.entries[kind]
	if !ok {
		byUUID = make(map[uuid.UUID]int64)
		c.entries[kind] = byUUID
	}
	if durableID, hit := byUUID[id]; hit {
		return durableID, nil
	}
	if _, absent := c.missing[kind][id]; absent {
		return 0, bulkingest.NewReferenceNotFoundError(string(kind), id.String())
	}

	c.lookups++
	entity, err := lookup(ctx, id)
	if err != nil {
		return 0, bulkingest.NewRepositoryError("failed to load "+string(kind), err)
	}
	if entity == nil {
		if c.missing[kind] == nil {
			c.missing[kind] = make(map[uuid.UUID]struct{})
		}
		c.missing[kind][id] = struct{}{}
		return 0, bulkingest.NewReferenceNotFoundError(string(kind), id.String())
	}

	byUUID[id] = entity.ID
	return entity.ID, nil
}

// Lookups returns how many repository lookups the cache has issued.
func (c *ReferenceCache) Lookups() int {
	return c.lookups
}
