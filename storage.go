package bulkingest

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrEntityNotFound is returned by EntityRepository.Update when the target does not exist.
var ErrEntityNotFound = errors.New("entity not found")

// EntityRepository is the record store the batch interpreter writes to.
type EntityRepository interface {
	// Create persists a new record and returns it with its durable id, uuid and,
	// for revisionable types, the initial revision id.
	Create(ctx context.Context, entityType EntityType, bundle string, fields Fields) (*Entity, error)
	// Update replaces the fields of an existing record. Revisionable types get a new revision.
	Update(ctx context.Context, entityType EntityType, id uuid.UUID, fields Fields) (*Entity, error)
	// LoadByUUID returns nil, nil when no record matches.
	LoadByUUID(ctx context.Context, entityType EntityType, id uuid.UUID) (*Entity, error)
}

// SeedRecord is a pre-existing record, such as a taxonomy term, loaded into a
// repository before a batch runs. The durable id is assigned by the repository.
type SeedRecord struct {
	Type   EntityType `json:"type" yaml:"type"`
	UUID   string     `json:"uuid" yaml:"uuid"`
	Bundle string     `json:"bundle,omitempty" yaml:"bundle,omitempty"`
	Fields Fields     `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Seeder is implemented by repositories that accept seed records. Seeding a
// uuid that already exists leaves the stored record untouched.
type Seeder interface {
	Seed(ctx context.Context, records []SeedRecord) (int, error)
}

// BatchRunner executes a decoded batch and returns its report.
type BatchRunner interface {
	Run(ctx context.Context, batch *Batch) (*Report, error)
}
