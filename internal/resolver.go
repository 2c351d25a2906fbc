package internal

import (
	"github.com/google/uuid"
	"github.com/lychee-technology/bulkingest"
	"go.uber.org/zap"
)

// Resolution is the durable identity recorded for a temp_id.
type Resolution struct {
	Type bulkingest.EntityType
	ID   int64
	UUID uuid.UUID
}

// IdentifierResolver maps batch temp_ids to the durable identifiers assigned
// by the repository. It lives for exactly one batch run.
type IdentifierResolver struct {
	entries   map[string]Resolution
	overwrite bool
}

// NewIdentifierResolver creates an empty resolver. With overwrite set, a
// second registration of a temp_id replaces the first instead of failing.
func NewIdentifierResolver(overwrite bool) *IdentifierResolver {
	return &IdentifierResolver{
		entries:   make(map[string]Resolution),
		overwrite: overwrite,
	}
}

// Record stores the durable identity of tempID. Recording the same identity
// again is a no-op; recording a different one fails with a conflict unless
// the resolver was built in overwrite mode.
func (r *IdentifierResolver) Record(tempID string, res Resolution) error {
	if existing, ok := r.entries[tempID]; ok && existing != res {
		if !r.overwrite {
			return bulkingest.NewConflictError(tempID).
				WithDetail("existingUuid", existing.UUID.String()).
				WithDetail("newUuid", res.UUID.String())
		}
		zap.S().Warnw("temp_id remapped", "tempID", tempID, "previous", existing.UUID, "current", res.UUID)
	}
	r.entries[tempID] = res
	return nil
}

// Resolve returns the full identity recorded for tempID.
func (r *IdentifierResolver) Resolve(tempID string) (Resolution, bool) {
	res, ok := r.entries[tempID]
	return res, ok
}

// ResolveID returns the durable id recorded for tempID.
func (r *IdentifierResolver) ResolveID(tempID string) (int64, bool) {
	res, ok := r.entries[tempID]
	return res.ID, ok
}

// ResolveUUID returns the durable uuid recorded for tempID.
func (r *IdentifierResolver) ResolveUUID(tempID string) (uuid.UUID, bool) {
	res, ok := r.entries[tempID]
	return res.UUID, ok
}

// Len returns the number of recorded temp_ids.
func (r *IdentifierResolver) Len() int {
	return len(r.entries)
}
