package internal

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lychee-technology/bulkingest"
)

func requireField(field, value string, kind bulkingest.OperationKind) error {
	if strings.TrimSpace(value) == "" {
		return bulkingest.NewValidationError(field, fmt.Sprintf("%s is required for %s", field, kind))
	}
	return nil
}

// requireNewTempID checks that a create operation carries a temp_id that can
// still be recorded.
func (e *OperationExecutor) requireNewTempID(tempID string, kind bulkingest.OperationKind) error {
	if err := requireField("temp_id", tempID, kind); err != nil {
		return err
	}
	if !e.resolver.overwrite {
		if _, exists := e.resolver.Resolve(tempID); exists {
			return bulkingest.NewConflictError(tempID).WithField("temp_id")
		}
	}
	return nil
}

func parseUUID(field, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, bulkingest.NewIngestError(
			bulkingest.ErrorTypeValidation,
			bulkingest.ErrCodeInvalidUUID,
			fmt.Sprintf("invalid uuid %q", value),
		).WithField(field).WithCause(err)
	}
	return id, nil
}

// resolveTerm maps a taxonomy term uuid to its durable id through the run's cache.
func (e *OperationExecutor) resolveTerm(ctx context.Context, field, value string) (int64, error) {
	id, err := parseUUID(field, value)
	if err != nil {
		return 0, err
	}
	tid, err := e.terms.Resolve(ctx, ReferenceKindTaxonomyTerm, id, func(ctx context.Context, id uuid.UUID) (*bulkingest.Entity, error) {
		return e.repository.LoadByUUID(ctx, bulkingest.EntityTypeTaxonomyTerm, id)
	})
	if err != nil {
		if ingestErr, ok := bulkingest.AsIngestError(err); ok {
			ingestErr.WithField(field)
		}
		return 0, err
	}
	return tid, nil
}

// resolveRef resolves a uuid-or-temp_id reference to the durable id of a
// record of type expect. present is false when the reference is empty.
// base is the wire prefix of the pair, e.g. "parent" for parent_uuid/parent_temp_id.
func (e *OperationExecutor) resolveRef(ctx context.Context, base string, ref bulkingest.Ref, expect bulkingest.EntityType) (id int64, present bool, err error) {
	uuidField, tempField := base+"_uuid", base+"_temp_id"

	if ref.Ambiguous() {
		return 0, false, bulkingest.NewIngestError(
			bulkingest.ErrorTypeValidation,
			bulkingest.ErrCodeAmbiguousReference,
			fmt.Sprintf("only one of %s or %s may be given", uuidField, tempField),
		).WithField(base)
	}

	switch {
	case ref.UUID != "":
		durable, err := parseUUID(uuidField, ref.UUID)
		if err != nil {
			return 0, false, err
		}
		entity, err := e.repository.LoadByUUID(ctx, expect, durable)
		if err != nil {
			return 0, false, bulkingest.NewRepositoryError(fmt.Sprintf("failed to load %s", expect), err).WithField(uuidField)
		}
		if entity == nil {
			return 0, false, bulkingest.NewReferenceNotFoundError(string(expect), durable.String()).WithField(uuidField)
		}
		return entity.ID, true, nil

	case ref.TempID != "":
		res, ok := e.resolver.Resolve(ref.TempID)
		if !ok {
			return 0, false, bulkingest.NewUnresolvedReferenceError(tempField, ref.TempID)
		}
		if res.Type != expect {
			return 0, false, bulkingest.NewIngestError(
				bulkingest.ErrorTypeValidation,
				bulkingest.ErrCodeReferenceTypeMismatch,
				fmt.Sprintf("temp_id %q refers to a %s, expected %s", ref.TempID, res.Type, expect),
			).WithField(tempField)
		}
		return res.ID, true, nil
	}

	return 0, false, nil
}
