package internal

import (
	"context"
	"fmt"

	"github.com/lychee-technology/bulkingest"
	"go.uber.org/zap"
)

// DefaultNodeBundle is the node bundle used when none is configured.
const DefaultNodeBundle = "islandora_object"

// OperationExecutor runs single batch operations against the repository,
// resolving temp_id references through the run's IdentifierResolver.
type OperationExecutor struct {
	repository bulkingest.EntityRepository
	resolver   *IdentifierResolver
	terms      *ReferenceCache
	locations  LocationChecker
	nodeBundle string
}

// NewOperationExecutor creates an executor bound to one run's resolver and cache.
// locations may be nil to skip file location verification.
func NewOperationExecutor(
	repository bulkingest.EntityRepository,
	resolver *IdentifierResolver,
	terms *ReferenceCache,
	locations LocationChecker,
	nodeBundle string,
) *OperationExecutor {
	if nodeBundle == "" {
		nodeBundle = DefaultNodeBundle
	}
	return &OperationExecutor{
		repository: repository,
		resolver:   resolver,
		terms:      terms,
		locations:  locations,
		nodeBundle: nodeBundle,
	}
}

// Execute dispatches op to its handler and returns the success descriptor.
func (e *OperationExecutor) Execute(ctx context.Context, op bulkingest.Operation) (*bulkingest.ProcessedEntry, error) {
	if op == nil {
		return nil, bulkingest.NewUnknownOperationError("<nil>")
	}

	var (
		entry *bulkingest.ProcessedEntry
		err   error
	)
	switch o := op.(type) {
	case *bulkingest.CreateNode:
		entry, err = e.createNode(ctx, o)
	case *bulkingest.UpdateNode:
		entry, err = e.updateNode(ctx, o)
	case *bulkingest.CreateFile:
		entry, err = e.createFile(ctx, o)
	case *bulkingest.CreateMedia:
		entry, err = e.createMedia(ctx, o)
	default:
		err = bulkingest.NewUnknownOperationError(string(op.Kind()))
	}

	if err != nil {
		if ingestErr, ok := bulkingest.AsIngestError(err); ok && ingestErr.Operation == "" {
			ingestErr.WithOperation(op)
		}
		return nil, err
	}
	return entry, nil
}

// register records the durable identity of a newly created record under tempID.
func (e *OperationExecutor) register(tempID string, entity *bulkingest.Entity) error {
	return e.resolver.Record(tempID, Resolution{
		Type: entity.Type,
		ID:   entity.ID,
		UUID: entity.UUID,
	})
}

// persist creates a record and checks that the repository assigned durable identifiers.
func (e *OperationExecutor) persist(ctx context.Context, entityType bulkingest.EntityType, bundle string, fields bulkingest.Fields) (*bulkingest.Entity, error) {
	entity, err := e.repository.Create(ctx, entityType, bundle, fields)
	if err != nil {
		return nil, bulkingest.NewRepositoryError(fmt.Sprintf("failed to create %s", entityType), err)
	}
	if err := checkDurable(entityType, entity); err != nil {
		return nil, err
	}
	zap.S().Debugw("entity created", "type", entityType, "id", entity.ID, "uuid", entity.UUID)
	return entity, nil
}

func checkDurable(entityType bulkingest.EntityType, entity *bulkingest.Entity) error {
	if entity == nil || entity.ID == 0 || entity.UUID == [16]byte{} {
		return bulkingest.NewRepositoryError(
			fmt.Sprintf("repository returned no durable identifiers for %s", entityType), nil)
	}
	if entityType.Revisionable() && entity.RevisionID == nil {
		return bulkingest.NewRepositoryError(
			fmt.Sprintf("repository returned no revision id for %s", entityType), nil)
	}
	return nil
}

func processed(tempID string, entity *bulkingest.Entity) *bulkingest.ProcessedEntry {
	entry := &bulkingest.ProcessedEntry{
		TempID: tempID,
		UUID:   entity.UUID.String(),
	}
	if entity.Type.Revisionable() && entity.RevisionID != nil {
		vid := *entity.RevisionID
		entry.RevisionID = &vid
	}
	return entry
}
