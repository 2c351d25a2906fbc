package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/lychee-technology/bulkingest"
)

// applyNodeFields resolves the model term and parent of a node operation and
// writes them, with title and pid, into fields. An absent parent leaves any
// existing membership untouched.
func (e *OperationExecutor) applyNodeFields(ctx context.Context, kind bulkingest.OperationKind, in bulkingest.NodeFields, fields bulkingest.Fields) error {
	if err := requireField("title", in.Title, kind); err != nil {
		return err
	}
	if err := requireField("model_uuid", in.ModelUUID, kind); err != nil {
		return err
	}

	modelTID, err := e.resolveTerm(ctx, "model_uuid", in.ModelUUID)
	if err != nil {
		return err
	}

	parentID, hasParent, err := e.resolveRef(ctx, "parent", in.Parent, bulkingest.EntityTypeNode)
	if err != nil {
		return err
	}

	fields[bulkingest.FieldTitle] = in.Title
	fields[bulkingest.FieldPID] = in.PID
	fields[bulkingest.FieldModel] = bulkingest.EntityReference{TargetID: modelTID}
	if hasParent {
		fields[bulkingest.FieldMemberOf] = bulkingest.EntityReference{TargetID: parentID}
	}
	return nil
}

func (e *OperationExecutor) createNode(ctx context.Context, op *bulkingest.CreateNode) (*bulkingest.ProcessedEntry, error) {
	if err := e.requireNewTempID(op.ID, op.Kind()); err != nil {
		return nil, err
	}

	fields := bulkingest.Fields{}
	if err := e.applyNodeFields(ctx, op.Kind(), op.NodeFields, fields); err != nil {
		return nil, err
	}

	node, err := e.persist(ctx, bulkingest.EntityTypeNode, e.nodeBundle, fields)
	if err != nil {
		return nil, err
	}
	if err := e.register(op.ID, node); err != nil {
		return nil, err
	}
	return processed(op.ID, node), nil
}

func (e *OperationExecutor) updateNode(ctx context.Context, op *bulkingest.UpdateNode) (*bulkingest.ProcessedEntry, error) {
	if err := requireField("temp_id", op.ID, op.Kind()); err != nil {
		return nil, err
	}

	target, ok := e.resolver.Resolve(op.ID)
	if !ok {
		return nil, bulkingest.NewUnresolvedReferenceError("temp_id", op.ID)
	}
	if target.Type != bulkingest.EntityTypeNode {
		return nil, bulkingest.NewIngestError(
			bulkingest.ErrorTypeValidation,
			bulkingest.ErrCodeReferenceTypeMismatch,
			fmt.Sprintf("temp_id %q refers to a %s, expected node", op.ID, target.Type),
		).WithField("temp_id")
	}

	current, err := e.repository.LoadByUUID(ctx, bulkingest.EntityTypeNode, target.UUID)
	if err != nil {
		return nil, bulkingest.NewRepositoryError("failed to load node", err)
	}
	if current == nil {
		return nil, bulkingest.NewNotFoundError(bulkingest.EntityTypeNode, target.UUID.String())
	}

	fields := current.Fields.Clone()
	if err := e.applyNodeFields(ctx, op.Kind(), op.NodeFields, fields); err != nil {
		return nil, err
	}

	node, err := e.repository.Update(ctx, bulkingest.EntityTypeNode, target.UUID, fields)
	if err != nil {
		if errors.Is(err, bulkingest.ErrEntityNotFound) {
			return nil, bulkingest.NewNotFoundError(bulkingest.EntityTypeNode, target.UUID.String()).WithCause(err)
		}
		return nil, bulkingest.NewRepositoryError("failed to update node", err)
	}
	if err := checkDurable(bulkingest.EntityTypeNode, node); err != nil {
		return nil, err
	}
	return processed(op.ID, node), nil
}
