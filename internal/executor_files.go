package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/lychee-technology/bulkingest"
)

func (e *OperationExecutor) createFile(ctx context.Context, op *bulkingest.CreateFile) (*bulkingest.ProcessedEntry, error) {
	if err := e.requireNewTempID(op.ID, op.Kind()); err != nil {
		return nil, err
	}
	for _, f := range []struct{ name, value string }{
		{"filename", op.Filename},
		{"uri", op.URI},
		{"filemime", op.MimeType},
	} {
		if err := requireField(f.name, f.value, op.Kind()); err != nil {
			return nil, err
		}
	}

	if e.locations != nil {
		if err := e.locations.Check(ctx, op.URI); err != nil {
			if errors.Is(err, ErrLocationNotFound) {
				return nil, bulkingest.NewIngestError(
					bulkingest.ErrorTypeReferenceNotFound,
					bulkingest.ErrCodeReferenceNotFound,
					fmt.Sprintf("file location not found: %s", op.URI),
				).WithField("uri").WithCause(err)
			}
			return nil, bulkingest.NewIngestError(
				bulkingest.ErrorTypeValidation,
				bulkingest.ErrCodeInvalidFileLocation,
				fmt.Sprintf("file location could not be verified: %s", op.URI),
			).WithField("uri").WithCause(err)
		}
	}

	fields := bulkingest.Fields{
		bulkingest.FieldFilename: op.Filename,
		bulkingest.FieldURI:      op.URI,
		bulkingest.FieldFileMime: op.MimeType,
		bulkingest.FieldStatus:   bulkingest.FileStatusPermanent,
	}
	file, err := e.persist(ctx, bulkingest.EntityTypeFile, "", fields)
	if err != nil {
		return nil, err
	}
	if err := e.register(op.ID, file); err != nil {
		return nil, err
	}
	return processed(op.ID, file), nil
}

// reservedMediaFields cannot be used as a media relation_field.
var reservedMediaFields = map[string]bool{
	bulkingest.FieldName:     true,
	bulkingest.FieldMediaUse: true,
	bulkingest.FieldMediaOf:  true,
}

func (e *OperationExecutor) createMedia(ctx context.Context, op *bulkingest.CreateMedia) (*bulkingest.ProcessedEntry, error) {
	if err := e.requireNewTempID(op.ID, op.Kind()); err != nil {
		return nil, err
	}
	for _, f := range []struct{ name, value string }{
		{"bundle", op.Bundle},
		{"name", op.Name},
		{"media_use_uuid", op.MediaUseUUID},
		{"relation_field", op.RelationField},
	} {
		if err := requireField(f.name, f.value, op.Kind()); err != nil {
			return nil, err
		}
	}
	if reservedMediaFields[op.RelationField] {
		return nil, bulkingest.NewValidationError("relation_field",
			fmt.Sprintf("relation_field %q collides with a field managed by create_media", op.RelationField))
	}

	useTID, err := e.resolveTerm(ctx, "media_use_uuid", op.MediaUseUUID)
	if err != nil {
		return nil, err
	}

	fileID, hasFile, err := e.resolveRef(ctx, "file", op.File, bulkingest.EntityTypeFile)
	if err != nil {
		return nil, err
	}
	if !hasFile {
		return nil, bulkingest.NewValidationError("file_uuid",
			fmt.Sprintf("file not found for media %s: file_uuid or file_temp_id is required", op.ID))
	}

	ownerID, hasOwner, err := e.resolveRef(ctx, "node", op.Owner, bulkingest.EntityTypeNode)
	if err != nil {
		return nil, err
	}
	if !hasOwner {
		return nil, bulkingest.NewValidationError("node_uuid",
			fmt.Sprintf("node not found for media %s: node_uuid or node_temp_id is required", op.ID))
	}

	fields := bulkingest.Fields{
		bulkingest.FieldName:     op.Name,
		bulkingest.FieldMediaUse: bulkingest.EntityReference{TargetID: useTID},
		op.RelationField:         bulkingest.EntityReference{TargetID: fileID},
		bulkingest.FieldMediaOf:  bulkingest.EntityReference{TargetID: ownerID},
	}
	media, err := e.persist(ctx, bulkingest.EntityTypeMedia, op.Bundle, fields)
	if err != nil {
		return nil, err
	}
	if err := e.register(op.ID, media); err != nil {
		return nil, err
	}
	return processed(op.ID, media), nil
}
