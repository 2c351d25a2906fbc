package internal

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lychee-technology/bulkingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadEntity(t *testing.T, repo *mockEntityRepository, entityType bulkingest.EntityType, raw string) *bulkingest.Entity {
	t.Helper()
	entity, err := repo.MemoryRepository.LoadByUUID(context.Background(), entityType, uuid.MustParse(raw))
	require.NoError(t, err)
	require.NotNil(t, entity)
	return entity
}

func targetOf(t *testing.T, fields bulkingest.Fields, name string) int64 {
	t.Helper()
	id, ok := bulkingest.TargetID(fields[name])
	require.True(t, ok, "field %s holds no reference", name)
	return id
}

func requireErrorType(t *testing.T, err error, errorType bulkingest.ErrorType) *bulkingest.IngestError {
	t.Helper()
	require.Error(t, err)
	ingestErr, ok := bulkingest.AsIngestError(err)
	require.True(t, ok, "expected IngestError, got %T: %v", err, err)
	assert.Equal(t, errorType, ingestErr.Type, ingestErr.Error())
	return ingestErr
}

func TestExecutor_CreateNode(t *testing.T) {
	ctx := context.Background()
	repo := newMockEntityRepository(t)
	exec := newTestExecutor(repo, false)

	op := createNodeOp("A", "Postcards")
	op.PID = "pc:1"

	entry, err := exec.Execute(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, "A", entry.TempID)
	require.NotNil(t, entry.RevisionID)

	node := loadEntity(t, repo, bulkingest.EntityTypeNode, entry.UUID)
	assert.Equal(t, DefaultNodeBundle, node.Bundle)
	assert.Equal(t, "Postcards", node.Fields[bulkingest.FieldTitle])
	assert.Equal(t, "pc:1", node.Fields[bulkingest.FieldPID])
	assert.Equal(t, repo.termID(t, modelImageUUID), targetOf(t, node.Fields, bulkingest.FieldModel))
	assert.NotContains(t, node.Fields, bulkingest.FieldMemberOf)

	res, ok := exec.resolver.Resolve("A")
	require.True(t, ok)
	assert.Equal(t, node.ID, res.ID)
	assert.Equal(t, node.UUID, res.UUID)
}

func TestExecutor_CreateNodeWithParentTempID(t *testing.T) {
	ctx := context.Background()
	repo := newMockEntityRepository(t)
	exec := newTestExecutor(repo, false)

	parent, err := exec.Execute(ctx, createNodeOp("A", "Collection"))
	require.NoError(t, err)

	child := createNodeOp("B", "Item")
	child.Parent = bulkingest.Ref{TempID: "A"}
	entry, err := exec.Execute(ctx, child)
	require.NoError(t, err)

	parentNode := loadEntity(t, repo, bulkingest.EntityTypeNode, parent.UUID)
	childNode := loadEntity(t, repo, bulkingest.EntityTypeNode, entry.UUID)
	assert.Equal(t, parentNode.ID, targetOf(t, childNode.Fields, bulkingest.FieldMemberOf))
}

func TestExecutor_CreateNodeWithParentUUID(t *testing.T) {
	ctx := context.Background()
	repo := newMockEntityRepository(t)
	exec := newTestExecutor(repo, false)

	parent, err := exec.Execute(ctx, createNodeOp("A", "Collection"))
	require.NoError(t, err)

	child := createNodeOp("B", "Item")
	child.Parent = bulkingest.Ref{UUID: parent.UUID}
	entry, err := exec.Execute(ctx, child)
	require.NoError(t, err)

	parentNode := loadEntity(t, repo, bulkingest.EntityTypeNode, parent.UUID)
	childNode := loadEntity(t, repo, bulkingest.EntityTypeNode, entry.UUID)
	assert.Equal(t, parentNode.ID, targetOf(t, childNode.Fields, bulkingest.FieldMemberOf))

	missing := createNodeOp("C", "Orphan")
	missing.Parent = bulkingest.Ref{UUID: uuid.NewString()}
	_, err = exec.Execute(ctx, missing)
	ingestErr := requireErrorType(t, err, bulkingest.ErrorTypeReferenceNotFound)
	assert.Equal(t, "parent_uuid", ingestErr.Field)
	assert.Contains(t, err.Error(), "not found")
}

func TestExecutor_CreateNodeValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(op *bulkingest.CreateNode)
		code   string
		field  string
	}{
		{
			name:   "missing temp_id",
			mutate: func(op *bulkingest.CreateNode) { op.ID = "" },
			code:   bulkingest.ErrCodeRequiredFieldMissing,
			field:  "temp_id",
		},
		{
			name:   "missing title",
			mutate: func(op *bulkingest.CreateNode) { op.Title = "  " },
			code:   bulkingest.ErrCodeRequiredFieldMissing,
			field:  "title",
		},
		{
			name:   "missing model",
			mutate: func(op *bulkingest.CreateNode) { op.ModelUUID = "" },
			code:   bulkingest.ErrCodeRequiredFieldMissing,
			field:  "model_uuid",
		},
		{
			name:   "malformed model uuid",
			mutate: func(op *bulkingest.CreateNode) { op.ModelUUID = "not-a-uuid" },
			code:   bulkingest.ErrCodeInvalidUUID,
			field:  "model_uuid",
		},
		{
			name:   "ambiguous parent",
			mutate: func(op *bulkingest.CreateNode) { op.Parent = bulkingest.Ref{UUID: uuid.NewString(), TempID: "X"} },
			code:   bulkingest.ErrCodeAmbiguousReference,
			field:  "parent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockEntityRepository(t)
			exec := newTestExecutor(repo, false)

			op := createNodeOp("A", "Title")
			tt.mutate(op)

			_, err := exec.Execute(ctx, op)
			ingestErr := requireErrorType(t, err, bulkingest.ErrorTypeValidation)
			assert.Equal(t, tt.code, ingestErr.Code)
			assert.Equal(t, tt.field, ingestErr.Field)
			assert.Equal(t, 0, repo.creates, "nothing is written when validation fails")
		})
	}
}

func TestExecutor_UnknownModelTerm(t *testing.T) {
	repo := newMockEntityRepository(t)
	exec := newTestExecutor(repo, false)

	op := createNodeOp("A", "Title")
	op.ModelUUID = uuid.NewString()

	_, err := exec.Execute(context.Background(), op)
	ingestErr := requireErrorType(t, err, bulkingest.ErrorTypeReferenceNotFound)
	assert.Equal(t, "model_uuid", ingestErr.Field)
	assert.Equal(t, bulkingest.OperationCreateNode, ingestErr.Operation)
	assert.Equal(t, "A", ingestErr.TempID)
}

func TestExecutor_ParentTempIDOfWrongType(t *testing.T) {
	ctx := context.Background()
	repo := newMockEntityRepository(t)
	exec := newTestExecutor(repo, false)

	_, err := exec.Execute(ctx, &bulkingest.CreateFile{ID: "F", Filename: "a.tif", URI: "public://a.tif", MimeType: "image/tiff"})
	require.NoError(t, err)

	op := createNodeOp("A", "Title")
	op.Parent = bulkingest.Ref{TempID: "F"}
	_, err = exec.Execute(ctx, op)
	ingestErr := requireErrorType(t, err, bulkingest.ErrorTypeValidation)
	assert.Equal(t, bulkingest.ErrCodeReferenceTypeMismatch, ingestErr.Code)
	assert.Equal(t, "parent_temp_id", ingestErr.Field)
}

func TestExecutor_TermLookupsAreCached(t *testing.T) {
	ctx := context.Background()
	repo := newMockEntityRepository(t)
	exec := newTestExecutor(repo, false)

	for _, id := range []string{"A", "B", "C"} {
		_, err := exec.Execute(ctx, createNodeOp(id, "Title "+id))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, repo.loadCount(bulkingest.EntityTypeTaxonomyTerm))
}

func TestExecutor_UpdateNode(t *testing.T) {
	ctx := context.Background()
	repo := newMockEntityRepository(t)
	exec := newTestExecutor(repo, false)

	_, err := exec.Execute(ctx, createNodeOp("P", "Parent"))
	require.NoError(t, err)

	create := createNodeOp("A", "Draft")
	create.Parent = bulkingest.Ref{TempID: "P"}
	created, err := exec.Execute(ctx, create)
	require.NoError(t, err)

	update := &bulkingest.UpdateNode{
		ID: "A",
		NodeFields: bulkingest.NodeFields{
			Title:     "Final",
			PID:       "pc:2",
			ModelUUID: modelCollUUID,
		},
	}
	updated, err := exec.Execute(ctx, update)
	require.NoError(t, err)

	assert.Equal(t, created.UUID, updated.UUID)
	require.NotNil(t, updated.RevisionID)
	assert.Greater(t, *updated.RevisionID, *created.RevisionID)

	node := loadEntity(t, repo, bulkingest.EntityTypeNode, updated.UUID)
	assert.Equal(t, "Final", node.Fields[bulkingest.FieldTitle])
	assert.Equal(t, "pc:2", node.Fields[bulkingest.FieldPID])
	assert.Equal(t, repo.termID(t, modelCollUUID), targetOf(t, node.Fields, bulkingest.FieldModel))

	parent := loadEntity(t, repo, bulkingest.EntityTypeNode, mustUUID(t, exec, "P"))
	assert.Equal(t, parent.ID, targetOf(t, node.Fields, bulkingest.FieldMemberOf), "absent parent keeps the existing relation")
	assert.Len(t, repo.Revisions(node.UUID), 2)
}

func mustUUID(t *testing.T, exec *OperationExecutor, tempID string) string {
	t.Helper()
	id, ok := exec.resolver.ResolveUUID(tempID)
	require.True(t, ok)
	return id.String()
}

func TestExecutor_UpdateNodeUnresolved(t *testing.T) {
	repo := newMockEntityRepository(t)
	exec := newTestExecutor(repo, false)

	update := &bulkingest.UpdateNode{ID: "ghost", NodeFields: bulkingest.NodeFields{Title: "x", ModelUUID: modelImageUUID}}
	_, err := exec.Execute(context.Background(), update)
	requireErrorType(t, err, bulkingest.ErrorTypeUnresolvedReference)
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, 0, repo.updates)
}

func TestExecutor_CreateFile(t *testing.T) {
	ctx := context.Background()
	repo := newMockEntityRepository(t)
	exec := newTestExecutor(repo, false)

	entry, err := exec.Execute(ctx, &bulkingest.CreateFile{
		ID:       "F",
		Filename: "page-1.tif",
		URI:      "public://page-1.tif",
		MimeType: "image/tiff",
	})
	require.NoError(t, err)
	assert.Nil(t, entry.RevisionID, "files are not revisionable")

	file := loadEntity(t, repo, bulkingest.EntityTypeFile, entry.UUID)
	assert.Equal(t, "page-1.tif", file.Fields[bulkingest.FieldFilename])
	assert.Equal(t, "public://page-1.tif", file.Fields[bulkingest.FieldURI])
	assert.Equal(t, "image/tiff", file.Fields[bulkingest.FieldFileMime])
	assert.Equal(t, bulkingest.FileStatusPermanent, file.Fields[bulkingest.FieldStatus])

	_, err = exec.Execute(ctx, &bulkingest.CreateFile{ID: "G", Filename: "x", MimeType: "image/tiff"})
	ingestErr := requireErrorType(t, err, bulkingest.ErrorTypeValidation)
	assert.Equal(t, "uri", ingestErr.Field)
}

type fakeLocationChecker struct {
	err  error
	uris []string
}

func (f *fakeLocationChecker) Check(ctx context.Context, uri string) error {
	f.uris = append(f.uris, uri)
	return f.err
}

func TestExecutor_CreateFileLocationChecks(t *testing.T) {
	ctx := context.Background()
	op := &bulkingest.CreateFile{ID: "F", Filename: "a.tif", URI: "s3://bucket/a.tif", MimeType: "image/tiff"}

	t.Run("missing", func(t *testing.T) {
		repo := newMockEntityRepository(t)
		checker := &fakeLocationChecker{err: ErrLocationNotFound}
		exec := NewOperationExecutor(repo, NewIdentifierResolver(false), NewReferenceCache(), checker, "")

		_, err := exec.Execute(ctx, op)
		requireErrorType(t, err, bulkingest.ErrorTypeReferenceNotFound)
		assert.Equal(t, []string{"s3://bucket/a.tif"}, checker.uris)
		assert.Equal(t, 0, repo.creates)
	})

	t.Run("unverifiable", func(t *testing.T) {
		repo := newMockEntityRepository(t)
		checker := &fakeLocationChecker{err: errors.New("timeout")}
		exec := NewOperationExecutor(repo, NewIdentifierResolver(false), NewReferenceCache(), checker, "")

		_, err := exec.Execute(ctx, op)
		ingestErr := requireErrorType(t, err, bulkingest.ErrorTypeValidation)
		assert.Equal(t, bulkingest.ErrCodeInvalidFileLocation, ingestErr.Code)
	})

	t.Run("present", func(t *testing.T) {
		repo := newMockEntityRepository(t)
		exec := NewOperationExecutor(repo, NewIdentifierResolver(false), NewReferenceCache(), &fakeLocationChecker{}, "")

		_, err := exec.Execute(ctx, op)
		require.NoError(t, err)
	})
}

func TestExecutor_CreateMedia(t *testing.T) {
	ctx := context.Background()
	repo := newMockEntityRepository(t)
	exec := newTestExecutor(repo, false)

	node, err := exec.Execute(ctx, createNodeOp("N", "Item"))
	require.NoError(t, err)
	file, err := exec.Execute(ctx, &bulkingest.CreateFile{ID: "F", Filename: "a.tif", URI: "public://a.tif", MimeType: "image/tiff"})
	require.NoError(t, err)

	entry, err := exec.Execute(ctx, &bulkingest.CreateMedia{
		ID:            "M",
		Bundle:        "image",
		Name:          "a.tif",
		MediaUseUUID:  mediaUseOrigUUID,
		File:          bulkingest.Ref{TempID: "F"},
		Owner:         bulkingest.Ref{UUID: node.UUID},
		RelationField: "field_media_image",
	})
	require.NoError(t, err)
	assert.Nil(t, entry.RevisionID)

	media := loadEntity(t, repo, bulkingest.EntityTypeMedia, entry.UUID)
	assert.Equal(t, "image", media.Bundle)
	assert.Equal(t, "a.tif", media.Fields[bulkingest.FieldName])
	assert.Equal(t, repo.termID(t, mediaUseOrigUUID), targetOf(t, media.Fields, bulkingest.FieldMediaUse))
	assert.Equal(t, loadEntity(t, repo, bulkingest.EntityTypeFile, file.UUID).ID, targetOf(t, media.Fields, "field_media_image"))
	assert.Equal(t, loadEntity(t, repo, bulkingest.EntityTypeNode, node.UUID).ID, targetOf(t, media.Fields, bulkingest.FieldMediaOf))
}

func TestExecutor_CreateMediaFailures(t *testing.T) {
	ctx := context.Background()

	base := func() *bulkingest.CreateMedia {
		return &bulkingest.CreateMedia{
			ID:            "M",
			Bundle:        "image",
			Name:          "a.tif",
			MediaUseUUID:  mediaUseOrigUUID,
			File:          bulkingest.Ref{TempID: "F"},
			Owner:         bulkingest.Ref{TempID: "N"},
			RelationField: "field_media_image",
		}
	}

	tests := []struct {
		name      string
		mutate    func(op *bulkingest.CreateMedia)
		errorType bulkingest.ErrorType
		field     string
	}{
		{"unresolved file", func(op *bulkingest.CreateMedia) { op.File = bulkingest.Ref{TempID: "X"} }, bulkingest.ErrorTypeUnresolvedReference, "file_temp_id"},
		{"no file", func(op *bulkingest.CreateMedia) { op.File = bulkingest.Ref{} }, bulkingest.ErrorTypeValidation, "file_uuid"},
		{"no owner", func(op *bulkingest.CreateMedia) { op.Owner = bulkingest.Ref{} }, bulkingest.ErrorTypeValidation, "node_uuid"},
		{"file uuid missing", func(op *bulkingest.CreateMedia) { op.File = bulkingest.Ref{UUID: uuid.NewString()} }, bulkingest.ErrorTypeReferenceNotFound, "file_uuid"},
		{"owner is a file", func(op *bulkingest.CreateMedia) { op.Owner = bulkingest.Ref{TempID: "F"} }, bulkingest.ErrorTypeValidation, "node_temp_id"},
		{"reserved relation field", func(op *bulkingest.CreateMedia) { op.RelationField = bulkingest.FieldMediaOf }, bulkingest.ErrorTypeValidation, "relation_field"},
		{"missing bundle", func(op *bulkingest.CreateMedia) { op.Bundle = "" }, bulkingest.ErrorTypeValidation, "bundle"},
		{"unknown media use", func(op *bulkingest.CreateMedia) { op.MediaUseUUID = uuid.NewString() }, bulkingest.ErrorTypeReferenceNotFound, "media_use_uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockEntityRepository(t)
			exec := newTestExecutor(repo, false)
			_, err := exec.Execute(ctx, createNodeOp("N", "Item"))
			require.NoError(t, err)
			_, err = exec.Execute(ctx, &bulkingest.CreateFile{ID: "F", Filename: "a.tif", URI: "public://a.tif", MimeType: "image/tiff"})
			require.NoError(t, err)

			op := base()
			tt.mutate(op)
			_, err = exec.Execute(ctx, op)
			ingestErr := requireErrorType(t, err, tt.errorType)
			assert.Equal(t, tt.field, ingestErr.Field)
			assert.Equal(t, 0, repo.Count(bulkingest.EntityTypeMedia))
		})
	}
}

func TestExecutor_DuplicateTempID(t *testing.T) {
	ctx := context.Background()

	t.Run("reject", func(t *testing.T) {
		repo := newMockEntityRepository(t)
		exec := newTestExecutor(repo, false)

		first, err := exec.Execute(ctx, createNodeOp("A", "One"))
		require.NoError(t, err)

		_, err = exec.Execute(ctx, createNodeOp("A", "Two"))
		requireErrorType(t, err, bulkingest.ErrorTypeConflict)
		assert.Equal(t, 1, repo.Count(bulkingest.EntityTypeNode), "the duplicate is rejected before writing")
		assert.Equal(t, first.UUID, mustUUID(t, exec, "A"))
	})

	t.Run("overwrite", func(t *testing.T) {
		repo := newMockEntityRepository(t)
		exec := newTestExecutor(repo, true)

		_, err := exec.Execute(ctx, createNodeOp("A", "One"))
		require.NoError(t, err)
		second, err := exec.Execute(ctx, createNodeOp("A", "Two"))
		require.NoError(t, err)

		assert.Equal(t, 2, repo.Count(bulkingest.EntityTypeNode))
		assert.Equal(t, second.UUID, mustUUID(t, exec, "A"))
	})
}

func TestExecutor_UnknownOperation(t *testing.T) {
	exec := newTestExecutor(newMockEntityRepository(t), false)

	_, err := exec.Execute(context.Background(), &bulkingest.UnknownOperation{RawKind: "delete_node", ID: "A"})
	ingestErr := requireErrorType(t, err, bulkingest.ErrorTypeUnknownOperation)
	assert.Contains(t, ingestErr.Message, "delete_node")
	assert.Equal(t, "A", ingestErr.TempID)

	_, err = exec.Execute(context.Background(), nil)
	requireErrorType(t, err, bulkingest.ErrorTypeUnknownOperation)
}

func TestExecutor_RepositoryFailure(t *testing.T) {
	repo := newMockEntityRepository(t)
	repo.failCreate = func(bulkingest.EntityType, bulkingest.Fields) error { return errConstraint }
	exec := newTestExecutor(repo, false)

	_, err := exec.Execute(context.Background(), createNodeOp("A", "Title"))
	requireErrorType(t, err, bulkingest.ErrorTypeRepository)
	assert.ErrorIs(t, err, errConstraint)

	_, ok := exec.resolver.Resolve("A")
	assert.False(t, ok, "failed creates are not recorded")
}
