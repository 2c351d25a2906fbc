package internal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/lychee-technology/bulkingest"
	"github.com/stretchr/testify/require"
)

const (
	modelImageUUID   = "4f5c9a0e-8d0b-4c55-9f0a-0a1b2c3d4e01"
	modelCollUUID    = "4f5c9a0e-8d0b-4c55-9f0a-0a1b2c3d4e02"
	mediaUseOrigUUID = "4f5c9a0e-8d0b-4c55-9f0a-0a1b2c3d4e03"
)

// mockEntityRepository wraps a MemoryRepository, counting calls and
// optionally failing writes.
type mockEntityRepository struct {
	*MemoryRepository

	mu         sync.Mutex
	loads      map[bulkingest.EntityType]int
	creates    int
	updates    int
	failCreate func(entityType bulkingest.EntityType, fields bulkingest.Fields) error
	panicOn    bulkingest.EntityType
}

func newMockEntityRepository(t *testing.T) *mockEntityRepository {
	t.Helper()
	repo := &mockEntityRepository{
		MemoryRepository: NewMemoryRepository(),
		loads:            make(map[bulkingest.EntityType]int),
	}
	_, err := repo.Seed(context.Background(), []bulkingest.SeedRecord{
		{Type: bulkingest.EntityTypeTaxonomyTerm, UUID: modelImageUUID, Bundle: "islandora_models"},
		{Type: bulkingest.EntityTypeTaxonomyTerm, UUID: modelCollUUID, Bundle: "islandora_models"},
		{Type: bulkingest.EntityTypeTaxonomyTerm, UUID: mediaUseOrigUUID, Bundle: "islandora_media_use"},
	})
	require.NoError(t, err)
	return repo
}

func (m *mockEntityRepository) Create(ctx context.Context, entityType bulkingest.EntityType, bundle string, fields bulkingest.Fields) (*bulkingest.Entity, error) {
	m.mu.Lock()
	m.creates++
	fail := m.failCreate
	m.mu.Unlock()
	if m.panicOn == entityType {
		panic("repository exploded")
	}
	if fail != nil {
		if err := fail(entityType, fields); err != nil {
			return nil, err
		}
	}
	return m.MemoryRepository.Create(ctx, entityType, bundle, fields)
}

func (m *mockEntityRepository) Update(ctx context.Context, entityType bulkingest.EntityType, id uuid.UUID, fields bulkingest.Fields) (*bulkingest.Entity, error) {
	m.mu.Lock()
	m.updates++
	m.mu.Unlock()
	return m.MemoryRepository.Update(ctx, entityType, id, fields)
}

func (m *mockEntityRepository) LoadByUUID(ctx context.Context, entityType bulkingest.EntityType, id uuid.UUID) (*bulkingest.Entity, error) {
	m.mu.Lock()
	m.loads[entityType]++
	m.mu.Unlock()
	return m.MemoryRepository.LoadByUUID(ctx, entityType, id)
}

func (m *mockEntityRepository) loadCount(entityType bulkingest.EntityType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads[entityType]
}

// termID returns the durable id of a seeded taxonomy term.
func (m *mockEntityRepository) termID(t *testing.T, raw string) int64 {
	t.Helper()
	term, err := m.MemoryRepository.LoadByUUID(context.Background(), bulkingest.EntityTypeTaxonomyTerm, uuid.MustParse(raw))
	require.NoError(t, err)
	require.NotNil(t, term)
	return term.ID
}

var errConstraint = errors.New("constraint violation")

func newTestExecutor(repo bulkingest.EntityRepository, overwrite bool) *OperationExecutor {
	return NewOperationExecutor(repo, NewIdentifierResolver(overwrite), NewReferenceCache(), nil, "")
}

func createNodeOp(tempID, title string) *bulkingest.CreateNode {
	return &bulkingest.CreateNode{
		ID: tempID,
		NodeFields: bulkingest.NodeFields{
			Title:     title,
			ModelUUID: modelImageUUID,
		},
	}
}

func int64Ptr(v int64) *int64 { return &v }
