package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/bulkingest"
)

type entityPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresTables names the tables backing a PostgresRepository.
type PostgresTables struct {
	Entities  string
	Revisions string
}

// DefaultPostgresTables matches the bundled migrations.
var DefaultPostgresTables = PostgresTables{
	Entities:  "entities",
	Revisions: "entity_revisions",
}

// PostgresRepository stores records in PostgreSQL (or Aurora DSQL). Every
// write runs in its own transaction.
type PostgresRepository struct {
	pool    entityPool
	tables  PostgresTables
	nowFunc func() time.Time
}

var (
	_ bulkingest.EntityRepository = (*PostgresRepository)(nil)
	_ bulkingest.Seeder           = (*PostgresRepository)(nil)
)

func NewPostgresRepository(pool entityPool, tables PostgresTables) *PostgresRepository {
	if tables.Entities == "" {
		tables.Entities = DefaultPostgresTables.Entities
	}
	if tables.Revisions == "" {
		tables.Revisions = DefaultPostgresTables.Revisions
	}
	return &PostgresRepository{
		pool:    pool,
		tables:  tables,
		nowFunc: time.Now,
	}
}

func (r *PostgresRepository) withClock(now func() time.Time) {
	if now == nil {
		return
	}
	r.nowFunc = now
}

func (r *PostgresRepository) nowMillis() int64 {
	if r.nowFunc == nil {
		return time.Now().UnixMilli()
	}
	return r.nowFunc().UnixMilli()
}

func (r *PostgresRepository) Create(ctx context.Context, entityType bulkingest.EntityType, bundle string, fields bulkingest.Fields) (*bulkingest.Entity, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate uuid: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	entity, err := r.insert(ctx, tx, entityType, id, bundle, fields, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return entity, nil
}

// insert writes one entity row and, for revisionable types, its first
// revision. With skipExisting set a uuid collision returns nil, nil.
func (r *PostgresRepository) insert(ctx context.Context, tx pgx.Tx, entityType bulkingest.EntityType, id uuid.UUID, bundle string, fields bulkingest.Fields, skipExisting bool) (*bulkingest.Entity, error) {
	payload, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	now := r.nowMillis()

	conflict := ""
	if skipExisting {
		conflict = " ON CONFLICT (uuid) DO NOTHING"
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (uuid, entity_type, bundle, fields, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)%s RETURNING id`,
		sanitizeIdentifier(r.tables.Entities), conflict,
	)

	var rowID int64
	if err := tx.QueryRow(ctx, query, id.String(), string(entityType), bundle, payload, now, now).Scan(&rowID); err != nil {
		if skipExisting && errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("insert entity: %w", err)
	}

	entity := &bulkingest.Entity{
		ID:        rowID,
		UUID:      id,
		Type:      entityType,
		Bundle:    bundle,
		Fields:    fields.Clone(),
		CreatedAt: time.UnixMilli(now),
		UpdatedAt: time.UnixMilli(now),
	}
	if entityType.Revisionable() {
		vid, err := r.addRevision(ctx, tx, rowID, payload, now)
		if err != nil {
			return nil, err
		}
		entity.RevisionID = &vid
	}
	return entity, nil
}

func (r *PostgresRepository) addRevision(ctx context.Context, tx pgx.Tx, entityID int64, payload []byte, now int64) (int64, error) {
	query := fmt.Sprintf(
		`INSERT INTO %s (entity_id, fields, created_at) VALUES ($1, $2, $3) RETURNING revision_id`,
		sanitizeIdentifier(r.tables.Revisions),
	)
	var vid int64
	if err := tx.QueryRow(ctx, query, entityID, payload, now).Scan(&vid); err != nil {
		return 0, fmt.Errorf("insert revision: %w", err)
	}

	update := fmt.Sprintf(`UPDATE %s SET revision_id = $1 WHERE id = $2`, sanitizeIdentifier(r.tables.Entities))
	if _, err := tx.Exec(ctx, update, vid, entityID); err != nil {
		return 0, fmt.Errorf("set current revision: %w", err)
	}
	return vid, nil
}

func (r *PostgresRepository) Update(ctx context.Context, entityType bulkingest.EntityType, id uuid.UUID, fields bulkingest.Fields) (*bulkingest.Entity, error) {
	payload, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	current, err := r.load(ctx, tx, entityType, id, true)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%s %s: %w", entityType, id, bulkingest.ErrEntityNotFound)
	}

	now := r.nowMillis()
	update := fmt.Sprintf(`UPDATE %s SET fields = $1, updated_at = $2 WHERE id = $3`, sanitizeIdentifier(r.tables.Entities))
	if _, err := tx.Exec(ctx, update, payload, now, current.ID); err != nil {
		return nil, fmt.Errorf("update entity: %w", err)
	}
	current.Fields = fields.Clone()
	current.UpdatedAt = time.UnixMilli(now)

	if entityType.Revisionable() {
		vid, err := r.addRevision(ctx, tx, current.ID, payload, now)
		if err != nil {
			return nil, err
		}
		current.RevisionID = &vid
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return current, nil
}

func (r *PostgresRepository) LoadByUUID(ctx context.Context, entityType bulkingest.EntityType, id uuid.UUID) (*bulkingest.Entity, error) {
	return r.load(ctx, r.pool, entityType, id, false)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRepository) load(ctx context.Context, q rowQuerier, entityType bulkingest.EntityType, id uuid.UUID, forUpdate bool) (*bulkingest.Entity, error) {
	query := fmt.Sprintf(
		`SELECT id, uuid::text, bundle, revision_id, fields, created_at, updated_at
			FROM %s WHERE entity_type = $1 AND uuid = $2`,
		sanitizeIdentifier(r.tables.Entities),
	)
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		entity     bulkingest.Entity
		rawUUID    string
		revisionID *int64
		payload    []byte
		createdAt  int64
		updatedAt  int64
	)
	err := q.QueryRow(ctx, query, string(entityType), id.String()).
		Scan(&entity.ID, &rawUUID, &entity.Bundle, &revisionID, &payload, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s %s: %w", entityType, id, err)
	}

	parsed, ok := toUUID(rawUUID)
	if !ok {
		return nil, fmt.Errorf("stored uuid %q is invalid", rawUUID)
	}
	fields, err := decodeFields(payload)
	if err != nil {
		return nil, err
	}

	entity.UUID = parsed
	entity.Type = entityType
	entity.RevisionID = revisionID
	entity.Fields = fields
	entity.CreatedAt = time.UnixMilli(createdAt)
	entity.UpdatedAt = time.UnixMilli(updatedAt)
	return &entity, nil
}

// Seed inserts records whose uuid is not yet present and returns how many were added.
func (r *PostgresRepository) Seed(ctx context.Context, records []bulkingest.SeedRecord) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	added := 0
	for i, rec := range records {
		id, err := validateSeedRecord(rec)
		if err != nil {
			return 0, fmt.Errorf("seed record %d: %w", i, err)
		}
		entity, err := r.insert(ctx, tx, rec.Type, id, rec.Bundle, rec.Fields, true)
		if err != nil {
			return 0, fmt.Errorf("seed record %d: %w", i, err)
		}
		if entity != nil {
			added++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return added, nil
}

// SchemaReady reports whether both tables exist, without creating anything.
func (r *PostgresRepository) SchemaReady(ctx context.Context) (bool, error) {
	var ready bool
	err := r.pool.QueryRow(ctx,
		`SELECT to_regclass($1) IS NOT NULL AND to_regclass($2) IS NOT NULL`,
		r.tables.Entities, r.tables.Revisions,
	).Scan(&ready)
	if err != nil {
		return false, fmt.Errorf("inspect schema: %w", err)
	}
	return ready, nil
}
