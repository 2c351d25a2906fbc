package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/bulkingest"
)

// SQLiteRepository stores records in a single SQLite file.
type SQLiteRepository struct {
	db      *sql.DB
	nowFunc func() time.Time
}

var (
	_ bulkingest.EntityRepository = (*SQLiteRepository)(nil)
	_ bulkingest.Seeder           = (*SQLiteRepository)(nil)
)

// NewSQLiteRepository creates a repository over a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, nowFunc: time.Now}
}

func (r *SQLiteRepository) withClock(now func() time.Time) {
	if now == nil {
		return
	}
	r.nowFunc = now
}

func (r *SQLiteRepository) Create(ctx context.Context, entityType bulkingest.EntityType, bundle string, fields bulkingest.Fields) (*bulkingest.Entity, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate uuid: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if committed

	entity, err := r.insert(ctx, tx, entityType, id, bundle, fields)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return entity, nil
}

func (r *SQLiteRepository) insert(ctx context.Context, tx *sql.Tx, entityType bulkingest.EntityType, id uuid.UUID, bundle string, fields bulkingest.Fields) (*bulkingest.Entity, error) {
	payload, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	now := r.nowFunc()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO entities (uuid, entity_type, bundle, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), string(entityType), bundle, string(payload), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert entity: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read entity id: %w", err)
	}

	entity := &bulkingest.Entity{
		ID:        rowID,
		UUID:      id,
		Type:      entityType,
		Bundle:    bundle,
		Fields:    fields.Clone(),
		CreatedAt: time.UnixMilli(now.UnixMilli()),
		UpdatedAt: time.UnixMilli(now.UnixMilli()),
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

func (r *SQLiteRepository) addRevision(ctx context.Context, tx *sql.Tx, entityID int64, payload []byte, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO entity_revisions (entity_id, fields, created_at) VALUES (?, ?, ?)`,
		entityID, string(payload), now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert revision: %w", err)
	}
	vid, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read revision id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE entities SET revision_id = ? WHERE id = ?`, vid, entityID); err != nil {
		return 0, fmt.Errorf("set current revision: %w", err)
	}
	return vid, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, entityType bulkingest.EntityType, id uuid.UUID, fields bulkingest.Fields) (*bulkingest.Entity, error) {
	payload, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if committed

	current, err := r.load(ctx, tx, entityType, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%s %s: %w", entityType, id, bulkingest.ErrEntityNotFound)
	}

	now := r.nowFunc()
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET fields = ?, updated_at = ? WHERE id = ?`,
		string(payload), now.UnixMilli(), current.ID,
	); err != nil {
		return nil, fmt.Errorf("update entity: %w", err)
	}
	current.Fields = fields.Clone()
	current.UpdatedAt = time.UnixMilli(now.UnixMilli())

	if entityType.Revisionable() {
		vid, err := r.addRevision(ctx, tx, current.ID, payload, now)
		if err != nil {
			return nil, err
		}
		current.RevisionID = &vid
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return current, nil
}

func (r *SQLiteRepository) LoadByUUID(ctx context.Context, entityType bulkingest.EntityType, id uuid.UUID) (*bulkingest.Entity, error) {
	return r.load(ctx, r.db, entityType, id)
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepository) load(ctx context.Context, q sqliteQuerier, entityType bulkingest.EntityType, id uuid.UUID) (*bulkingest.Entity, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, uuid, bundle, revision_id, fields, created_at, updated_at
		   FROM entities WHERE entity_type = ? AND uuid = ?`,
		string(entityType), id.String(),
	)

	var (
		entity     bulkingest.Entity
		rawUUID    string
		revisionID sql.NullInt64
		payload    string
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(&entity.ID, &rawUUID, &entity.Bundle, &revisionID, &payload, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s %s: %w", entityType, id, err)
	}

	parsed, ok := toUUID(rawUUID)
	if !ok {
		return nil, fmt.Errorf("stored uuid %q is invalid", rawUUID)
	}
	fields, err := decodeFields([]byte(payload))
	if err != nil {
		return nil, err
	}

	entity.UUID = parsed
	entity.Type = entityType
	entity.Fields = fields
	entity.CreatedAt = time.UnixMilli(createdAt)
	entity.UpdatedAt = time.UnixMilli(updatedAt)
	if revisionID.Valid {
		vid := revisionID.Int64
		entity.RevisionID = &vid
	}
	return &entity, nil
}

// Seed inserts records whose uuid is not yet present and returns how many were added.
func (r *SQLiteRepository) Seed(ctx context.Context, records []bulkingest.SeedRecord) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if committed

	added := 0
	for i, rec := range records {
		id, err := validateSeedRecord(rec)
		if err != nil {
			return 0, fmt.Errorf("seed record %d: %w", i, err)
		}
		existing, err := r.load(ctx, tx, rec.Type, id)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			continue
		}
		if _, err := r.insert(ctx, tx, rec.Type, id, rec.Bundle, rec.Fields); err != nil {
			return 0, fmt.Errorf("seed record %d: %w", i, err)
		}
		added++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return added, nil
}

func encodeFields(fields bulkingest.Fields) ([]byte, error) {
	if fields == nil {
		fields = bulkingest.Fields{}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return payload, nil
}

func decodeFields(payload []byte) (bulkingest.Fields, error) {
	fields := bulkingest.Fields{}
	if len(payload) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

// SchemaReady reports whether the migrated tables exist. It never creates them.
func (r *SQLiteRepository) SchemaReady(ctx context.Context) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('entities', 'entity_revisions')`,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect schema: %w", err)
	}
	return n == 2, nil
}
