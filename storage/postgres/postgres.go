// Package postgres provides a Postgres-backed storage implementation for
// multi-process deployments. It registers pgx as a database/sql driver and
// applies its schema on startup, mirroring the sqlite backend's semantics
// row for row.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/soulstack/soulmesh/core"
	"github.com/soulstack/soulmesh/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS souls (
	hash       TEXT PRIMARY KEY,
	genotype   JSONB NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS aliases (
	alias        TEXT PRIMARY KEY,
	current_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alias_events (
	seq      BIGSERIAL PRIMARY KEY,
	alias    TEXT NOT NULL,
	hash     TEXT NOT NULL,
	bound_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alias_events_alias ON alias_events(alias);

CREATE TABLE IF NOT EXISTS beings (
	id         TEXT PRIMARY KEY,
	soul_hash  TEXT NOT NULL,
	alias      TEXT UNIQUE,
	data       JSONB NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	revision   BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_beings_soul ON beings(soul_hash);

CREATE TABLE IF NOT EXISTS relationships (
	seq           BIGSERIAL,
	id            TEXT PRIMARY KEY,
	source_id     TEXT NOT NULL,
	target_id     TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	strength      DOUBLE PRECISION NOT NULL,
	metadata      JSONB,
	created_at    BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rel_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships(target_id);
`

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// Options configures the postgres store.
type Options struct {
	// Logger receives store lifecycle and operation logs.
	Logger logging.Logger
}

// Store is a core.Storage implementation backed by a Postgres database.
type Store struct {
	conn   *sql.DB
	logger logging.Logger
}

var _ core.Storage = (*Store)(nil)

// Open connects to the database at dsn, verifies the connection and applies
// the schema.
func Open(ctx context.Context, dsn string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	opts.Logger.Debug("postgres store opened")

	return &Store{conn: conn, logger: opts.Logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// InsertSoul inserts the soul row unless its hash already exists. ON CONFLICT
// DO NOTHING keeps concurrent identical inserts converging to one row.
func (s *Store) InsertSoul(ctx context.Context, soul *core.Soul) (*core.Soul, bool, error) {
	genotypeJSON, err := json.Marshal(soul.Genotype)
	if err != nil {
		return nil, false, fmt.Errorf("marshaling genotype: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO souls (hash, genotype, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (hash) DO NOTHING
	`, string(soul.Hash), string(genotypeJSON), soul.CreatedAt.UnixNano())
	if err != nil {
		return nil, false, core.NewStorageError("insert_soul", err, true)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, core.NewStorageError("insert_soul", err, true)
	}

	stored, err := s.GetSoul(ctx, soul.Hash)
	if err != nil {
		return nil, false, err
	}
	return stored, affected == 1, nil
}

// GetSoul returns the soul for the hash or core.ErrSoulNotFound.
func (s *Store) GetSoul(ctx context.Context, hash core.ContentHash) (*core.Soul, error) {
	var genotypeJSON []byte
	var createdAt int64
	err := s.conn.QueryRowContext(ctx, `
		SELECT genotype, created_at FROM souls WHERE hash = $1
	`, string(hash)).Scan(&genotypeJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSoulNotFound
	}
	if err != nil {
		return nil, core.NewStorageError("get_soul", err, true)
	}

	var genotype core.Genotype
	if err := json.Unmarshal(genotypeJSON, &genotype); err != nil {
		return nil, fmt.Errorf("unmarshaling genotype: %w", err)
	}

	return &core.Soul{
		Hash:      hash,
		Genotype:  genotype,
		CreatedAt: time.Unix(0, createdAt).UTC(),
	}, nil
}

// BindAlias upserts the alias row inside a transaction, appending an alias
// event only when the target hash actually changes.
func (s *Store) BindAlias(ctx context.Context, alias string, hash core.ContentHash) (*core.AliasBinding, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.NewStorageError("bind_alias", err, true)
	}
	defer tx.Rollback()

	// Row lock serializes concurrent rebinds of the same alias.
	var current string
	err = tx.QueryRowContext(ctx, `
		SELECT current_hash FROM aliases WHERE alias = $1 FOR UPDATE
	`, alias).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO aliases (alias, current_hash) VALUES ($1, $2)
			ON CONFLICT (alias) DO UPDATE SET current_hash = EXCLUDED.current_hash
		`, alias, string(hash)); err != nil {
			return nil, core.NewStorageError("bind_alias", err, true)
		}
		if err := insertAliasEvent(ctx, tx, alias, hash); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, core.NewStorageError("bind_alias", err, true)
	case current != string(hash):
		if _, err := tx.ExecContext(ctx, `
			UPDATE aliases SET current_hash = $1 WHERE alias = $2
		`, string(hash), alias); err != nil {
			return nil, core.NewStorageError("bind_alias", err, true)
		}
		if err := insertAliasEvent(ctx, tx, alias, hash); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, core.NewStorageError("bind_alias", err, true)
	}
	return s.GetAlias(ctx, alias)
}

func insertAliasEvent(ctx context.Context, tx *sql.Tx, alias string, hash core.ContentHash) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO alias_events (alias, hash, bound_at) VALUES ($1, $2, $3)
	`, alias, string(hash), time.Now().UTC().UnixNano()); err != nil {
		return core.NewStorageError("bind_alias", err, true)
	}
	return nil
}

// GetAlias returns the binding with its full history or core.ErrAliasNotFound.
func (s *Store) GetAlias(ctx context.Context, alias string) (*core.AliasBinding, error) {
	var current string
	err := s.conn.QueryRowContext(ctx, `
		SELECT current_hash FROM aliases WHERE alias = $1
	`, alias).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAliasNotFound
	}
	if err != nil {
		return nil, core.NewStorageError("get_alias", err, true)
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT hash, bound_at FROM alias_events WHERE alias = $1 ORDER BY seq
	`, alias)
	if err != nil {
		return nil, core.NewStorageError("get_alias", err, true)
	}
	defer rows.Close()

	binding := &core.AliasBinding{Alias: alias, CurrentHash: core.ContentHash(current)}
	for rows.Next() {
		var hash string
		var boundAt int64
		if err := rows.Scan(&hash, &boundAt); err != nil {
			return nil, core.NewStorageError("get_alias", err, true)
		}
		binding.History = append(binding.History, core.AliasEvent{
			Hash:    core.ContentHash(hash),
			BoundAt: time.Unix(0, boundAt).UTC(),
		})
	}
	return binding, rows.Err()
}

// InsertBeing stores a new being row, mapping the alias unique constraint to
// core.ErrDuplicateAlias.
func (s *Store) InsertBeing(ctx context.Context, being *core.Being) error {
	dataJSON, err := json.Marshal(being.Data)
	if err != nil {
		return fmt.Errorf("marshaling being data: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO beings (id, soul_hash, alias, data, created_at, updated_at, revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, being.ID, string(being.SoulHash), nullableAlias(being.Alias), string(dataJSON),
		being.CreatedAt.UnixNano(), being.UpdatedAt.UnixNano(), being.Revision)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicateAlias
		}
		return core.NewStorageError("insert_being", err, true)
	}
	return nil
}

// UpdateBeing replaces the row only when the stored revision matches.
func (s *Store) UpdateBeing(ctx context.Context, being *core.Being, expectedRevision int64) error {
	dataJSON, err := json.Marshal(being.Data)
	if err != nil {
		return fmt.Errorf("marshaling being data: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE beings
		SET soul_hash = $1, alias = $2, data = $3, updated_at = $4, revision = $5
		WHERE id = $6 AND revision = $7
	`, string(being.SoulHash), nullableAlias(being.Alias), string(dataJSON),
		being.UpdatedAt.UnixNano(), being.Revision, being.ID, expectedRevision)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicateAlias
		}
		return core.NewStorageError("update_being", err, true)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return core.NewStorageError("update_being", err, true)
	}
	if affected == 0 {
		if _, err := s.GetBeing(ctx, being.ID); err != nil {
			return err
		}
		return core.ErrConflict
	}
	return nil
}

// GetBeing returns the being for the id or core.ErrBeingNotFound.
func (s *Store) GetBeing(ctx context.Context, id string) (*core.Being, error) {
	return s.queryBeing(ctx, `
		SELECT id, soul_hash, alias, data, created_at, updated_at, revision
		FROM beings WHERE id = $1
	`, id)
}

// GetBeingByAlias returns the being carrying the alias or core.ErrBeingNotFound.
func (s *Store) GetBeingByAlias(ctx context.Context, alias string) (*core.Being, error) {
	return s.queryBeing(ctx, `
		SELECT id, soul_hash, alias, data, created_at, updated_at, revision
		FROM beings WHERE alias = $1
	`, alias)
}

func (s *Store) queryBeing(ctx context.Context, query string, arg any) (*core.Being, error) {
	being, err := scanBeing(s.conn.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrBeingNotFound
	}
	if err != nil {
		return nil, core.NewStorageError("get_being", err, true)
	}
	return being, nil
}

// ListBeingsBySoul returns every being bound to the soul hash, oldest first.
func (s *Store) ListBeingsBySoul(ctx context.Context, hash core.ContentHash) ([]*core.Being, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, soul_hash, alias, data, created_at, updated_at, revision
		FROM beings WHERE soul_hash = $1 ORDER BY created_at, id
	`, string(hash))
	if err != nil {
		return nil, core.NewStorageError("list_beings", err, true)
	}
	defer rows.Close()

	var beings []*core.Being
	for rows.Next() {
		being, err := scanBeing(rows)
		if err != nil {
			return nil, core.NewStorageError("list_beings", err, true)
		}
		beings = append(beings, being)
	}
	return beings, rows.Err()
}

// DeleteBeing removes the row or returns core.ErrBeingNotFound.
func (s *Store) DeleteBeing(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM beings WHERE id = $1`, id)
	if err != nil {
		return core.NewStorageError("delete_being", err, true)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.NewStorageError("delete_being", err, true)
	}
	if affected == 0 {
		return core.ErrBeingNotFound
	}
	return nil
}

// InsertRelationship stores a new edge row.
func (s *Store) InsertRelationship(ctx context.Context, rel *core.Relationship) error {
	var metadataJSON sql.NullString
	if rel.Metadata != nil {
		raw, err := json.Marshal(rel.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO relationships (id, source_id, target_id, relation_type, strength, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rel.ID, rel.SourceID, rel.TargetID, rel.RelationType, rel.Strength,
		metadataJSON, rel.CreatedAt.UnixNano())
	if err != nil {
		return core.NewStorageError("insert_relationship", err, true)
	}
	return nil
}

// GetRelationshipsBetween returns edges from source to target, optionally
// filtered by relation type, oldest first.
func (s *Store) GetRelationshipsBetween(ctx context.Context, sourceID, targetID, relationType string) ([]*core.Relationship, error) {
	query := `
		SELECT id, source_id, target_id, relation_type, strength, metadata, created_at
		FROM relationships WHERE source_id = $1 AND target_id = $2
	`
	args := []any{sourceID, targetID}
	if relationType != "" {
		query += ` AND relation_type = $3`
		args = append(args, relationType)
	}
	query += ` ORDER BY seq`
	return s.queryRelationships(ctx, query, args...)
}

// GetRelationshipsFor returns edges touching the entity in the given
// direction, optionally filtered by relation type, oldest first.
func (s *Store) GetRelationshipsFor(ctx context.Context, entityID string, direction core.Direction, relationType string) ([]*core.Relationship, error) {
	var query string
	args := []any{entityID}
	switch direction {
	case core.DirectionOutbound:
		query = `
			SELECT id, source_id, target_id, relation_type, strength, metadata, created_at
			FROM relationships WHERE source_id = $1`
	case core.DirectionInbound:
		query = `
			SELECT id, source_id, target_id, relation_type, strength, metadata, created_at
			FROM relationships WHERE target_id = $1`
	default:
		query = `
			SELECT id, source_id, target_id, relation_type, strength, metadata, created_at
			FROM relationships WHERE (source_id = $1 OR target_id = $1)`
	}
	if relationType != "" {
		query += ` AND relation_type = $2`
		args = append(args, relationType)
	}
	query += ` ORDER BY seq`
	return s.queryRelationships(ctx, query, args...)
}

// DeleteRelationship removes the edge or returns core.ErrRelationshipNotFound.
func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM relationships WHERE id = $1`, id)
	if err != nil {
		return core.NewStorageError("delete_relationship", err, true)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.NewStorageError("delete_relationship", err, true)
	}
	if affected == 0 {
		return core.ErrRelationshipNotFound
	}
	return nil
}

// DeleteRelationshipsFor removes every edge touching the entity.
func (s *Store) DeleteRelationshipsFor(ctx context.Context, entityID string) (int, error) {
	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM relationships WHERE source_id = $1 OR target_id = $1
	`, entityID)
	if err != nil {
		return 0, core.NewStorageError("delete_relationships", err, true)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, core.NewStorageError("delete_relationships", err, true)
	}
	return int(affected), nil
}

func (s *Store) queryRelationships(ctx context.Context, query string, args ...any) ([]*core.Relationship, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.NewStorageError("query_relationships", err, true)
	}
	defer rows.Close()

	var rels []*core.Relationship
	for rows.Next() {
		var rel core.Relationship
		var metadataJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&rel.ID, &rel.SourceID, &rel.TargetID, &rel.RelationType,
			&rel.Strength, &metadataJSON, &createdAt); err != nil {
			return nil, core.NewStorageError("query_relationships", err, true)
		}
		if metadataJSON.Valid {
			meta, err := decodeDataJSON(metadataJSON.String)
			if err != nil {
				return nil, fmt.Errorf("unmarshaling metadata: %w", err)
			}
			rel.Metadata = meta
		}
		rel.CreatedAt = time.Unix(0, createdAt).UTC()
		rels = append(rels, &rel)
	}
	return rels, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBeing(row rowScanner) (*core.Being, error) {
	var being core.Being
	var soulHash, dataJSON string
	var alias sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&being.ID, &soulHash, &alias, &dataJSON,
		&createdAt, &updatedAt, &being.Revision); err != nil {
		return nil, err
	}
	data, err := decodeDataJSON(dataJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling being data: %w", err)
	}
	being.Data = data
	being.SoulHash = core.ContentHash(soulHash)
	being.Alias = alias.String
	being.CreatedAt = time.Unix(0, createdAt).UTC()
	being.UpdatedAt = time.Unix(0, updatedAt).UTC()
	being.MarkPersistent()
	return &being, nil
}

func nullableAlias(alias string) sql.NullString {
	if alias == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: alias, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// decodeDataJSON unmarshals a stored JSON object, keeping whole numbers as
// int64 so values round-trip the same way the in-memory store keeps them.
func decodeDataJSON(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var decoded map[string]any
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	normalized, _ := normalizeNumbers(decoded).(map[string]any)
	return normalized, nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	default:
		return val
	}
}
