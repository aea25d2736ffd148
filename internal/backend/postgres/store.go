// Package postgres implements the backend.Store interface over a generic
// JSONB document table. Each resource maps to one table with the shape
//
//	id TEXT PRIMARY KEY, owner TEXT NOT NULL, doc JSONB NOT NULL,
//	created_at TIMESTAMPTZ NOT NULL, updated_at TIMESTAMPTZ NOT NULL
//
// Document fields are addressed with doc->>'field' expressions; every field
// name is passed through the safety layer before it is embedded in SQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ownkit/docstore/internal/backend"
	"github.com/ownkit/docstore/internal/database"
	"github.com/ownkit/docstore/internal/domain"
	"github.com/ownkit/docstore/internal/safety"
)

// pgUniqueViolation is the SQLSTATE code for unique_violation.
const pgUniqueViolation = "23505"

// Compile-time interface verification.
var _ backend.Store = (*Store)(nil)

// Store is a PostgreSQL implementation of backend.Store bound to one table.
type Store struct {
	db    database.DBTX
	table string
}

// NewStore creates a store over the named table. The table name must pass
// the identifier safety check; it is the only identifier embedded in SQL
// that does not come from a per-query filter.
func NewStore(db database.DBTX, table string) (*Store, error) {
	name, err := safety.AssertSafeIdentifier(table)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, table: name}, nil
}

// Resource returns the table name the store is bound to.
func (s *Store) Resource() string {
	return s.table
}

// IsDuplicateKeyError reports whether err is a PostgreSQL unique-constraint
// violation.
func IsDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// condValue renders a condition value as the text form doc->>'field' yields.
func condValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// buildWhere translates a filter into a WHERE clause with positional args.
// argIndex continues from the returned next index so callers can append
// LIMIT/OFFSET parameters.
func (s *Store) buildWhere(f backend.Filter) (string, []interface{}, int, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if f.ID != "" {
		conditions = append(conditions, fmt.Sprintf("id = $%d", argIndex))
		args = append(args, f.ID)
		argIndex++
	}
	if f.ExcludeID != "" {
		conditions = append(conditions, fmt.Sprintf("id <> $%d", argIndex))
		args = append(args, f.ExcludeID)
		argIndex++
	}
	if f.Owner != "" {
		conditions = append(conditions, fmt.Sprintf("owner = $%d", argIndex))
		args = append(args, f.Owner)
		argIndex++
	}

	for _, c := range f.Conds {
		field, err := safety.AssertSafeIdentifier(c.Field)
		if err != nil {
			return "", nil, 0, err
		}
		expr := fmt.Sprintf("doc->>'%s'", field)

		switch c.Op {
		case backend.OpEq:
			conditions = append(conditions, fmt.Sprintf("%s = $%d", expr, argIndex))
			args = append(args, condValue(c.Value))
			argIndex++
		case backend.OpEqFold:
			conditions = append(conditions, fmt.Sprintf("LOWER(%s) = LOWER($%d)", expr, argIndex))
			args = append(args, condValue(c.Value))
			argIndex++
		case backend.OpIn:
			values := make([]string, 0, len(c.Values))
			for _, v := range c.Values {
				values = append(values, condValue(v))
			}
			conditions = append(conditions, fmt.Sprintf("%s = ANY($%d)", expr, argIndex))
			args = append(args, values)
			argIndex++
		case backend.OpInFold:
			values := make([]string, 0, len(c.Values))
			for _, v := range c.Values {
				values = append(values, safety.FoldCase(condValue(v)))
			}
			conditions = append(conditions, fmt.Sprintf("LOWER(%s) = ANY($%d)", expr, argIndex))
			args = append(args, values)
			argIndex++
		default:
			return "", nil, 0, fmt.Errorf("unsupported compare op %d on field %q", c.Op, field)
		}
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}
	return whereClause, args, argIndex, nil
}

// buildOrder translates sort directives into an ORDER BY clause. Reserved
// fields sort on their native columns; document fields sort on the JSONB
// text projection. Defaults to newest-first.
func buildOrder(sorts []backend.Sort) (string, error) {
	if len(sorts) == 0 {
		return "ORDER BY created_at DESC", nil
	}

	parts := make([]string, 0, len(sorts))
	for _, sr := range sorts {
		field, err := safety.AssertSafeIdentifier(sr.Field)
		if err != nil {
			return "", err
		}
		var expr string
		switch field {
		case domain.FieldID:
			expr = "id"
		case domain.FieldOwner:
			expr = "owner"
		case domain.FieldCreatedAt:
			expr = "created_at"
		case domain.FieldUpdatedAt:
			expr = "updated_at"
		default:
			expr = fmt.Sprintf("doc->>'%s'", field)
		}
		dir := "ASC"
		if sr.Desc {
			dir = "DESC"
		}
		parts = append(parts, expr+" "+dir)
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

// FindOne returns at most one matching record, or (nil, nil) when none
// matches.
func (s *Store) FindOne(ctx context.Context, f backend.Filter) (domain.Record, error) {
	whereClause, args, _, err := s.buildWhere(f)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT id, owner, doc, created_at, updated_at FROM %s %s LIMIT 1",
		s.table, whereClause)

	rec, err := scanRecord(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find %s: %w", s.table, err)
	}
	return rec, nil
}

// FindMany returns all matching records ordered and paged per opts.
func (s *Store) FindMany(ctx context.Context, f backend.Filter, opts backend.FindOptions) ([]domain.Record, error) {
	whereClause, args, argIndex, err := s.buildWhere(f)
	if err != nil {
		return nil, err
	}
	orderClause, err := buildOrder(opts.Sort)
	if err != nil {
		return nil, err
	}

	pageClause := ""
	if opts.Page != nil {
		pageClause = fmt.Sprintf("LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
		args = append(args, opts.Page.Limit, opts.Page.Offset)
	}

	query := fmt.Sprintf(
		"SELECT id, owner, doc, created_at, updated_at FROM %s %s %s %s",
		s.table, whereClause, orderClause, pageClause)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.table, err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		rec, err := scanRecordFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", s.table, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", s.table, err)
	}
	return records, nil
}

// Count returns the number of matching records.
func (s *Store) Count(ctx context.Context, f backend.Filter) (int64, error) {
	whereClause, args, _, err := s.buildWhere(f)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", s.table, whereClause)
	var total int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.table, err)
	}
	return total, nil
}

// Exists reports whether any record matches, without fetching it.
func (s *Store) Exists(ctx context.Context, f backend.Filter) (bool, error) {
	whereClause, args, _, err := s.buildWhere(f)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s %s)", s.table, whereClause)
	var exists bool
	if err := s.db.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check existence in %s: %w", s.table, err)
	}
	return exists, nil
}

// InsertOne persists a new record, assigning id and timestamps when absent.
func (s *Store) InsertOne(ctx context.Context, rec domain.Record) (domain.Record, error) {
	stored := rec.Clone()
	if stored.ID() == "" {
		stored[domain.FieldID] = uuid.NewString()
	}
	now := time.Now().UTC()
	stored[domain.FieldCreatedAt] = now
	stored[domain.FieldUpdatedAt] = now

	docJSON, err := json.Marshal(stored.Payload())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s document: %w", s.table, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`, s.table)

	var createdAt, updatedAt time.Time
	err = s.db.QueryRow(ctx, query,
		stored.ID(), stored.Owner(), docJSON, now, now,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", s.table, err)
	}

	stored[domain.FieldCreatedAt] = createdAt
	stored[domain.FieldUpdatedAt] = updatedAt
	return stored, nil
}

// InsertMany persists a batch of records with a single multi-row INSERT.
func (s *Store) InsertMany(ctx context.Context, recs []domain.Record) ([]domain.Record, error) {
	if len(recs) == 0 {
		return []domain.Record{}, nil
	}

	now := time.Now().UTC()
	stored := make([]domain.Record, 0, len(recs))
	var valueStrings []string
	var args []interface{}

	for i, rec := range recs {
		if rec == nil {
			return nil, domain.NewValidationError("payload", fmt.Sprintf("record at index %d is nil", i))
		}
		cp := rec.Clone()
		if cp.ID() == "" {
			cp[domain.FieldID] = uuid.NewString()
		}
		cp[domain.FieldCreatedAt] = now
		cp[domain.FieldUpdatedAt] = now

		docJSON, err := json.Marshal(cp.Payload())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s document: %w", s.table, err)
		}

		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			i*5+1, i*5+2, i*5+3, i*5+4, i*5+5))
		args = append(args, cp.ID(), cp.Owner(), docJSON, now, now)
		stored = append(stored, cp)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (id, owner, doc, created_at, updated_at) VALUES %s",
		s.table, strings.Join(valueStrings, ", "))

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to bulk insert into %s: %w", s.table, err)
	}
	return stored, nil
}

// UpdateOne merges patch into the first matching record via a JSONB merge
// and returns the updated form, or (nil, nil) when none matches.
func (s *Store) UpdateOne(ctx context.Context, f backend.Filter, patch domain.Record) (domain.Record, error) {
	whereClause, args, argIndex, err := s.buildWhere(f)
	if err != nil {
		return nil, err
	}

	patchJSON, err := json.Marshal(patch.Payload())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s patch: %w", s.table, err)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET doc = doc || $%d::jsonb, updated_at = $%d
		%s
		RETURNING id, owner, doc, created_at, updated_at`,
		s.table, argIndex, argIndex+1, whereClause)
	args = append(args, patchJSON, time.Now().UTC())

	rec, err := scanRecord(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update %s: %w", s.table, err)
	}
	return rec, nil
}

// DeleteOne removes the first matching record, reporting whether one was
// removed.
func (s *Store) DeleteOne(ctx context.Context, f backend.Filter) (bool, error) {
	whereClause, args, _, err := s.buildWhere(f)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf("DELETE FROM %s %s", s.table, whereClause)
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", s.table, err)
	}
	return tag.RowsAffected() > 0, nil
}

// recordScanDest holds the destination values for scanning a document row.
type recordScanDest struct {
	id        string
	owner     string
	docJSON   []byte
	createdAt time.Time
	updatedAt time.Time
}

// destinations returns the slice of pointers for Scan operations.
func (d *recordScanDest) destinations() []interface{} {
	return []interface{}{&d.id, &d.owner, &d.docJSON, &d.createdAt, &d.updatedAt}
}

// finalize unmarshals the JSONB document and reassembles the full record.
func (d *recordScanDest) finalize() (domain.Record, error) {
	rec := domain.Record{}
	if len(d.docJSON) > 0 {
		if err := json.Unmarshal(d.docJSON, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document: %w", err)
		}
	}
	rec[domain.FieldID] = d.id
	rec[domain.FieldOwner] = d.owner
	rec[domain.FieldCreatedAt] = d.createdAt
	rec[domain.FieldUpdatedAt] = d.updatedAt
	return rec, nil
}

// scanRecord scans a single row into a Record.
func scanRecord(row pgx.Row) (domain.Record, error) {
	var dest recordScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanRecordFromRows scans the current row from pgx.Rows into a Record.
func scanRecordFromRows(rows pgx.Rows) (domain.Record, error) {
	var dest recordScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
