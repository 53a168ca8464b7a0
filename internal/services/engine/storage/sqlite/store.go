package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/torquehq/engine/internal/platform/storage/sqlitemigrate"
	"github.com/torquehq/engine/internal/services/engine/storage"
	"github.com/torquehq/engine/internal/services/engine/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for the event and status ledgers.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens an engine SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := ensureForeignKeysEnabled(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.Apply(s.sqlDB, migrations.FS)
}

func ensureForeignKeysEnabled(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("sqlite db is required")
	}
	var enabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("check sqlite foreign key pragma: %w", err)
	}
	if enabled != 1 {
		return fmt.Errorf("sqlite foreign keys are disabled")
	}
	return nil
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner func(dest ...any) error

// EnsureEventAssociation returns the event association row for one parent,
// creating it when absent. Exactly one row exists per (kind, parent).
func (s *Store) EnsureEventAssociation(ctx context.Context, kind string, parentID int64) (storage.AssociationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.AssociationRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AssociationRecord{}, fmt.Errorf("storage is not configured")
	}
	return ensureAssociationExec(ctx, s.sqlDB, "activity_event_associations", kind, parentID)
}

// EnsureStatusAssociation returns the status association row for one parent,
// creating it when absent.
func (s *Store) EnsureStatusAssociation(ctx context.Context, kind string, parentID int64) (storage.AssociationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.AssociationRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AssociationRecord{}, fmt.Errorf("storage is not configured")
	}
	return ensureAssociationExec(ctx, s.sqlDB, "work_status_associations", kind, parentID)
}

func ensureAssociationExec(ctx context.Context, q sqlQuerier, table string, kind string, parentID int64) (storage.AssociationRecord, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return storage.AssociationRecord{}, fmt.Errorf("association kind is required")
	}
	if parentID <= 0 {
		return storage.AssociationRecord{}, fmt.Errorf("parent id is required")
	}

	// INSERT OR IGNORE plus re-read keeps the exactly-one guarantee under
	// the UNIQUE(kind, parent_id) index.
	if _, err := q.ExecContext(ctx,
		"INSERT OR IGNORE INTO "+table+" (kind, parent_id) VALUES (?, ?)",
		kind, parentID,
	); err != nil {
		return storage.AssociationRecord{}, fmt.Errorf("ensure association: %w", err)
	}

	row := q.QueryRowContext(ctx,
		"SELECT id, kind, parent_id FROM "+table+" WHERE kind = ? AND parent_id = ?",
		kind, parentID,
	)
	var record storage.AssociationRecord
	if err := row.Scan(&record.ID, &record.Kind, &record.ParentID); err != nil {
		return storage.AssociationRecord{}, fmt.Errorf("load association: %w", err)
	}
	return record, nil
}

// RecordEvent inserts one immutable activity event row. When a parent is
// given the event association is created lazily in the same transaction.
func (s *Store) RecordEvent(ctx context.Context, params storage.RecordEventParams) (storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EventRecord{}, fmt.Errorf("storage is not configured")
	}
	params.Target = strings.TrimSpace(params.Target)
	params.Action = strings.TrimSpace(params.Action)
	if params.Target == "" {
		return storage.EventRecord{}, fmt.Errorf("event target is required")
	}
	if params.Action == "" {
		return storage.EventRecord{}, fmt.Errorf("event action is required")
	}
	if strings.TrimSpace(params.DataJSON) == "" {
		params.DataJSON = "{}"
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.EventRecord{}, fmt.Errorf("begin event write: %w", err)
	}
	defer tx.Rollback()

	var associationID *int64
	if strings.TrimSpace(params.ParentKind) != "" && params.ParentID > 0 {
		association, err := ensureAssociationExec(ctx, tx, "activity_event_associations", params.ParentKind, params.ParentID)
		if err != nil {
			return storage.EventRecord{}, err
		}
		associationID = &association.ID
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	result, err := tx.ExecContext(ctx, `
INSERT INTO activity_events (created, modified, target, action, data, association_id, actor_kind, actor_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		toMillis(now),
		toMillis(now),
		params.Target,
		params.Action,
		params.DataJSON,
		nullableID(associationID),
		nullableString(params.ActorKind),
		nullableID(params.ActorID),
	)
	if err != nil {
		return storage.EventRecord{}, fmt.Errorf("record event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storage.EventRecord{}, fmt.Errorf("record event id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.EventRecord{}, fmt.Errorf("commit event write: %w", err)
	}

	record := storage.EventRecord{
		ID:            id,
		Created:       now,
		Modified:      now,
		Target:        params.Target,
		Action:        params.Action,
		DataJSON:      params.DataJSON,
		AssociationID: associationID,
		ActorKind:     strings.TrimSpace(params.ActorKind),
		ActorID:       params.ActorID,
	}
	if associationID != nil {
		record.ParentKind = strings.TrimSpace(params.ParentKind)
		record.ParentID = params.ParentID
	}
	return record, nil
}

// GetEvent loads one activity event by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EventRecord{}, fmt.Errorf("storage is not configured")
	}
	if id <= 0 {
		return storage.EventRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT e.id, e.created, e.modified, e.target, e.action, e.data, e.association_id,
       a.kind, a.parent_id, e.actor_kind, e.actor_id
FROM activity_events e
LEFT JOIN activity_event_associations a ON a.id = e.association_id
WHERE e.id = ?
`, id)
	record, err := scanEvent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.EventRecord{}, storage.ErrNotFound
		}
		return storage.EventRecord{}, fmt.Errorf("get event: %w", err)
	}
	return record, nil
}

// ListEventsByActor lists a parent's events recorded by one actor, oldest
// first. Used by duplicate-event detection.
func (s *Store) ListEventsByActor(ctx context.Context, kind string, parentID int64, actorKind string, actorID int64) ([]storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	kind = strings.TrimSpace(kind)
	actorKind = strings.TrimSpace(actorKind)
	if kind == "" {
		return nil, fmt.Errorf("association kind is required")
	}
	if parentID <= 0 {
		return nil, fmt.Errorf("parent id is required")
	}
	if actorKind == "" || actorID <= 0 {
		return nil, fmt.Errorf("actor reference is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT e.id, e.created, e.modified, e.target, e.action, e.data, e.association_id,
       a.kind, a.parent_id, e.actor_kind, e.actor_id
FROM activity_events e
JOIN activity_event_associations a ON a.id = e.association_id
WHERE a.kind = ? AND a.parent_id = ? AND e.actor_kind = ? AND e.actor_id = ?
ORDER BY e.created ASC, e.id ASC
`, kind, parentID, actorKind, actorID)
	if err != nil {
		return nil, fmt.Errorf("list events by actor: %w", err)
	}
	defer rows.Close()

	var results []storage.EventRecord
	for rows.Next() {
		record, scanErr := scanEvent(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan event row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return results, nil
}

// AppendStatus inserts one immutable status row for a parent inside a single
// transaction, creating the status association lazily.
func (s *Store) AppendStatus(ctx context.Context, params storage.AppendStatusParams) (storage.StatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.StatusRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.StatusRecord{}, fmt.Errorf("storage is not configured")
	}
	params.Value = strings.TrimSpace(params.Value)
	if params.Value == "" {
		return storage.StatusRecord{}, fmt.Errorf("status value is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.StatusRecord{}, fmt.Errorf("begin status write: %w", err)
	}
	defer tx.Rollback()

	association, err := ensureAssociationExec(ctx, tx, "work_status_associations", params.Kind, params.ParentID)
	if err != nil {
		return storage.StatusRecord{}, err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	result, err := tx.ExecContext(ctx, `
INSERT INTO work_statuses (created, value, association_id, event_id)
VALUES (?, ?, ?, ?)
`,
		toMillis(now),
		params.Value,
		association.ID,
		nullableID(params.EventID),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.StatusRecord{}, storage.ErrConflict
		}
		return storage.StatusRecord{}, fmt.Errorf("append status: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storage.StatusRecord{}, fmt.Errorf("append status id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.StatusRecord{}, fmt.Errorf("commit status write: %w", err)
	}

	return storage.StatusRecord{
		ID:            id,
		Created:       now,
		Value:         params.Value,
		AssociationID: association.ID,
		EventID:       params.EventID,
	}, nil
}

// LatestStatus returns the most recent status row for one parent, optionally
// restricted to rows with a matching value. Ties on created break on the
// highest id.
func (s *Store) LatestStatus(ctx context.Context, kind string, parentID int64, value string) (storage.StatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.StatusRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.StatusRecord{}, fmt.Errorf("storage is not configured")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return storage.StatusRecord{}, fmt.Errorf("association kind is required")
	}
	if parentID <= 0 {
		return storage.StatusRecord{}, fmt.Errorf("parent id is required")
	}

	query := `
SELECT w.id, w.created, w.value, w.association_id, w.event_id
FROM work_statuses w
JOIN work_status_associations a ON a.id = w.association_id
WHERE a.kind = ? AND a.parent_id = ?
`
	args := []any{kind, parentID}
	if strings.TrimSpace(value) != "" {
		query += "  AND w.value = ?\n"
		args = append(args, strings.TrimSpace(value))
	}
	query += "ORDER BY w.created DESC, w.id DESC\nLIMIT 1\n"

	row := s.sqlDB.QueryRowContext(ctx, query, args...)
	record, err := scanStatus(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.StatusRecord{}, storage.ErrNotFound
		}
		return storage.StatusRecord{}, fmt.Errorf("latest status: %w", err)
	}
	return record, nil
}

// ListStatuses lists a parent's full status history, oldest first.
func (s *Store) ListStatuses(ctx context.Context, kind string, parentID int64) ([]storage.StatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, fmt.Errorf("association kind is required")
	}
	if parentID <= 0 {
		return nil, fmt.Errorf("parent id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT w.id, w.created, w.value, w.association_id, w.event_id
FROM work_statuses w
JOIN work_status_associations a ON a.id = w.association_id
WHERE a.kind = ? AND a.parent_id = ?
ORDER BY w.created ASC, w.id ASC
`, kind, parentID)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	var results []storage.StatusRecord
	for rows.Next() {
		record, scanErr := scanStatus(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan status row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status rows: %w", err)
	}
	return results, nil
}

// VerifyActorColumns confirms the pluggable actor reference columns exist on
// the activity event table. Callers run this before accepting any dispatch.
func (s *Store) VerifyActorColumns(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, "PRAGMA table_info(activity_events)")
	if err != nil {
		return fmt.Errorf("inspect activity_events schema: %w", err)
	}
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name       string
			columnType string
			notNull    int
			defaultVal sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &columnType, &notNull, &defaultVal, &primaryKey); err != nil {
			return fmt.Errorf("scan activity_events schema row: %w", err)
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate activity_events schema rows: %w", err)
	}

	for _, column := range []string{"actor_kind", "actor_id"} {
		if !found[column] {
			return fmt.Errorf("activity_events is missing actor column %q", column)
		}
	}
	return nil
}

func scanEvent(scan scanner) (storage.EventRecord, error) {
	var record storage.EventRecord
	var created int64
	var modified int64
	var associationID sql.NullInt64
	var parentKind sql.NullString
	var parentID sql.NullInt64
	var actorKind sql.NullString
	var actorID sql.NullInt64
	if err := scan(
		&record.ID,
		&created,
		&modified,
		&record.Target,
		&record.Action,
		&record.DataJSON,
		&associationID,
		&parentKind,
		&parentID,
		&actorKind,
		&actorID,
	); err != nil {
		return storage.EventRecord{}, err
	}
	record.Created = fromMillis(created)
	record.Modified = fromMillis(modified)
	if associationID.Valid {
		value := associationID.Int64
		record.AssociationID = &value
	}
	if parentKind.Valid {
		record.ParentKind = parentKind.String
	}
	if parentID.Valid {
		record.ParentID = parentID.Int64
	}
	if actorKind.Valid {
		record.ActorKind = actorKind.String
	}
	if actorID.Valid {
		value := actorID.Int64
		record.ActorID = &value
	}
	return record, nil
}

func scanStatus(scan scanner) (storage.StatusRecord, error) {
	var record storage.StatusRecord
	var created int64
	var eventID sql.NullInt64
	if err := scan(
		&record.ID,
		&created,
		&record.Value,
		&record.AssociationID,
		&eventID,
	); err != nil {
		return storage.StatusRecord{}, err
	}
	record.Created = fromMillis(created)
	if eventID.Valid {
		value := eventID.Int64
		record.EventID = &value
	}
	return record, nil
}

func nullableID(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}

func nullableString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint failed")
}
