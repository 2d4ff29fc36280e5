package reindexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/appbaseio/upgrade-assistant/errors"
	"github.com/appbaseio/upgrade-assistant/model/reindex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reindex_operations (
	id         TEXT PRIMARY KEY,
	index_name TEXT NOT NULL,
	status     TEXT NOT NULL,
	doc        TEXT NOT NULL,
	version    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS reindex_operations_index_name ON reindex_operations(index_name);
CREATE INDEX IF NOT EXISTS reindex_operations_status ON reindex_operations(status);

CREATE TABLE IF NOT EXISTS index_groups (
	grp     TEXT PRIMARY KEY,
	doc     TEXT NOT NULL,
	version INTEGER NOT NULL
);
`

// sqliteStore keeps operations in a local SQLite database. Every row carries
// an integer version that is compared and bumped on update.
type sqliteStore struct {
	mu sync.Mutex
	db *sql.DB
}

func newSQLiteStore(path string) (*sqliteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Println(logTag, ": using sqlite operation store at", path)
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) close() error {
	return s.db.Close()
}

func (s *sqliteStore) create(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := op.Clone()
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	doc, err := json.Marshal(created)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reindex_operations (id, index_name, status, doc, version) VALUES (?, ?, ?, ?, 1)`,
		created.ID, created.IndexName, created.Status.String(), string(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to insert reindex operation: %w", err)
	}
	created.Version = "1"
	return created, nil
}

func (s *sqliteStore) get(ctx context.Context, id string) (*reindex.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT doc, version FROM reindex_operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("reindex operation %s not found", id)
	}
	return op, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (*reindex.Operation, error) {
	var (
		doc     string
		version int64
	)
	if err := row.Scan(&doc, &version); err != nil {
		return nil, err
	}
	var op reindex.Operation
	if err := json.Unmarshal([]byte(doc), &op); err != nil {
		return nil, err
	}
	op.Version = strconv.FormatInt(version, 10)
	return &op, nil
}

func (s *sqliteStore) update(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := strconv.ParseInt(op.Version, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid document version %q", op.Version)
	}
	doc, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE reindex_operations SET index_name = ?, status = ?, doc = ?, version = version + 1 WHERE id = ? AND version = ?`,
		op.IndexName, op.Status.String(), string(doc), op.ID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update reindex operation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, errors.NewConflictError("reindex operation %s was modified concurrently", op.ID)
	}
	updated := op.Clone()
	updated.Version = strconv.FormatInt(version+1, 10)
	return updated, nil
}

func (s *sqliteStore) delete(ctx context.Context, op *reindex.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM reindex_operations WHERE id = ?`, op.ID)
	return err
}

func (s *sqliteStore) query(ctx context.Context, where string, arg interface{}) ([]*reindex.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT doc, version FROM reindex_operations WHERE `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := []*reindex.Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *sqliteStore) findByIndexName(ctx context.Context, indexName string) ([]*reindex.Operation, error) {
	return s.query(ctx, "index_name = ?", indexName)
}

func (s *sqliteStore) findAllByStatus(ctx context.Context, status reindex.Status) ([]*reindex.Operation, error) {
	return s.query(ctx, "status = ?", status.String())
}

func (s *sqliteStore) indexGroup(ctx context.Context, group reindex.IndexGroup) (*reindex.IndexGroupCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter := &reindex.IndexGroupCounter{Group: group}
	doc, err := json.Marshal(counter)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO index_groups (grp, doc, version) VALUES (?, ?, 1)`,
		string(group), string(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to create index group %s: %w", group, err)
	}

	var (
		raw     string
		version int64
	)
	row := s.db.QueryRowContext(ctx, `SELECT doc, version FROM index_groups WHERE grp = ?`, string(group))
	if err := row.Scan(&raw, &version); err != nil {
		return nil, err
	}
	stored := &reindex.IndexGroupCounter{}
	if err := json.Unmarshal([]byte(raw), stored); err != nil {
		return nil, err
	}
	stored.Version = strconv.FormatInt(version, 10)
	return stored, nil
}

func (s *sqliteStore) updateIndexGroup(ctx context.Context, counter *reindex.IndexGroupCounter) (*reindex.IndexGroupCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := strconv.ParseInt(counter.Version, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid document version %q", counter.Version)
	}
	doc, err := json.Marshal(counter)
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE index_groups SET doc = ?, version = version + 1 WHERE grp = ? AND version = ?`,
		string(doc), string(counter.Group), version)
	if err != nil {
		return nil, fmt.Errorf("failed to update index group %s: %w", counter.Group, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, errors.NewConflictError("index group %s was modified concurrently", counter.Group)
	}
	updated := counter.Clone()
	updated.Version = strconv.FormatInt(version+1, 10)
	return updated, nil
}
