package state

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore implements core.RunStore with SQLite storage. One row
// per run; the payload travels as a JSON column with a checksum so
// out-of-band edits are detected on load.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the run database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, core.ErrPersistence(core.CodeSaveFailed, "creating state directory").WithCause(err)
	}

	// WAL keeps the webhook handlers and the status endpoint from
	// blocking each other.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, core.ErrPersistence(core.CodeLoadFailed, "opening database").WithCause(err)
	}

	s := &SQLiteStore{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table does not exist yet.
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return core.ErrPersistence(core.CodeSaveFailed, "applying migration v1").WithCause(err)
		}
	}
	return nil
}

// Save upserts the run row. The payload checksum is computed over the
// serialized payload only; phase and error are plain columns.
func (s *SQLiteStore) Save(ctx context.Context, run *core.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run.UpdatedAt = time.Now()

	payloadJSON, err := json.Marshal(run.Payload)
	if err != nil {
		return core.ErrPersistence(core.CodeSaveFailed, "marshaling payload").WithCause(err)
	}
	sum := sha256.Sum256(payloadJSON)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, source, phase, payload, error, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			source = excluded.source,
			phase = excluded.phase,
			payload = excluded.payload,
			error = excluded.error,
			checksum = excluded.checksum,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		string(run.ID), run.Source, string(run.Phase), string(payloadJSON), run.Error,
		hex.EncodeToString(sum[:]),
		run.CreatedAt.UTC().Format(time.RFC3339Nano),
		run.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return core.ErrPersistence(core.CodeSaveFailed, "upserting run").WithCause(err)
	}
	return nil
}

// Load retrieves a run by ID. Returns nil, nil when the row does not
// exist.
func (s *SQLiteStore) Load(ctx context.Context, id core.RunID) (*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, source, phase, payload, error, checksum, created_at, updated_at
		FROM runs WHERE run_id = ?`, string(id))

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// List returns summaries of all runs, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]core.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, source, phase, payload, error, checksum, created_at, updated_at
		FROM runs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, core.ErrPersistence(core.CodeLoadFailed, "querying runs").WithCause(err)
	}
	defer rows.Close()

	var summaries []core.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, run.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrPersistence(core.CodeLoadFailed, "iterating runs").WithCause(err)
	}
	return summaries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.Run, error) {
	var (
		id, source, phase, payloadJSON, runErr, checksum string
		createdAt, updatedAt                             string
	)
	if err := row.Scan(&id, &source, &phase, &payloadJSON, &runErr, &checksum, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, core.ErrPersistence(core.CodeLoadFailed, "scanning run row").WithCause(err)
	}

	sum := sha256.Sum256([]byte(payloadJSON))
	if hex.EncodeToString(sum[:]) != checksum {
		return nil, core.ErrPersistence(core.CodeStateCorrupted,
			fmt.Sprintf("payload checksum mismatch for run %s", id))
	}

	var payload core.Payload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, core.ErrPersistence(core.CodeStateCorrupted, "unmarshaling payload").WithCause(err)
	}
	if payload == nil {
		payload = make(core.Payload)
	}

	run := &core.Run{
		ID:      core.RunID(id),
		Source:  source,
		Phase:   core.Phase(phase),
		Payload: payload,
		Error:   runErr,
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		run.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		run.UpdatedAt = t
	}
	return run, nil
}

var _ core.RunStore = (*SQLiteStore)(nil)
