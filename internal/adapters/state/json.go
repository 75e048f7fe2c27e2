// Package state provides durable run persistence behind core.RunStore:
// a JSON file-per-run backend and a SQLite backend. Both write
// atomically so a crash mid-save never leaves a half-written run.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
)

// JSONStore persists each run as <dir>/<run_id>.json with a checksummed
// envelope and a .bak sibling of the previous version.
type JSONStore struct {
	dir string
}

// NewJSONStore creates a JSON store rooted at dir.
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.ErrPersistence(core.CodeSaveFailed, "creating state directory").WithCause(err)
	}
	return &JSONStore{dir: dir}, nil
}

// runEnvelope wraps a run with integrity metadata.
type runEnvelope struct {
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
	Run       *core.Run `json:"run"`
}

// Save persists the run atomically, keeping the previous version as a
// backup.
func (s *JSONStore) Save(_ context.Context, run *core.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}

	path := s.runPath(run.ID)
	if _, err := os.Stat(path); err == nil {
		if err := s.backup(path); err != nil {
			return core.ErrPersistence(core.CodeSaveFailed, "creating backup").WithCause(err)
		}
	}

	run.UpdatedAt = time.Now()

	runBytes, err := json.Marshal(run)
	if err != nil {
		return core.ErrPersistence(core.CodeSaveFailed, "marshaling run").WithCause(err)
	}
	sum := sha256.Sum256(runBytes)

	envelope := runEnvelope{
		Version:   1,
		Checksum:  hex.EncodeToString(sum[:]),
		UpdatedAt: run.UpdatedAt,
		Run:       run,
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return core.ErrPersistence(core.CodeSaveFailed, "marshaling envelope").WithCause(err)
	}

	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return core.ErrPersistence(core.CodeSaveFailed, "writing run file").WithCause(err)
	}
	return nil
}

// Load retrieves a run by ID, falling back to the backup when the
// primary file fails its checksum. Returns nil, nil when no file
// exists.
func (s *JSONStore) Load(_ context.Context, id core.RunID) (*core.Run, error) {
	path := s.runPath(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.ErrPersistence(core.CodeLoadFailed, "stat run file").WithCause(err)
	}

	run, err := s.loadFromPath(path)
	if err != nil {
		backup, backupErr := s.loadFromPath(path + ".bak")
		if backupErr != nil {
			return nil, err
		}
		return backup, nil
	}
	return run, nil
}

// List returns summaries of all persisted runs, newest first.
func (s *JSONStore) List(_ context.Context) ([]core.RunSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, core.ErrPersistence(core.CodeLoadFailed, "reading state directory").WithCause(err)
	}

	summaries := make([]core.RunSummary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		run, err := s.loadFromPath(filepath.Join(s.dir, name))
		if err != nil {
			// A single corrupted file must not hide the rest.
			continue
		}
		summaries = append(summaries, run.Summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (s *JSONStore) loadFromPath(path string) (*core.Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.ErrPersistence(core.CodeLoadFailed, "reading run file").WithCause(err)
	}

	var envelope runEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, core.ErrPersistence(core.CodeStateCorrupted, "unmarshaling envelope").WithCause(err)
	}
	if envelope.Run == nil {
		return nil, core.ErrPersistence(core.CodeStateCorrupted, "envelope has no run")
	}

	runBytes, err := json.Marshal(envelope.Run)
	if err != nil {
		return nil, core.ErrPersistence(core.CodeLoadFailed, "marshaling run for checksum").WithCause(err)
	}
	sum := sha256.Sum256(runBytes)
	if hex.EncodeToString(sum[:]) != envelope.Checksum {
		return nil, core.ErrPersistence(core.CodeStateCorrupted,
			fmt.Sprintf("checksum mismatch for %s", filepath.Base(path)))
	}

	return envelope.Run, nil
}

func (s *JSONStore) backup(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return atomicWriteFile(path+".bak", data, 0o644)
}

func (s *JSONStore) runPath(id core.RunID) string {
	return filepath.Join(s.dir, string(id)+".json")
}

var _ core.RunStore = (*JSONStore)(nil)
