package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreSaveLoadRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	run := testRun("https://arxiv.org/abs/2401.00001")
	if err := run.Advance(core.PhaseExtracting); err != nil {
		t.Fatal(err)
	}
	run.Error = ""
	if err := store.Save(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx, run.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("loaded nil run")
	}
	if loaded.ID != run.ID || loaded.Source != run.Source || loaded.Phase != core.PhaseExtracting {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if loaded.Payload.GetString(core.KeyTitle) != "A Paper" {
		t.Fatal("payload lost in round trip")
	}
	if loaded.UpdatedAt.IsZero() {
		t.Fatal("updated_at not restored")
	}
}

func TestSQLiteStoreLoadMissingRun(t *testing.T) {
	store := newTestSQLiteStore(t)
	run, err := store.Load(context.Background(), core.RunID("doesnotexist0000"))
	if err != nil {
		t.Fatalf("missing run must not error: %v", err)
	}
	if run != nil {
		t.Fatal("expected nil run for missing ID")
	}
}

func TestSQLiteStoreUpsertReplaces(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	run := testRun("https://arxiv.org/abs/2401.00001")
	if err := store.Save(ctx, run); err != nil {
		t.Fatal(err)
	}
	run.Payload[core.KeyTitle] = "Retitled"
	run.Error = "transient"
	if err := store.Save(ctx, run); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Payload.GetString(core.KeyTitle) != "Retitled" || loaded.Error != "transient" {
		t.Fatalf("upsert did not replace: %+v", loaded)
	}

	summaries, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("upsert created a duplicate row, count %d", len(summaries))
	}
}

func TestSQLiteStoreListNewestFirst(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	first := testRun("https://arxiv.org/abs/2401.00001")
	if err := store.Save(ctx, first); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	second := testRun("https://arxiv.org/abs/2402.00002")
	if err := store.Save(ctx, second); err != nil {
		t.Fatal(err)
	}

	summaries, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(summaries))
	}
	if summaries[0].ID != second.ID {
		t.Fatal("list not sorted newest first")
	}
}

func TestSQLiteStoreDetectsPayloadTampering(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	run := testRun("https://arxiv.org/abs/2401.00001")
	if err := store.Save(ctx, run); err != nil {
		t.Fatal(err)
	}

	if _, err := store.db.Exec(
		`UPDATE runs SET payload = ? WHERE run_id = ?`,
		`{"title":"tampered"}`, string(run.ID)); err != nil {
		t.Fatal(err)
	}

	_, err := store.Load(ctx, run.ID)
	if !core.IsCategory(err, core.ErrCatPersistence) {
		t.Fatalf("expected persistence error for tampered payload, got %v", err)
	}
}

func TestSQLiteStoreReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	run := testRun("https://arxiv.org/abs/2401.00001")
	if err := store.Save(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || loaded.Payload.GetString(core.KeyTitle) != "A Paper" {
		t.Fatal("data lost across reopen")
	}
}
