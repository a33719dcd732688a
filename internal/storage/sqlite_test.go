package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	store := NewSQLiteStorage(":memory:")
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}
	return store
}

func TestSQLiteStorage_OpenClose(t *testing.T) {
	store := setupTestDB(t)

	if store.db == nil {
		t.Fatal("database should be open")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestSQLiteStorage_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywatch.db")
	store := NewSQLiteStorage(path)
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}

	var mode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected wal journal mode, got %s", mode)
	}
}

func TestSQLiteStorage_Migrate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tables := []string{"alarm_states", "project_checkpoints", "notification_history", "schema_migrations"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s should exist: %v", table, err)
		}
	}

	// Running again is a no-op.
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var version int
	if err := store.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		t.Fatalf("get version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("expected version %d, got %d", len(migrations), version)
	}
}

func TestStateRepository_GetPut(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.States()

	got, err := repo.Get(ctx, "shop", "ERROR")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil state, got %+v", got)
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	state := &models.AlarmState{
		ProjectID:      "shop",
		Key:            "ERROR",
		Status:         models.StatusAlarm,
		LastDetectedAt: ts,
		LastNotifiedAt: ts.Add(-time.Hour),
		DetectionCount: 42,
		CurrentStreak:  3,
		UpdatedAt:      ts,
	}
	if err := repo.Put(ctx, state); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err = repo.Get(ctx, "shop", "ERROR")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected state")
	}
	if got.Status != models.StatusAlarm {
		t.Errorf("expected status ALARM, got %s", got.Status)
	}
	if !got.LastDetectedAt.Equal(ts) {
		t.Errorf("expected last_detected_at %v, got %v", ts, got.LastDetectedAt)
	}
	if !got.LastNotifiedAt.Equal(ts.Add(-time.Hour)) {
		t.Errorf("expected last_notified_at %v, got %v", ts.Add(-time.Hour), got.LastNotifiedAt)
	}
	if got.DetectionCount != 42 || got.CurrentStreak != 3 {
		t.Errorf("unexpected counters: %+v", got)
	}

	// Upsert
	state.Status = models.StatusOK
	state.CurrentStreak = 0
	state.LastNotifiedAt = time.Time{}
	if err := repo.Put(ctx, state); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = repo.Get(ctx, "shop", "ERROR")
	if got.Status != models.StatusOK || got.CurrentStreak != 0 {
		t.Errorf("expected updated state, got %+v", got)
	}
	if !got.LastNotifiedAt.IsZero() {
		t.Errorf("expected zero last_notified_at, got %v", got.LastNotifiedAt)
	}
}

func TestStateRepository_ListDelete(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.States()

	for _, s := range []*models.AlarmState{
		{ProjectID: "shop", Key: "TIMEOUT", Status: models.StatusOK},
		{ProjectID: "shop", Key: "ERROR", Status: models.StatusAlarm},
		{ProjectID: "blog", Key: "ERROR", Status: models.StatusAlarm},
	} {
		if err := repo.Put(ctx, s); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	all, err := repo.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 states, got %d", len(all))
	}
	if all[0].ProjectID != "blog" || all[1].Key != "ERROR" || all[2].Key != "TIMEOUT" {
		t.Errorf("unexpected order: %s/%s %s/%s %s/%s",
			all[0].ProjectID, all[0].Key, all[1].ProjectID, all[1].Key, all[2].ProjectID, all[2].Key)
	}

	shop, err := repo.List(ctx, "shop")
	if err != nil {
		t.Fatalf("list shop: %v", err)
	}
	if len(shop) != 2 {
		t.Errorf("expected 2 shop states, got %d", len(shop))
	}

	if err := repo.Delete(ctx, "shop", "TIMEOUT"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, "shop", "TIMEOUT"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckpointRepository(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.Checkpoints()

	got, err := repo.Get(ctx, "shop")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero time, got %v", got)
	}

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Put(ctx, "shop", first); err != nil {
		t.Fatalf("put: %v", err)
	}
	second := first.Add(5 * time.Minute)
	if err := repo.Put(ctx, "shop", second); err != nil {
		t.Fatalf("put again: %v", err)
	}
	if err := repo.Put(ctx, "blog", first); err != nil {
		t.Fatalf("put blog: %v", err)
	}

	got, err = repo.Get(ctx, "shop")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Equal(second) {
		t.Errorf("expected %v, got %v", second, got)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || !all["blog"].Equal(first) {
		t.Errorf("unexpected checkpoints: %v", all)
	}
}

func TestHistoryRepository(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.History()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, p := range []string{"shop", "shop", "blog"} {
		rec := &models.NotificationRecord{
			ProjectID:   p,
			Key:         "ERROR",
			Action:      "NOTIFY",
			Severity:    models.SeverityCritical,
			Destination: "slack:#oncall",
			Subject:     "ERROR in " + p,
			MatchCount:  i + 1,
			SentAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		if rec.ID == "" {
			t.Error("expected generated id")
		}
	}

	records, total, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(records) != 3 {
		t.Fatalf("expected 3 records, got total=%d len=%d", total, len(records))
	}
	if records[0].ProjectID != "blog" {
		t.Errorf("expected newest first, got %s", records[0].ProjectID)
	}
	if records[0].Severity != models.SeverityCritical {
		t.Errorf("expected severity critical, got %s", records[0].Severity)
	}

	shop, total, err := repo.ListByProject(ctx, "shop", 1, 0)
	if err != nil {
		t.Fatalf("list by project: %v", err)
	}
	if total != 2 || len(shop) != 1 {
		t.Errorf("expected total=2 len=1, got total=%d len=%d", total, len(shop))
	}

	deleted, err := repo.DeleteBefore(ctx, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}
}
