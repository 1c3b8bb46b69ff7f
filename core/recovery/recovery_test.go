package recovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

func TestCreateBackupChecksum(t *testing.T) {
	manager := NewManager()

	code := "function route(msg) { return msg.channel }"
	first, err := manager.CreateBackup("mod-1", "src/router.js", code)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	second, err := manager.CreateBackup("mod-1", "src/router.js", code)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if first.Checksum != second.Checksum {
		t.Fatalf("checksum must be deterministic: %s vs %s", first.Checksum, second.Checksum)
	}
	changed, err := manager.CreateBackup("mod-1", "src/router.js", code+"!")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if changed.Checksum == first.Checksum {
		t.Fatalf("expected changed code to change checksum")
	}
	if first.BackupID == second.BackupID {
		t.Fatalf("expected unique backup ids")
	}
}

func TestRollbackMissingBackup(t *testing.T) {
	manager := NewManager()

	record, err := manager.Rollback(context.Background(), "mod-none", "bk-missing")
	if err == nil {
		t.Fatalf("expected rollback of missing backup to fail")
	}
	if !errors.Is(err, ErrNoBackup) {
		t.Fatalf("expected ErrNoBackup, got %v", err)
	}
	if record.Success {
		t.Fatalf("record must mark failure")
	}
	if !strings.Contains(record.FailureReason, "no backup found") {
		t.Fatalf("unexpected failure reason: %q", record.FailureReason)
	}
	records := manager.Records()
	if len(records) != 1 || records[0].Success {
		t.Fatalf("expected one failed record, got %#v", records)
	}
}

func TestRollbackMostRecentForModification(t *testing.T) {
	current := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var restored schemamod.Backup
	manager := NewManager(
		WithClock(func() time.Time { return current }),
		WithRestorer(RestorerFunc(func(_ context.Context, backup schemamod.Backup) error {
			restored = backup
			return nil
		})),
	)

	if _, err := manager.CreateBackup("mod-2", "a.js", "v1"); err != nil {
		t.Fatalf("create backup: %v", err)
	}
	current = current.Add(time.Hour)
	newest, err := manager.CreateBackup("mod-2", "a.js", "v2")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	record, err := manager.Rollback(context.Background(), "mod-2", "")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !record.Success {
		t.Fatalf("expected success, got %#v", record)
	}
	if restored.BackupID != newest.BackupID {
		t.Fatalf("expected most recent backup restored, got %s want %s", restored.BackupID, newest.BackupID)
	}
	if record.BackupID != newest.BackupID {
		t.Fatalf("record must carry the resolved backup id")
	}
}

func TestRollbackRestoreFailureRecorded(t *testing.T) {
	manager := NewManager(WithRestorer(RestorerFunc(func(context.Context, schemamod.Backup) error {
		return errors.New("target file locked")
	})))
	if _, err := manager.CreateBackup("mod-3", "b.js", "v1"); err != nil {
		t.Fatalf("create backup: %v", err)
	}

	record, err := manager.Rollback(context.Background(), "mod-3", "")
	if err == nil {
		t.Fatalf("expected restore failure to surface")
	}
	if record.Success || !strings.Contains(record.FailureReason, "target file locked") {
		t.Fatalf("unexpected record: %#v", record)
	}
}

func TestRollbackHungRestoreTimesOut(t *testing.T) {
	manager := NewManager(
		WithRestoreTimeout(20*time.Millisecond),
		WithRestorer(RestorerFunc(func(ctx context.Context, _ schemamod.Backup) error {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return ctx.Err()
		})),
	)
	if _, err := manager.CreateBackup("mod-4", "c.js", "v1"); err != nil {
		t.Fatalf("create backup: %v", err)
	}

	started := time.Now()
	record, err := manager.Rollback(context.Background(), "mod-4", "")
	if err == nil {
		t.Fatalf("expected timeout failure")
	}
	if record.Success || !strings.Contains(record.FailureReason, "timed out") {
		t.Fatalf("unexpected record: %#v", record)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("rollback blocked far past its timeout: %s", elapsed)
	}
}

func TestCleanupOldBackups(t *testing.T) {
	current := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	manager := NewManager(WithClock(func() time.Time { return current }))

	if _, err := manager.CreateBackup("mod-old", "a.js", "v1"); err != nil {
		t.Fatalf("create backup: %v", err)
	}
	current = current.Add(10 * 24 * time.Hour)
	fresh, err := manager.CreateBackup("mod-new", "b.js", "v2")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	deleted, failures := manager.CleanupOldBackups(DefaultRetention)
	if deleted != 1 || len(failures) != 0 {
		t.Fatalf("expected 1 deletion and no failures, got %d / %v", deleted, failures)
	}
	if _, err := manager.GetBackup(fresh.BackupID); err != nil {
		t.Fatalf("fresh backup must survive cleanup: %v", err)
	}
}

func TestRecordCapEvictsOldest(t *testing.T) {
	manager := NewManager(WithMaxRecords(5))
	for range 8 {
		_, _ = manager.Rollback(context.Background(), "mod-cap", "bk-missing")
	}
	records := manager.Records()
	if len(records) != 5 {
		t.Fatalf("expected record cap of 5, got %d", len(records))
	}
}

func TestFileRepositoryRoundTrip(t *testing.T) {
	repo, err := NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatalf("new file repository: %v", err)
	}
	manager := NewManager(WithRepository(repo))

	backup, err := manager.CreateBackup("mod-file", "d.js", "persisted")
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	loaded, err := manager.GetBackup(backup.BackupID)
	if err != nil {
		t.Fatalf("get backup: %v", err)
	}
	if loaded.Code != "persisted" || loaded.Checksum != backup.Checksum {
		t.Fatalf("round trip mismatch: %#v", loaded)
	}

	byMod, err := repo.ListByModification("mod-file")
	if err != nil || len(byMod) != 1 {
		t.Fatalf("expected one backup for modification, got %d err=%v", len(byMod), err)
	}
	if err := repo.Delete(backup.BackupID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := manager.GetBackup(backup.BackupID); !errors.Is(err, ErrNoBackup) {
		t.Fatalf("expected ErrNoBackup after delete, got %v", err)
	}
}
