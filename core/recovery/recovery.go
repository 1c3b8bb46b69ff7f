// Package recovery snapshots pre-modification state and restores it when a
// post-modification check fails critically. Every rollback attempt is
// recorded, successful or not.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	gateerrors "github.com/katbot/modgate/core/errors"
	"github.com/katbot/modgate/core/jcs"
	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

const (
	DefaultRetention      = 7 * 24 * time.Hour
	DefaultRestoreTimeout = 30 * time.Second
	DefaultMaxRecords     = 1000
)

// ErrNoBackup is returned when rollback cannot resolve a backup.
var ErrNoBackup = fmt.Errorf("no backup found")

// Restorer applies a backup's code back to its target. The manager guards
// the call with a timeout; it never retries, that policy belongs to the
// caller.
type Restorer interface {
	Restore(ctx context.Context, backup schemamod.Backup) error
}

// RestorerFunc adapts a function to Restorer.
type RestorerFunc func(ctx context.Context, backup schemamod.Backup) error

func (f RestorerFunc) Restore(ctx context.Context, backup schemamod.Backup) error {
	return f(ctx, backup)
}

type noopRestorer struct{}

func (noopRestorer) Restore(context.Context, schemamod.Backup) error { return nil }

// Manager owns the backup store and the rollback audit log.
type Manager struct {
	mu             sync.Mutex
	repo           Repository
	restorer       Restorer
	logger         *zap.Logger
	now            func() time.Time
	restoreTimeout time.Duration
	maxRecords     int
	records        []schemamod.RollbackRecord
}

// Option adjusts manager construction.
type Option func(*Manager)

func WithRepository(repo Repository) Option {
	return func(m *Manager) { m.repo = repo }
}

func WithRestorer(restorer Restorer) Option {
	return func(m *Manager) { m.restorer = restorer }
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithRestoreTimeout(timeout time.Duration) Option {
	return func(m *Manager) { m.restoreTimeout = timeout }
}

func WithMaxRecords(max int) Option {
	return func(m *Manager) { m.maxRecords = max }
}

func NewManager(opts ...Option) *Manager {
	manager := &Manager{
		repo:           NewMemoryRepository(),
		restorer:       noopRestorer{},
		logger:         zap.NewNop(),
		now:            time.Now,
		restoreTimeout: DefaultRestoreTimeout,
		maxRecords:     DefaultMaxRecords,
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// CreateBackup snapshots code for a modification before it is applied. The
// checksum is a sha256 digest of the code: deterministic, and any
// single-character change produces a different value.
func (m *Manager) CreateBackup(modificationID, target, code string) (schemamod.Backup, error) {
	if modificationID == "" {
		return schemamod.Backup{}, fmt.Errorf("modification id is required")
	}
	backup := schemamod.Backup{
		SchemaID:       schemamod.BackupSchemaID,
		SchemaVersion:  schemamod.SchemaVersionV1,
		CreatedAt:      m.now().UTC(),
		BackupID:       uuid.NewString(),
		ModificationID: modificationID,
		Target:         target,
		Code:           code,
		Checksum:       jcs.ChecksumString(code),
	}
	if err := m.repo.Put(backup); err != nil {
		return schemamod.Backup{}, fmt.Errorf("store backup: %w", err)
	}
	m.logger.Debug("backup created",
		zap.String("backup_id", backup.BackupID),
		zap.String("modification_id", modificationID),
		zap.String("target", target))
	return backup, nil
}

// GetBackup looks a backup up by id.
func (m *Manager) GetBackup(backupID string) (schemamod.Backup, error) {
	backup, found, err := m.repo.Get(backupID)
	if err != nil {
		return schemamod.Backup{}, fmt.Errorf("load backup: %w", err)
	}
	if !found {
		return schemamod.Backup{}, fmt.Errorf("%w: %s", ErrNoBackup, backupID)
	}
	return backup, nil
}

// Rollback restores the backup identified by backupID, or the most recent
// backup for the modification when backupID is empty. A missing backup is a
// hard failure, never a silent no-op, and every attempt appends a
// RollbackRecord regardless of outcome.
func (m *Manager) Rollback(ctx context.Context, modificationID, backupID string) (schemamod.RollbackRecord, error) {
	started := m.now()

	backup, resolveErr := m.resolveBackup(modificationID, backupID)
	if resolveErr != nil {
		record := m.appendRecord(modificationID, backupID, started, false, resolveErr.Error())
		return record, gateerrors.Wrap(resolveErr, gateerrors.CategoryBackupMissing,
			"rollback_backup_missing", "create a backup before applying the modification", false)
	}

	restoreCtx, cancel := context.WithTimeout(ctx, m.restoreTimeout)
	defer cancel()
	restoreErr := m.restoreWithGuard(restoreCtx, backup)

	if restoreErr != nil {
		record := m.appendRecord(modificationID, backup.BackupID, started, false, restoreErr.Error())
		m.logger.Warn("rollback failed",
			zap.String("modification_id", modificationID),
			zap.String("backup_id", backup.BackupID),
			zap.Error(restoreErr))
		return record, gateerrors.Wrap(restoreErr, gateerrors.CategoryRestoreFailure,
			"rollback_restore_failed", "the restore target may be unavailable; retry per caller policy", true)
	}

	record := m.appendRecord(modificationID, backup.BackupID, started, true, "")
	m.logger.Info("rollback completed",
		zap.String("modification_id", modificationID),
		zap.String("backup_id", backup.BackupID))
	return record, nil
}

func (m *Manager) resolveBackup(modificationID, backupID string) (schemamod.Backup, error) {
	if backupID != "" {
		backup, found, err := m.repo.Get(backupID)
		if err != nil {
			return schemamod.Backup{}, fmt.Errorf("load backup %s: %w", backupID, err)
		}
		if !found {
			return schemamod.Backup{}, fmt.Errorf("%w: %s", ErrNoBackup, backupID)
		}
		return backup, nil
	}
	backups, err := m.repo.ListByModification(modificationID)
	if err != nil {
		return schemamod.Backup{}, fmt.Errorf("list backups for %s: %w", modificationID, err)
	}
	if len(backups) == 0 {
		return schemamod.Backup{}, fmt.Errorf("%w for modification %s", ErrNoBackup, modificationID)
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups[0], nil
}

// restoreWithGuard races the restorer against the restore timeout so a hung
// restore cannot block the rest of the system.
func (m *Manager) restoreWithGuard(ctx context.Context, backup schemamod.Backup) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("restorer panicked: %v", r)
			}
		}()
		done <- m.restorer.Restore(ctx, backup)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("restore timed out after %s", m.restoreTimeout)
	}
}

func (m *Manager) appendRecord(modificationID, backupID string, started time.Time, success bool, failureReason string) schemamod.RollbackRecord {
	record := schemamod.RollbackRecord{
		SchemaID:       schemamod.RollbackSchemaID,
		SchemaVersion:  schemamod.SchemaVersionV1,
		CreatedAt:      m.now().UTC(),
		RollbackID:     uuid.NewString(),
		ModificationID: modificationID,
		BackupID:       backupID,
		Success:        success,
		FailureReason:  failureReason,
		DurationMS:     float64(m.now().Sub(started).Microseconds()) / 1000,
	}
	m.mu.Lock()
	m.records = append(m.records, record)
	if m.maxRecords > 0 && len(m.records) > m.maxRecords {
		m.records = m.records[len(m.records)-m.maxRecords:]
	}
	m.mu.Unlock()
	return record
}

// Records returns a copy of the rollback audit log, oldest first.
func (m *Manager) Records() []schemamod.RollbackRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemamod.RollbackRecord, len(m.records))
	copy(out, m.records)
	return out
}

// CleanupOldBackups deletes backups older than maxAge. Partial failure does
// not abort the sweep: the count of deletions and every per-item error are
// both returned.
func (m *Manager) CleanupOldBackups(maxAge time.Duration) (int, []string) {
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	cutoff := m.now().Add(-maxAge)

	backups, err := m.repo.List()
	if err != nil {
		return 0, []string{fmt.Sprintf("list backups: %v", err)}
	}
	var deleted int
	var failures []string
	for _, backup := range backups {
		if !backup.CreatedAt.Before(cutoff) {
			continue
		}
		if err := m.repo.Delete(backup.BackupID); err != nil {
			failures = append(failures, fmt.Sprintf("delete %s: %v", backup.BackupID, err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		m.logger.Info("backup cleanup swept",
			zap.Int("deleted", deleted),
			zap.Int("failures", len(failures)))
	}
	return deleted, failures
}
