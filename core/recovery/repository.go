package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/katbot/modgate/core/fsx"
	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

// Repository is the narrow store the manager reads backups through.
type Repository interface {
	Get(backupID string) (schemamod.Backup, bool, error)
	Put(backup schemamod.Backup) error
	Delete(backupID string) error
	List() ([]schemamod.Backup, error)
	ListByModification(modificationID string) ([]schemamod.Backup, error)
}

// MemoryRepository is the default in-process store. State is lost on
// restart; callers needing durability use FileRepository.
type MemoryRepository struct {
	mu      sync.RWMutex
	backups map[string]schemamod.Backup
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{backups: map[string]schemamod.Backup{}}
}

func (r *MemoryRepository) Get(backupID string) (schemamod.Backup, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backup, ok := r.backups[backupID]
	return backup, ok, nil
}

func (r *MemoryRepository) Put(backup schemamod.Backup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backups[backup.BackupID] = backup
	return nil
}

func (r *MemoryRepository) Delete(backupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backups, backupID)
	return nil
}

func (r *MemoryRepository) List() ([]schemamod.Backup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schemamod.Backup, 0, len(r.backups))
	for _, backup := range r.backups {
		out = append(out, backup)
	}
	return out, nil
}

func (r *MemoryRepository) ListByModification(modificationID string) ([]schemamod.Backup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []schemamod.Backup
	for _, backup := range r.backups {
		if backup.ModificationID == modificationID {
			out = append(out, backup)
		}
	}
	return out, nil
}

// FileRepository persists one JSON document per backup under a directory,
// written atomically so a crash never leaves a torn snapshot.
type FileRepository struct {
	mu  sync.Mutex
	dir string
}

func NewFileRepository(dir string) (*FileRepository, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if err := fsx.EnsureDir(dir, 0o750); err != nil {
		return nil, err
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) path(backupID string) string {
	return filepath.Join(r.dir, backupID+".json")
}

func (r *FileRepository) Get(backupID string) (schemamod.Backup, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// #nosec G304 -- path is derived from the repository's own directory.
	raw, err := os.ReadFile(r.path(backupID))
	if os.IsNotExist(err) {
		return schemamod.Backup{}, false, nil
	}
	if err != nil {
		return schemamod.Backup{}, false, fmt.Errorf("read backup %s: %w", backupID, err)
	}
	var backup schemamod.Backup
	if err := json.Unmarshal(raw, &backup); err != nil {
		return schemamod.Backup{}, false, fmt.Errorf("decode backup %s: %w", backupID, err)
	}
	return backup, true, nil
}

func (r *FileRepository) Put(backup schemamod.Backup) error {
	raw, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup %s: %w", backup.BackupID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fsx.WriteFileAtomic(r.path(backup.BackupID), raw, 0o600)
}

func (r *FileRepository) Delete(backupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(r.path(backupID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete backup %s: %w", backupID, err)
	}
	return nil
}

func (r *FileRepository) List() ([]schemamod.Backup, error) {
	r.mu.Lock()
	entries, err := os.ReadDir(r.dir)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	var out []schemamod.Backup
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		backupID := strings.TrimSuffix(entry.Name(), ".json")
		backup, found, err := r.Get(backupID)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, backup)
		}
	}
	return out, nil
}

func (r *FileRepository) ListByModification(modificationID string) ([]schemamod.Backup, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []schemamod.Backup
	for _, backup := range all {
		if backup.ModificationID == modificationID {
			out = append(out, backup)
		}
	}
	return out, nil
}
