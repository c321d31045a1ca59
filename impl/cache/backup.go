package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// backupStore persists last known-good snapshots of cached resources as
// JSON files, one per resource. Writes go through a temp file and rename
// so a crash mid-write never corrupts the previous snapshot.
type backupStore struct {
	dir string
}

func newBackupStore(dir string) *backupStore {
	return &backupStore{dir: dir}
}

func (b *backupStore) path(name string) string {
	return filepath.Join(b.dir, name+"_backup.json")
}

func (b *backupStore) save(name string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}
	tmp := b.path(name) + ".tmp"
	if err = os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path(name))
}

func (b *backupStore) load(name string, target interface{}) error {
	data, err := os.ReadFile(b.path(name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
