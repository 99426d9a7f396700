package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	entrySuffix = ".entry"
	lockSuffix  = ".lock"
	tempInfix   = ".tmp-"
)

// DiskStore implements Store with one file per key under cacheDir.
// Layout: <cacheDir>/<first two key chars>/<key>.entry
type DiskStore struct {
	cacheDir string
}

// NewDisk creates a new disk store rooted at cacheDir
func NewDisk(cacheDir string) *DiskStore {
	return &DiskStore{
		cacheDir: cacheDir,
	}
}

// GetPath returns the entry file for key
func (d *DiskStore) GetPath(key Key) string {
	return filepath.Join(d.cacheDir, key.shard(), string(key)+entrySuffix)
}

// Load retrieves the entry stored under key
func (d *DiskStore) Load(key Key) (*Entry, error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}

	entryPath := d.GetPath(key)
	data, err := os.ReadFile(entryPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "read", Path: entryPath, Err: err}
	}

	entry, err := Deserialize(data)
	if err != nil {
		// Treated as a miss; the next execution overwrites it
		logrus.Debugf("Ignoring unreadable cache entry %s: %v", entryPath, err)
		return nil, nil
	}

	return entry, nil
}

// Store writes the entry to a temporary file in the same directory, syncs it,
// then renames it over the previous entry.
func (d *DiskStore) Store(key Key, entry *Entry) error {
	if !key.Valid() {
		return ErrInvalidKey
	}

	entryPath := d.GetPath(key)
	dir := filepath.Dir(entryPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &StorageError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, string(key)+entrySuffix+tempInfix+"*")
	if err != nil {
		return &StorageError{Op: "create", Path: dir, Err: err}
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(Serialize(entry)); err != nil {
		_ = tmp.Close()
		return &StorageError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &StorageError{Op: "sync", Path: tmpPath, Err: err}
	}
	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		return &StorageError{Op: "chmod", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "close", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, entryPath); err != nil {
		return &StorageError{Op: "rename", Path: entryPath, Err: err}
	}
	committed = true

	syncDir(dir)

	logrus.Debugf("Cached result: %s", entryPath)
	return nil
}

// Clear removes the entry for key. The lock file stays: flock locks the inode,
// so unlinking it would let a new holder lock a fresh file next to a running one.
func (d *DiskStore) Clear(key Key) error {
	if !key.Valid() {
		return ErrInvalidKey
	}

	entryPath := d.GetPath(key)
	if err := os.Remove(entryPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "remove", Path: entryPath, Err: err}
	}

	logrus.Debugf("Cleared cache entry: %s", entryPath)
	return nil
}

// ClearAll removes every entry and leftover temp file the store created. Lock
// files are kept for the same reason as in Clear, and files that do not follow
// the store's naming scheme are left alone.
func (d *DiskStore) ClearAll() error {
	shards, err := os.ReadDir(d.cacheDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &StorageError{Op: "list", Path: d.cacheDir, Err: err}
	}

	removed := 0
	for _, shard := range shards {
		if !shard.IsDir() || !isShardName(shard.Name()) {
			continue
		}

		shardDir := filepath.Join(d.cacheDir, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			return &StorageError{Op: "list", Path: shardDir, Err: err}
		}

		for _, file := range files {
			if file.IsDir() || !ownsFile(shard.Name(), file.Name()) {
				continue
			}
			path := filepath.Join(shardDir, file.Name())
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return &StorageError{Op: "remove", Path: path, Err: err}
			}
			removed++
		}

		// Only succeeds once the shard holds no lock files either
		_ = os.Remove(shardDir)
	}

	logrus.Debugf("Cleared %d cache files from %s", removed, d.cacheDir)
	return nil
}

// ListKeys returns the keys of every stored entry, sorted
func (d *DiskStore) ListKeys() ([]Key, error) {
	shards, err := os.ReadDir(d.cacheDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list", Path: d.cacheDir, Err: err}
	}

	var keys []Key
	for _, shard := range shards {
		if !shard.IsDir() || !isShardName(shard.Name()) {
			continue
		}

		shardDir := filepath.Join(d.cacheDir, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			return nil, &StorageError{Op: "list", Path: shardDir, Err: err}
		}

		for _, file := range files {
			name, ok := strings.CutSuffix(file.Name(), entrySuffix)
			if !ok || file.IsDir() {
				continue
			}
			key := Key(name)
			if key.Valid() && key.shard() == shard.Name() {
				keys = append(keys, key)
			}
		}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// Init ensures the cache directory exists
func (d *DiskStore) Init() error {
	if err := os.MkdirAll(d.cacheDir, 0755); err != nil {
		return &StorageError{Op: "mkdir", Path: d.cacheDir, Err: err}
	}
	return nil
}

func isShardName(name string) bool {
	if len(name) != 2 {
		return false
	}
	for _, c := range name {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

// ownsFile reports whether name is an entry or temp file for a key in shard
func ownsFile(shard, name string) bool {
	var base string
	switch {
	case strings.HasSuffix(name, entrySuffix):
		base = strings.TrimSuffix(name, entrySuffix)
	case strings.Contains(name, entrySuffix+tempInfix):
		base = name[:strings.Index(name, entrySuffix+tempInfix)]
	default:
		return false
	}
	key := Key(base)
	return key.Valid() && key.shard() == shard
}

// syncDir flushes a directory so a rename survives a crash. Not every platform
// supports it, so failures are only logged.
func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		logrus.Debugf("Failed to open cache directory %s for sync: %v", dir, err)
		return
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		logrus.Debugf("Failed to sync cache directory %s: %v", dir, err)
	}
}
