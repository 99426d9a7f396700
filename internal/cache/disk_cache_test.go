package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDisk(t *testing.T) {
	cacheDir := "/tmp/test_cache"

	store := NewDisk(cacheDir)

	if store.cacheDir != cacheDir {
		t.Errorf("Expected cacheDir %s, got %s", cacheDir, store.cacheDir)
	}
}

func TestGetPath(t *testing.T) {
	store := NewDisk("/tmp/cache")

	key := DeriveKey("echo", []string{"hello"})
	want := filepath.Join("/tmp/cache", string(key)[:2], string(key)+".entry")

	if got := store.GetPath(key); got != want {
		t.Errorf("GetPath() = %v, want %v", got, want)
	}
}

func TestStoreAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	store := NewDisk(tempDir)

	key := DeriveKey("echo", []string{"hello"})
	entry := &Entry{
		Stdout:     []byte("hello\n"),
		Stderr:     []byte{0x00, 0xff, '\n'},
		ExitCode:   3,
		CapturedAt: time.Date(2026, 10, 19, 12, 0, 0, 123456789, time.UTC),
	}

	if err := store.Store(key, entry); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if _, err := os.Stat(store.GetPath(key)); os.IsNotExist(err) {
		t.Fatalf("Cache file was not created")
	}

	got, err := store.Load(key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got == nil {
		t.Fatalf("Load() returned nil, want entry")
	}

	if !bytes.Equal(got.Stdout, entry.Stdout) {
		t.Errorf("Load() stdout = %q, want %q", got.Stdout, entry.Stdout)
	}
	if !bytes.Equal(got.Stderr, entry.Stderr) {
		t.Errorf("Load() stderr = %q, want %q", got.Stderr, entry.Stderr)
	}
	if got.ExitCode != entry.ExitCode {
		t.Errorf("Load() exit code = %d, want %d", got.ExitCode, entry.ExitCode)
	}
	if !got.CapturedAt.Equal(entry.CapturedAt) {
		t.Errorf("Load() captured at = %v, want %v", got.CapturedAt, entry.CapturedAt)
	}
}

func TestStoreOverwrites(t *testing.T) {
	tempDir := t.TempDir()
	store := NewDisk(tempDir)
	key := DeriveKey("date", nil)

	for _, out := range []string{"first", "second"} {
		if err := store.Store(key, &Entry{Stdout: []byte(out), CapturedAt: time.Now()}); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	got, err := store.Load(key)
	if err != nil || got == nil {
		t.Fatalf("Load() = %v, %v", got, err)
	}
	if string(got.Stdout) != "second" {
		t.Errorf("Load() stdout = %q, want %q", got.Stdout, "second")
	}

	// No temporary files are left behind
	files, err := os.ReadDir(filepath.Dir(store.GetPath(key)))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, f := range files {
		if strings.Contains(f.Name(), ".tmp-") {
			t.Errorf("Temporary file %s left behind", f.Name())
		}
	}
}

func TestLoadMissing(t *testing.T) {
	store := NewDisk(t.TempDir())

	got, err := store.Load(DeriveKey("missing", nil))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Errorf("Load() = %v, want nil", got)
	}
}

func TestLoadCorrupted(t *testing.T) {
	tempDir := t.TempDir()
	store := NewDisk(tempDir)
	key := DeriveKey("corrupt", nil)

	path := store.GetPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("not an entry"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := store.Load(key)
	if err != nil {
		t.Fatalf("Load() error = %v, corrupted entries should be misses", err)
	}
	if got != nil {
		t.Errorf("Load() = %v, want nil", got)
	}
}

func TestClear(t *testing.T) {
	store := NewDisk(t.TempDir())
	key := DeriveKey("echo", []string{"hello"})
	other := DeriveKey("echo", []string{"world"})

	for _, k := range []Key{key, other} {
		if err := store.Store(k, &Entry{CapturedAt: time.Now()}); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	if err := store.Clear(key); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(store.GetPath(key)); !os.IsNotExist(err) {
		t.Errorf("Entry should have been removed")
	}
	if _, err := os.Stat(store.GetPath(other)); err != nil {
		t.Errorf("Unrelated entry should still exist: %v", err)
	}

	// Clearing again is a no-op
	if err := store.Clear(key); err != nil {
		t.Errorf("Clear() on missing entry error = %v", err)
	}
}

func TestClearAllKeepsForeignAndLockFiles(t *testing.T) {
	tempDir := t.TempDir()
	store := NewDisk(tempDir)

	key := DeriveKey("echo", []string{"hello"})
	if err := store.Store(key, &Entry{CapturedAt: time.Now()}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	shardDir := filepath.Dir(store.GetPath(key))
	lockPath := filepath.Join(shardDir, string(key)+".lock")
	tmpPath := filepath.Join(shardDir, string(key)+".entry.tmp-123")

	foreign := []string{
		filepath.Join(tempDir, "notes.txt"),
		filepath.Join(tempDir, "zz", "keep.entry"),
		filepath.Join(shardDir, "README"),
	}
	for _, p := range append(foreign, lockPath, tmpPath) {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	if err := store.ClearAll(); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}

	for _, p := range []string{store.GetPath(key), tmpPath} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed", p)
		}
	}
	for _, p := range append(foreign, lockPath) {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should have been kept: %v", p, err)
		}
	}
}

func TestClearAllMissingDir(t *testing.T) {
	store := NewDisk(filepath.Join(t.TempDir(), "never", "created"))

	if err := store.ClearAll(); err != nil {
		t.Errorf("ClearAll() error = %v", err)
	}
}

func TestListKeys(t *testing.T) {
	store := NewDisk(t.TempDir())

	want := []Key{
		DeriveKey("a", nil),
		DeriveKey("b", []string{"1"}),
		DeriveKey("c", []string{"1", "2"}),
	}
	for _, k := range want {
		if err := store.Store(k, &Entry{CapturedAt: time.Now()}); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	got, err := store.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ListKeys() returned %d keys, want %d", len(got), len(want))
	}

	seen := map[Key]bool{}
	for _, k := range got {
		seen[k] = true
	}
	for _, k := range want {
		if !seen[k] {
			t.Errorf("ListKeys() missing %s", k)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Errorf("ListKeys() not sorted: %v", got)
		}
	}
}

func TestInvalidKey(t *testing.T) {
	store := NewDisk(t.TempDir())

	if _, err := store.Load("../../etc/passwd"); err != ErrInvalidKey {
		t.Errorf("Load() error = %v, want ErrInvalidKey", err)
	}
	if err := store.Store("x", &Entry{}); err != ErrInvalidKey {
		t.Errorf("Store() error = %v, want ErrInvalidKey", err)
	}
	if err := store.Clear(""); err != ErrInvalidKey {
		t.Errorf("Clear() error = %v, want ErrInvalidKey", err)
	}
}

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	cacheDir := filepath.Join(tempDir, "new", "cache", "dir")

	store := NewDisk(cacheDir)

	err := store.Init()
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	// Verify directory was created
	if _, err := os.Stat(cacheDir); os.IsNotExist(err) {
		t.Fatalf("Cache directory was not created")
	}
}
