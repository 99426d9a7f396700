package tests

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iTrooz/cmdcache/internal/cache"
	"github.com/iTrooz/cmdcache/internal/cli"
	"github.com/iTrooz/cmdcache/internal/runner"
)

// invocation is the result of one cmdcache run
type invocation struct {
	code   int
	stdout string
	stderr string
}

// fixture_env creates an isolated cache directory and hides the user's config file
func fixture_env(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	return filepath.Join(home, "cache")
}

// fixture_counter returns a shell snippet that prints output and records each execution in a file
func fixture_counter(t *testing.T, output string) (script string, counterFile string) {
	t.Helper()
	counterFile = filepath.Join(t.TempDir(), "counter")
	script = "echo run >> '" + counterFile + "'; echo '" + output + "'"
	return script, counterFile
}

// executions reads how often a fixture_counter script ran
func executions(t *testing.T, counterFile string) int {
	t.Helper()
	data, err := os.ReadFile(counterFile)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("Failed to read counter file: %v", err)
	}
	return strings.Count(string(data), "run\n")
}

// cmdcache runs the tool in-process against cacheDir
func cmdcache(cacheDir string, args ...string) invocation {
	var stdout, stderr bytes.Buffer
	args = append([]string{"--cache-dir", cacheDir}, args...)
	code := cli.Execute(context.Background(), "test", args, runner.Streams{Stdout: &stdout, Stderr: &stderr})
	return invocation{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// loadEntry reads the stored entry for a command, failing the test when absent
func loadEntry(t *testing.T, cacheDir string, program string, args ...string) *cache.Entry {
	t.Helper()
	entry, err := cache.NewDisk(cacheDir).Load(cache.DeriveKey(program, args))
	if err != nil {
		t.Fatalf("Failed to load entry: %v", err)
	}
	if entry == nil {
		t.Fatalf("Expected an entry for %s %v", program, args)
	}
	return entry
}
