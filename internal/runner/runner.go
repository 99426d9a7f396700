package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iTrooz/cmdcache/internal/cache"
	"github.com/iTrooz/cmdcache/internal/config"

	"github.com/sirupsen/logrus"
)

// Options tune a Runner
type Options struct {
	Policy      cache.Policy
	LockTimeout time.Duration

	// Now stamps captured entries and evaluates freshness. Defaults to time.Now.
	Now func() time.Time
}

// Outcome describes how an invocation was served
type Outcome struct {
	Key      cache.Key
	ExitCode int
	Replayed bool
}

// Runner serves command invocations from the cache or by executing them
type Runner struct {
	store       cache.Store
	locker      cache.Locker
	invoker     Invoker
	policy      cache.Policy
	lockTimeout time.Duration
	now         func() time.Time
}

// New creates a runner from its collaborators
func New(store cache.Store, locker cache.Locker, invoker Invoker, opts Options) *Runner {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		store:       store,
		locker:      locker,
		invoker:     invoker,
		policy:      opts.Policy,
		lockTimeout: opts.LockTimeout,
		now:         now,
	}
}

// NewFromConfig creates a runner backed by the disk cache described by cfg
func NewFromConfig(cfg *config.Config) (*Runner, error) {
	ttl, err := cfg.GetCacheTTL()
	if err != nil {
		return nil, fmt.Errorf("invalid cache TTL: %w", err)
	}
	lockTimeout, err := cfg.GetLockTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid lock timeout: %w", err)
	}

	store := cache.NewDisk(cfg.Cache.Folder)
	if err := store.Init(); err != nil {
		// Running without a cache still works, so this is only reported
		logrus.Warnf("Cache directory is not usable: %v", err)
	}

	return New(
		store,
		cache.NewFileLock(cfg.Cache.Folder),
		NewExecInvoker(),
		Options{
			Policy:      cache.Policy{TTL: ttl, CacheFailures: cfg.Cache.CacheFailures},
			LockTimeout: lockTimeout,
		},
	), nil
}

// Run replays a fresh cached result for program and args, or executes the
// program, relaying and capturing its output, and caches the result.
// The returned error is only set when no exit code exists to report.
func (r *Runner) Run(ctx context.Context, program string, args []string, streams Streams) (Outcome, error) {
	key := cache.DeriveKey(program, args)
	outcome := Outcome{Key: key}
	logrus.Debugf("Cache key for %s: %s", describe(program, args), key)

	release, err := r.locker.Lock(ctx, key, r.lockTimeout)
	locked := err == nil
	if locked {
		defer release()
	} else {
		logrus.Warnf("Running without cache lock: %v", err)
	}

	// Another holder may have refreshed the entry while we waited
	if locked {
		if entry := r.loadFresh(key); entry != nil {
			logrus.Debugf("Using cached value captured at %s (exit code %d)", entry.CapturedAt.Format(time.RFC3339), entry.ExitCode)
			if err := replay(entry, streams); err != nil {
				return outcome, err
			}
			outcome.ExitCode = entry.ExitCode
			outcome.Replayed = true
			return outcome, nil
		}
	}

	logrus.Debugf("Running %s", describe(program, args))
	result, err := r.invoker.Invoke(ctx, program, args, streams)
	if err != nil {
		return outcome, err
	}
	outcome.ExitCode = result.ExitCode

	switch {
	case ctx.Err() != nil:
		logrus.Debugf("Not caching interrupted run of %s", program)
	case !locked:
		logrus.Debugf("Not caching result of %s: lock not held", program)
	default:
		entry := &cache.Entry{
			Stdout:     result.Stdout,
			Stderr:     result.Stderr,
			ExitCode:   result.ExitCode,
			CapturedAt: r.now(),
		}
		if err := r.store.Store(key, entry); err != nil {
			logrus.Warnf("Failed to cache result of %s: %v", program, err)
		}
	}

	return outcome, nil
}

// Clear removes the cached result for program and args. It waits for a
// concurrent run of the same command so the removal is not undone by its store.
func (r *Runner) Clear(ctx context.Context, program string, args []string) error {
	key := cache.DeriveKey(program, args)
	release, err := r.locker.Lock(ctx, key, r.lockTimeout)
	if err != nil {
		return fmt.Errorf("failed to clear cache for %s: %w", program, err)
	}
	defer release()

	if err := r.store.Clear(key); err != nil {
		return fmt.Errorf("failed to clear cache for %s: %w", program, err)
	}
	logrus.Debugf("Cleared cached result %s for %s", key, describe(program, args))
	return nil
}

// ClearAll removes every cached result
func (r *Runner) ClearAll() error {
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		keys, err := r.store.ListKeys()
		if err != nil {
			logrus.Debugf("Failed to list cached results: %v", err)
		}
		for _, key := range keys {
			logrus.Debugf("Clearing cached result %s", key)
		}
	}

	if err := r.store.ClearAll(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// loadFresh returns the stored entry for key when it may be replayed
func (r *Runner) loadFresh(key cache.Key) *cache.Entry {
	entry, err := r.store.Load(key)
	if err != nil {
		logrus.Warnf("Failed to read cached result, running instead: %v", err)
		return nil
	}
	if entry == nil {
		logrus.Debugf("No cached result for %s", key)
		return nil
	}
	if !r.policy.IsFresh(entry, r.now()) {
		logrus.Debugf("Cached result for %s is stale (age %s, exit code %d)", key, entry.Age(r.now()).Round(time.Millisecond), entry.ExitCode)
		return nil
	}
	return entry
}

// replay writes a stored result verbatim, stdout first
func replay(entry *cache.Entry, streams Streams) error {
	if _, err := streams.Stdout.Write(entry.Stdout); err != nil {
		return fmt.Errorf("failed to replay stdout: %w", err)
	}
	if _, err := streams.Stderr.Write(entry.Stderr); err != nil {
		return fmt.Errorf("failed to replay stderr: %w", err)
	}
	return nil
}

func describe(program string, args []string) string {
	return strings.Join(append([]string{program}, args...), " ")
}
