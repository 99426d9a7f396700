package cache

import "time"

// Policy decides whether a stored entry may be replayed
type Policy struct {
	// TTL is how long an entry stays fresh after capture. Zero disables replay.
	TTL time.Duration

	// CacheFailures permits replaying entries with a non-zero exit code.
	CacheFailures bool
}

// IsFresh reports whether entry may be replayed at now.
// Ages are computed from wall-clock timestamps, so clock adjustments can make
// entries go stale early or late.
func (p Policy) IsFresh(entry *Entry, now time.Time) bool {
	if entry == nil {
		return false
	}
	fresh := entry.Age(now) < p.TTL
	if entry.ExitCode != 0 {
		fresh = fresh && p.CacheFailures
	}
	return fresh
}
