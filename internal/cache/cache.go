// Handles caching of command results
package cache

// Store is the persistence layer for captured command results
type Store interface {
	// retrieves the entry stored under key.
	// returns nil, nil when not found or when the stored entry cannot be decoded
	Load(key Key) (*Entry, error)
	// atomically publishes entry under key, replacing any previous one
	Store(key Key, entry *Entry) error
	// removes the entry stored under key. Removing a missing entry is not an error
	Clear(key Key) error
	// removes every entry owned by the store, and nothing else
	ClearAll() error
	// lists the keys of every stored entry
	ListKeys() ([]Key, error)
	// initializes the store (e.g., creates necessary directories)
	Init() error
}
