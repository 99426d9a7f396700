package cache

import (
	"errors"
	"fmt"
)

// ErrInvalidKey is returned when a key was not produced by DeriveKey
var ErrInvalidKey = errors.New("invalid cache key")

// StorageError reports a failure to use the cache directory
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
