package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"regexp"
)

// Key identifies the cache entry of a command invocation
type Key string

var keyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// DeriveKey generates a unique key for a program and its arguments.
// Every element is length-prefixed before hashing, so ("ab", "c") and ("a", "bc")
// produce different keys. Arguments are hashed exactly as given.
func DeriveKey(program string, args []string) Key {
	h := sha256.New()
	var prefix [binary.MaxVarintLen64]byte

	write := func(s string) {
		n := binary.PutUvarint(prefix[:], uint64(len(s)))
		h.Write(prefix[:n])
		h.Write([]byte(s))
	}

	n := binary.PutUvarint(prefix[:], uint64(len(args)))
	h.Write(prefix[:n])
	write(program)
	for _, arg := range args {
		write(arg)
	}

	return Key(hex.EncodeToString(h.Sum(nil)))
}

// Valid reports whether k has the shape produced by DeriveKey
func (k Key) Valid() bool {
	return keyPattern.MatchString(string(k))
}

// shard is the directory a key's files are grouped under
func (k Key) shard() string {
	return string(k[:2])
}

func (k Key) String() string {
	return string(k)
}
