package cache

import "errors"

var (
	// ErrCacheMiss is returned when a key doesn't exist in storage.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("corrupt record")
)
