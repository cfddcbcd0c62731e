// Package database provides the durable key-value storage the client core
// persists to. Two backends implement KV: Redis for development and shared
// deployments, SQLite for on-device storage.
package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned by KV.Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// KV is the asynchronous durable storage used by the session manager's
// credential mirror and the assessment store. Values are opaque bytes.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	// Scan returns every key/value pair whose key starts with prefix.
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)
	Ping(ctx context.Context) error
	Close() error
}
