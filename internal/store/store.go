package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a missing key. Callers use it to tell "absent" apart
// from "store unavailable", which surfaces as any other non-nil error.
var ErrNotFound = errors.New("store: key not found")

// KV is the durable key-value store shared by every coordinating process.
// Values with a positive ttl expire and then read as not found.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
