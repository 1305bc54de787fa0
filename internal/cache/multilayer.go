package cache

import (
	"context"
	"errors"
	"time"
)

// MultiLayer composes the in-process shard with the shared cache. Reads
// probe L1 first and promote L2 hits into L1; writes and deletes go to
// both layers. L2 may be nil, in which case the cache runs purely in
// process.
type MultiLayer struct {
	l1 Client
	l2 Client
}

// NewMultiLayer creates the layered cache. l1 must not be nil.
func NewMultiLayer(l1, l2 Client) *MultiLayer {
	return &MultiLayer{l1: l1, l2: l2}
}

// Get probes L1 then L2, promoting an L2 hit into L1.
func (m *MultiLayer) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := m.l1.Get(ctx, key)
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return nil, err
	}
	if m.l2 == nil {
		return nil, ErrCacheMiss
	}
	val, err = m.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	// Promotion is best effort; the shard TTL bounds the entry.
	_ = m.l1.Set(ctx, key, val, 0)
	return val, nil
}

// Set writes to both layers.
func (m *MultiLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if m.l2 == nil {
		return nil
	}
	return m.l2.Set(ctx, key, value, ttl)
}

// Delete removes the key from both layers.
func (m *MultiLayer) Delete(ctx context.Context, key string) error {
	err := m.l1.Delete(ctx, key)
	if m.l2 != nil {
		if err2 := m.l2.Delete(ctx, key); err == nil {
			err = err2
		}
	}
	return err
}

// DeleteByPrefix removes matching keys from both layers.
func (m *MultiLayer) DeleteByPrefix(ctx context.Context, prefix string) error {
	err := m.l1.DeleteByPrefix(ctx, prefix)
	if m.l2 != nil {
		if err2 := m.l2.DeleteByPrefix(ctx, prefix); err == nil {
			err = err2
		}
	}
	return err
}

// Close closes both layers.
func (m *MultiLayer) Close() error {
	err := m.l1.Close()
	if m.l2 != nil {
		if err2 := m.l2.Close(); err == nil {
			err = err2
		}
	}
	return err
}
