// Package syncutil provides keyed locking for per-address work.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// KeyedMutex serializes work per key over a fixed pool of shards, so memory
// stays bounded no matter how many distinct keys are seen. Distinct keys may
// share a shard; that only costs parallelism.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex creates an unlocked keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock blocks until key's shard is free or ctx is done. On success the
// returned func must be called to release it.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	shard := m.shards[shardOf(key)]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardOf(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
