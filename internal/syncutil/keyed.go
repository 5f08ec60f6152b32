// Package syncutil provides per-key serialization for trader-scoped writes.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// KeyedMutex serializes work per key over a fixed pool of channel-based
// locks. Memory stays bounded however many traders are seen; two keys that
// hash to the same shard simply share a lock.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex returns a KeyedMutex with every shard unlocked.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// Lock blocks until the key's shard is free or ctx is done. It returns the
// unlock function, or nil and the context error on cancellation.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	ch := m.shards[shardOf(key)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardOf(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
