package ingest

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// CooldownGate decides whether a fix for key at the given fix time is far enough from the last
// accepted one. The check and the update of the last-accepted time happen atomically per key.
type CooldownGate interface {
	Allow(ctx context.Context, key string, at time.Time) (bool, error)
}

const cooldownShards = 32

// MemoryCooldown is a process-local gate. Its state is lost on restart, which at worst lets
// one extra fix per vehicle through right after a deploy.
type MemoryCooldown struct {
	window time.Duration
	shards [cooldownShards]cooldownShard
}

type cooldownShard struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemoryCooldown(window time.Duration) *MemoryCooldown {
	c := &MemoryCooldown{window: window}
	for i := range c.shards {
		c.shards[i].last = make(map[string]time.Time)
	}
	return c
}

func (c *MemoryCooldown) shard(key string) *cooldownShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.shards[h.Sum32()%cooldownShards]
}

// Allow never returns an error; the signature matches the shared gate.
func (c *MemoryCooldown) Allow(_ context.Context, key string, at time.Time) (bool, error) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.last[key]; ok && at.Sub(last) < c.window {
		return false, nil
	}
	s.last[key] = at
	return true, nil
}

// Prune drops entries whose last accepted fix is older than cutoff and returns how many went.
func (c *MemoryCooldown) Prune(cutoff time.Time) int {
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k, last := range s.last {
			if last.Before(cutoff) {
				delete(s.last, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (c *MemoryCooldown) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.last)
		s.mu.Unlock()
	}
	return n
}

var _ CooldownGate = (*MemoryCooldown)(nil)
