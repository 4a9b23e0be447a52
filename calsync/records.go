package calsync

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Records tracks which external event corresponds to which local item, keyed
// by (itemID, backend). An absent entry means the backend never successfully
// synced the item.
type Records interface {
	Get(ctx context.Context, itemID, backend string) (string, bool, error)
	Put(ctx context.Context, itemID, backend, externalID string) error
	Delete(ctx context.Context, itemID, backend string) error
}

// MemoryRecords is the in-process Records implementation used when no Redis
// is configured.
type MemoryRecords struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemoryRecords creates an empty in-memory record store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{m: make(map[string]string)}
}

func (r *MemoryRecords) Get(_ context.Context, itemID, backend string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.m[recordKey(itemID, backend)]
	return id, ok, nil
}

func (r *MemoryRecords) Put(_ context.Context, itemID, backend, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[recordKey(itemID, backend)] = externalID
	return nil
}

func (r *MemoryRecords) Delete(_ context.Context, itemID, backend string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, recordKey(itemID, backend))
	return nil
}

// RedisRecords stores sync records in Redis so all instances share the same
// item-to-event mapping.
type RedisRecords struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRecords creates a record store over the provided client. A zero ttl
// keeps entries until the item is removed.
func NewRedisRecords(client *redis.Client, ttl time.Duration) *RedisRecords {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisRecords{client: client, ttl: ttl}
}

func (r *RedisRecords) Get(ctx context.Context, itemID, backend string) (string, bool, error) {
	val, err := r.client.Get(ctx, recordKey(itemID, backend)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisRecords) Put(ctx context.Context, itemID, backend, externalID string) error {
	return r.client.Set(ctx, recordKey(itemID, backend), externalID, r.ttl).Err()
}

func (r *RedisRecords) Delete(ctx context.Context, itemID, backend string) error {
	return r.client.Del(ctx, recordKey(itemID, backend)).Err()
}

func recordKey(itemID, backend string) string {
	return "calevent:" + backend + ":" + itemID
}
