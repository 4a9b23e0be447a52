package calsync

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryRecordsLifecycle(t *testing.T) {
	records := NewMemoryRecords()
	ctx := context.Background()

	if _, ok, err := records.Get(ctx, "item_1", "outlook"); ok || err != nil {
		t.Fatalf("empty store should miss: %v %v", ok, err)
	}

	if err := records.Put(ctx, "item_1", "outlook", "ev-1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	id, ok, err := records.Get(ctx, "item_1", "outlook")
	if err != nil || !ok || id != "ev-1" {
		t.Fatalf("get after put: %q %v %v", id, ok, err)
	}

	// Entries are keyed per backend.
	if _, ok, _ := records.Get(ctx, "item_1", "ical"); ok {
		t.Fatal("record leaked across backends")
	}

	// Overwrite keeps a single entry.
	if err := records.Put(ctx, "item_1", "outlook", "ev-2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if id, _, _ := records.Get(ctx, "item_1", "outlook"); id != "ev-2" {
		t.Fatalf("overwrite lost: %q", id)
	}

	if err := records.Delete(ctx, "item_1", "outlook"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := records.Get(ctx, "item_1", "outlook"); ok {
		t.Fatal("record survived delete")
	}
	// Deleting an absent record is fine.
	if err := records.Delete(ctx, "item_1", "outlook"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestRedisRecordsLifecycle(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	records := NewRedisRecords(client, 0)
	ctx := context.Background()

	if _, ok, err := records.Get(ctx, "item_1", "outlook"); ok || err != nil {
		t.Fatalf("empty store should miss: %v %v", ok, err)
	}

	if err := records.Put(ctx, "item_1", "outlook", "ev-1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	id, ok, err := records.Get(ctx, "item_1", "outlook")
	if err != nil || !ok || id != "ev-1" {
		t.Fatalf("get after put: %q %v %v", id, ok, err)
	}

	if err := records.Delete(ctx, "item_1", "outlook"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := records.Get(ctx, "item_1", "outlook"); ok {
		t.Fatal("record survived delete")
	}
}

func TestRedisRecordsTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	records := NewRedisRecords(client, time.Minute)
	ctx := context.Background()
	if err := records.Put(ctx, "item_1", "outlook", "ev-1"); err != nil {
		t.Fatalf("put: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := records.Get(ctx, "item_1", "outlook"); ok {
		t.Fatal("record should expire with the configured TTL")
	}
}
