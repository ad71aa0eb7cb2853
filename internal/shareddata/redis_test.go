package shareddata

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func redisAvailable(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:6379",
		DialTimeout: 100 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisSetGet(t *testing.T) {
	client := redisAvailable(t)
	s := NewRedisStore(client, "headergate:test:setget:")
	defer s.Delete("headers")

	if _, _, ok := s.Get("headers"); ok {
		t.Fatal("expected absent key before Set")
	}

	if err := s.Set("headers", []byte(`{"X-User":"alice"}`), nil); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	value, version, ok := s.Get("headers")
	if !ok {
		t.Fatal("expected key present after Set")
	}
	if !bytes.Equal(value, []byte(`{"X-User":"alice"}`)) {
		t.Errorf("unexpected value %q", value)
	}
	if version != 1 {
		t.Errorf("expected version 1, got %d", version)
	}
}

func TestRedisConditionalSet(t *testing.T) {
	client := redisAvailable(t)
	s := NewRedisStore(client, "headergate:test:cas:")
	defer s.Delete("headers")

	s.Set("headers", []byte("a"), nil)

	v := uint64(1)
	if err := s.Set("headers", []byte("b"), &v); err != nil {
		t.Fatalf("conditional Set with matching version failed: %v", err)
	}

	stale := uint64(1)
	if err := s.Set("headers", []byte("c"), &stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	value, _, _ := s.Get("headers")
	if string(value) != "b" {
		t.Errorf("conflicting write must not apply, got %q", value)
	}
}

func TestRedisDelete(t *testing.T) {
	client := redisAvailable(t)
	s := NewRedisStore(client, "headergate:test:del:")

	s.Set("headers", []byte("a"), nil)
	s.Delete("headers")

	if _, _, ok := s.Get("headers"); ok {
		t.Error("expected key absent after Delete")
	}
}
