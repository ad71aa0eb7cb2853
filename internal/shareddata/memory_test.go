package shareddata

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryGetAbsent(t *testing.T) {
	s := NewMemoryStore()

	value, version, ok := s.Get("headers")
	if ok {
		t.Error("expected absent key")
	}
	if value != nil || version != 0 {
		t.Errorf("expected zero values for absent key, got %v / %d", value, version)
	}
}

func TestMemorySetGet(t *testing.T) {
	s := NewMemoryStore()

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
		t.Errorf("expected version 1 after first write, got %d", version)
	}
}

func TestMemoryVersionIncrements(t *testing.T) {
	s := NewMemoryStore()

	s.Set("headers", []byte("a"), nil)
	s.Set("headers", []byte("b"), nil)
	s.Set("headers", []byte("c"), nil)

	value, version, _ := s.Get("headers")
	if string(value) != "c" {
		t.Errorf("expected latest value, got %q", value)
	}
	if version != 3 {
		t.Errorf("expected version 3 after three writes, got %d", version)
	}
}

func TestMemoryConditionalSet(t *testing.T) {
	s := NewMemoryStore()
	s.Set("headers", []byte("a"), nil)

	// Matching expected version succeeds
	v := uint64(1)
	if err := s.Set("headers", []byte("b"), &v); err != nil {
		t.Fatalf("conditional Set with matching version failed: %v", err)
	}

	// Stale expected version conflicts
	stale := uint64(1)
	err := s.Set("headers", []byte("c"), &stale)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	value, _, _ := s.Get("headers")
	if string(value) != "b" {
		t.Errorf("conflicting write must not apply, got %q", value)
	}
}

func TestMemoryConditionalSetOnAbsentKey(t *testing.T) {
	s := NewMemoryStore()

	// Version of an unwritten key is 0
	v := uint64(0)
	if err := s.Set("headers", []byte("a"), &v); err != nil {
		t.Fatalf("conditional Set on absent key with version 0 failed: %v", err)
	}

	wrong := uint64(5)
	if err := s.Set("other", []byte("x"), &wrong); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestMemoryDelete(t *testing.T) {
	s := NewMemoryStore()
	s.Set("headers", []byte("a"), nil)
	s.Delete("headers")

	if _, _, ok := s.Get("headers"); ok {
		t.Error("expected key absent after Delete")
	}
}

func TestMemoryValueCopied(t *testing.T) {
	s := NewMemoryStore()

	payload := []byte("original")
	s.Set("headers", payload, nil)
	payload[0] = 'X'

	value, _, _ := s.Get("headers")
	if string(value) != "original" {
		t.Errorf("stored value must not alias the caller's slice, got %q", value)
	}
}

func TestMemoryConcurrentReadersDuringWrites(t *testing.T) {
	s := NewMemoryStore()
	s.Set("headers", []byte("seed-0"), nil)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 500; i++ {
			s.Set("headers", fmt.Appendf(nil, "seed-%d", i), nil)
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				value, version, ok := s.Get("headers")
				if !ok {
					t.Error("value must never disappear mid-write")
					return
				}
				// Readers see whole payloads only, never partial writes
				if !bytes.HasPrefix(value, []byte("seed-")) {
					t.Errorf("partial or corrupt value %q at version %d", value, version)
					return
				}
			}
		}()
	}

	wg.Wait()
}
