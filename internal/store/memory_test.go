package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory_SetGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "room:ABC", []byte("payload"), 0); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	got, err := m.Get(ctx, "room:ABC")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Get() = %q, want %q", got, "payload")
	}
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	clock := time.Now()
	m.now = func() time.Time { return clock }

	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() before expiry: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after expiry = %v, want ErrNotFound", err)
	}
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete = %v, want ErrNotFound", err)
	}
}

func TestMemory_ListKeys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, k := range []string{"room:A", "room:B", "session:C"} {
		if err := m.Set(ctx, k, []byte("v"), 0); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := m.ListKeys(ctx, "room:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("ListKeys(room:) returned %d keys, want 2: %v", len(keys), keys)
	}
	for _, k := range keys {
		if k != "room:A" && k != "room:B" {
			t.Errorf("unexpected key %q", k)
		}
	}
}

func TestMemory_ListKeysSkipsExpired(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	clock := time.Now()
	m.now = func() time.Time { return clock }

	if err := m.Set(ctx, "room:A", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(ctx, "room:B", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(30 * time.Minute)
	keys, err := m.ListKeys(ctx, "room:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "room:B" {
		t.Errorf("ListKeys() = %v, want [room:B]", keys)
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Set(ctx, "k", []byte("abc"), 0); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	got[0] = 'z'
	again, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != "abc" {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}
}
