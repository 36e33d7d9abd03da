package memkv

import (
	"context"
	"sort"
	"sync"
	"testing"
)

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Set(ctx, "tasks.3.2", []byte("hello")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, "tasks.3.2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(v) != "hello" {
		t.Fatalf("Get = (%q, %v), want (hello, true)", v, ok)
	}

	if err := s.Delete(ctx, "tasks.3.2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, _ = s.Get(ctx, "tasks.3.2")
	if ok {
		t.Fatal("expected miss after Delete")
	}
}

func TestDeleteAbsentKey(t *testing.T) {
	if err := New().Delete(context.Background(), "never-set"); err != nil {
		t.Fatalf("Delete of absent key should not error, got %v", err)
	}
}

func TestOverwrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Set(ctx, "k", []byte("v1"))
	_ = s.Set(ctx, "k", []byte("v2"))

	v, _, _ := s.Get(ctx, "k")
	if string(v) != "v2" {
		t.Fatalf("expected v2 after overwrite, got %s", v)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 key after overwrite, got %d", s.Len())
	}
}

func TestKeysPrefixFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Set(ctx, "tasks.2.1", nil)
	_ = s.Set(ctx, "tasks.5.1", nil)
	_ = s.Set(ctx, "scheduler.running", []byte("true"))

	keys, err := s.Keys(ctx, "tasks.")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "tasks.2.1" || keys[1] != "tasks.5.1" {
		t.Fatalf("Keys = %v, want [tasks.2.1 tasks.5.1]", keys)
	}
}

func TestValueIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()
	buf := []byte("abc")
	_ = s.Set(ctx, "k", buf)
	buf[0] = 'x'

	v, _, _ := s.Get(ctx, "k")
	if string(v) != "abc" {
		t.Fatalf("stored value aliased caller buffer: got %s", v)
	}
	v[0] = 'y'
	v2, _, _ := s.Get(ctx, "k")
	if string(v2) != "abc" {
		t.Fatalf("returned value aliased store buffer: got %s", v2)
	}
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := New()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "tasks." + string(rune('a'+n))
			for range 100 {
				_ = s.Set(ctx, key, []byte("v"))
				_, _, _ = s.Get(ctx, key)
				_, _ = s.Keys(ctx, "tasks.")
				_ = s.Delete(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}
