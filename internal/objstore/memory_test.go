package objstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Put(ctx, "guest/t1/a.csv", "text/csv", "billing.csv", strings.NewReader("service,cost\nec2,42")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rc, info, err := s.Get(ctx, "guest/t1/a.csv")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "service,cost\nec2,42" {
		t.Errorf("unexpected body: %q", data)
	}
	if info.ContentType != "text/csv" {
		t.Errorf("unexpected contentType: %s", info.ContentType)
	}
	if info.FileName != "billing.csv" {
		t.Errorf("unexpected fileName: %s", info.FileName)
	}
	if info.Size != int64(len(data)) {
		t.Errorf("size %d does not match body length %d", info.Size, len(data))
	}
}

func TestMemoryStore_GetUnknownKey(t *testing.T) {
	s := NewMemoryStore()

	_, _, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Put(ctx, "k", "text/plain", "f.txt", strings.NewReader("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "k"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound on double delete, got %v", err)
	}
}

func TestMemoryStore_ListSortedByKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, key := range []string{"guest/t1/c.csv", "guest/t1/a.csv", "guest/t2/b.csv"} {
		if err := s.Put(ctx, key, "text/csv", key, strings.NewReader("data")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	objects, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(objects))
	}
	want := []string{"guest/t1/a.csv", "guest/t1/c.csv", "guest/t2/b.csv"}
	for i, key := range want {
		if objects[i].Key != key {
			t.Errorf("position %d: got %s, want %s", i, objects[i].Key, key)
		}
	}
}

func TestNewObjectKey(t *testing.T) {
	key := NewObjectKey("guest", "thread-1", "billing.csv")
	if !strings.HasPrefix(key, "guest/thread-1/") {
		t.Errorf("expected user/thread prefix, got %s", key)
	}
	if !strings.HasSuffix(key, ".csv") {
		t.Errorf("expected .csv extension preserved, got %s", key)
	}

	noExt := NewObjectKey("guest", "thread-1", "README")
	if !strings.HasSuffix(noExt, ".bin") {
		t.Errorf("expected .bin fallback for extensionless names, got %s", noExt)
	}

	a := NewObjectKey("guest", "thread-1", "billing.csv")
	b := NewObjectKey("guest", "thread-1", "billing.csv")
	if a == b {
		t.Error("expected unique keys for repeated uploads of the same name")
	}
}
