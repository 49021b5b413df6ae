package memory

import (
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := New()
	payload := []byte("png-bytes")
	uri, err := store.PutObject(context.Background(), "tributario/task-1/resultado.png", "image/png", payload)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "mem://tributario/task-1/resultado.png" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'P'
	stored, ok := store.Get("tributario/task-1/resultado.png")
	if !ok || string(stored) != "png-bytes" {
		t.Fatalf("expected stored copy to be immutable, got %q ok=%v", stored, ok)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 object, got %d", store.Len())
	}
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	store := New()
	if _, err := store.PutObject(context.Background(), "", "image/png", []byte("x")); err == nil {
		t.Fatal("expected error for empty path")
	}
}
