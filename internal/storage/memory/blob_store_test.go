package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/broken-image-crawler/internal/storage"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/log.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://path/log.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	got, err := store.Get(context.Background(), "path/log.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", got)
	}
	got[0] = 'X'
	again, _ := store.Get(context.Background(), "path/log.json")
	if string(again) != "content" {
		t.Fatalf("expected Get to return a copy, got %q", again)
	}
	if store.Writes("path/log.json") != 1 {
		t.Fatalf("expected one write, got %d", store.Writes("path/log.json"))
	}
}

func TestBlobStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
