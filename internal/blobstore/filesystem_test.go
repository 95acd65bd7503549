package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestFilesystemPutGetRoundTrip(t *testing.T) {
	d, err := NewFilesystemDriver(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemDriver: %v", err)
	}
	ctx := context.Background()
	key := BlobKey("sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	content := []byte("hello")

	if err := d.Put(ctx, key, bytes.NewReader(content), int64(len(content)), "application/octet-stream"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	exists, err := d.Exists(ctx, key)
	if err != nil || !exists {
		t.Fatalf("Exists: %v %v", exists, err)
	}

	r, ok, err := d.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("got %q want %q", got, content)
	}
}

func TestFilesystemGetMissing(t *testing.T) {
	d, err := NewFilesystemDriver(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemDriver: %v", err)
	}
	ctx := context.Background()
	_, ok, err := d.Get(ctx, BlobKey("sha256:deadbeef"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestFilesystemDelete(t *testing.T) {
	d, err := NewFilesystemDriver(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemDriver: %v", err)
	}
	ctx := context.Background()
	key := BlobKey("sha256:abc")
	d.Put(ctx, key, bytes.NewReader([]byte("x")), 1, "")

	existed, err := d.Delete(ctx, key)
	if err != nil || !existed {
		t.Fatalf("Delete: %v %v", existed, err)
	}

	existedAgain, err := d.Delete(ctx, key)
	if err != nil || existedAgain {
		t.Fatalf("second Delete should report not-existed: %v %v", existedAgain, err)
	}
}
