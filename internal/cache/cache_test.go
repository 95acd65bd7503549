package cache

import (
	"context"
	"testing"
	"time"
)

func testTTLs() TTLs {
	return TTLs{
		Manifest:     50 * time.Millisecond,
		BlobMeta:     time.Minute,
		Repositories: time.Minute,
		Tags:         time.Minute,
		AuthToken:    time.Minute,
		Permissions:  time.Minute,
		APIKey:       time.Minute,
		Session:      time.Minute,
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c := New(nil, testTTLs(), 10000)
	ctx := context.Background()

	if err := c.Set(ctx, NamespaceTags, "library/alpine", []string{"latest"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got []string
	ok, err := c.Get(ctx, NamespaceTags, "library/alpine", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got) != 1 || got[0] != "latest" {
		t.Fatalf("got %v", got)
	}
}

func TestGetMiss(t *testing.T) {
	c := New(nil, testTTLs(), 10000)
	var got string
	ok, err := c.Get(context.Background(), NamespaceTags, "nope", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestExpiry(t *testing.T) {
	c := New(nil, testTTLs(), 10000)
	ctx := context.Background()
	if err := c.Set(ctx, NamespaceManifest, "library/alpine:latest", "deadbeef"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(75 * time.Millisecond)
	var got string
	ok, _ := c.Get(ctx, NamespaceManifest, "library/alpine:latest", &got)
	if ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestInvalidate(t *testing.T) {
	c := New(nil, testTTLs(), 10000)
	ctx := context.Background()
	c.Set(ctx, NamespaceRepositories, "_all", []string{"a", "b"})
	c.Invalidate(ctx, NamespaceRepositories, "_all")

	var got []string
	ok, _ := c.Get(ctx, NamespaceRepositories, "_all", &got)
	if ok {
		t.Fatal("expected invalidated key to miss")
	}
}

func TestInvalidateNamespace(t *testing.T) {
	c := New(nil, testTTLs(), 10000)
	ctx := context.Background()
	c.Set(ctx, NamespaceTags, "a/b", []string{"v1"})
	c.Set(ctx, NamespaceTags, "c/d", []string{"v2"})
	c.InvalidateNamespace(ctx, NamespaceTags)

	var got []string
	ok, _ := c.Get(ctx, NamespaceTags, "a/b", &got)
	if ok {
		t.Fatal("expected namespace-wide invalidation to clear a/b")
	}
	ok, _ = c.Get(ctx, NamespaceTags, "c/d", &got)
	if ok {
		t.Fatal("expected namespace-wide invalidation to clear c/d")
	}
}

func TestEvictionDropsExpiredFirst(t *testing.T) {
	ttls := testTTLs()
	ttls.Manifest = time.Millisecond
	c := New(nil, ttls, 2)
	ctx := context.Background()

	c.Set(ctx, NamespaceManifest, "a", "1")
	time.Sleep(5 * time.Millisecond)
	c.Set(ctx, NamespaceManifest, "b", "2")
	c.Set(ctx, NamespaceManifest, "c", "3")

	var got string
	ok, _ := c.Get(ctx, NamespaceManifest, "a", &got)
	if ok {
		t.Fatal("expected expired entry 'a' to have been evicted")
	}
}

func TestHealthyWithoutRedis(t *testing.T) {
	c := New(nil, testTTLs(), 10000)
	if !c.Healthy(context.Background()) {
		t.Fatal("expected memory-only cache to report healthy")
	}
}
