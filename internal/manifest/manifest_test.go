package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestParseDigestIsByteExact(t *testing.T) {
	raw := []byte(`{"mediaType":"application/vnd.oci.image.manifest.v1+json","config":{"mediaType":"application/vnd.oci.image.config.v1+json","digest":"sha256:aaaa","size":10},"layers":[{"mediaType":"application/vnd.oci.image.layer.v1.tar","digest":"sha256:bbbb","size":20}]}`)

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	sum := sha256.Sum256(raw)
	want := "sha256:" + hex.EncodeToString(sum[:])
	if p.Digest.String() != want {
		t.Fatalf("digest = %s, want %s", p.Digest, want)
	}
	if len(p.References) != 2 {
		t.Fatalf("expected 2 references, got %d: %v", len(p.References), p.References)
	}
}

func TestParseRejectsNonJSON(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected error for non-JSON body")
	}
}

func TestParseManifestListReferences(t *testing.T) {
	raw := []byte(`{"mediaType":"application/vnd.oci.image.index.v1+json","manifests":[{"mediaType":"application/vnd.oci.image.manifest.v1+json","digest":"sha256:cccc","size":5},{"mediaType":"application/vnd.oci.image.manifest.v1+json","digest":"sha256:dddd","size":6}]}`)

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p.References) != 2 {
		t.Fatalf("expected 2 references for manifest list, got %d", len(p.References))
	}
}

func TestParseDefaultsMediaType(t *testing.T) {
	p, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.MediaType != "application/octet-stream" {
		t.Fatalf("expected default media type, got %s", p.MediaType)
	}
}
