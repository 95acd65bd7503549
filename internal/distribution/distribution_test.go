package distribution

import (
	"net/http/httptest"
	"testing"

	"github.com/registryx/regserver/internal/authz"
)

func TestParsePaginationDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/v2/_catalog", nil)
	n, last := parsePagination(r)
	if n != defaultPageSize {
		t.Fatalf("expected default page size %d, got %d", defaultPageSize, n)
	}
	if last != "" {
		t.Fatalf("expected empty last, got %q", last)
	}
}

func TestParsePaginationClampsToMax(t *testing.T) {
	r := httptest.NewRequest("GET", "/v2/_catalog?n=5000&last=foo", nil)
	n, last := parsePagination(r)
	if n != maxPageSize {
		t.Fatalf("expected n clamped to %d, got %d", maxPageSize, n)
	}
	if last != "foo" {
		t.Fatalf("expected last=foo, got %q", last)
	}
}

func TestParsePaginationIgnoresGarbage(t *testing.T) {
	r := httptest.NewRequest("GET", "/v2/_catalog?n=not-a-number", nil)
	n, _ := parsePagination(r)
	if n != defaultPageSize {
		t.Fatalf("expected fallback to default on unparseable n, got %d", n)
	}
}

func TestParsePaginationAllowsZero(t *testing.T) {
	r := httptest.NewRequest("GET", "/v2/_catalog?n=0", nil)
	n, _ := parsePagination(r)
	if n != 0 {
		t.Fatalf("expected n=0 to be honored (empty page), got %d", n)
	}
}

func TestParseContentRange(t *testing.T) {
	start, end, ok := parseContentRange("0-1023")
	if !ok || start != 0 || end != 1023 {
		t.Fatalf("expected (0, 1023, true), got (%d, %d, %v)", start, end, ok)
	}
}

func TestParseContentRangeEmpty(t *testing.T) {
	if _, _, ok := parseContentRange(""); ok {
		t.Fatal("expected ok=false for empty header")
	}
}

func TestParseContentRangeMalformed(t *testing.T) {
	cases := []string{"abc", "0", "0-abc", "abc-100"}
	for _, c := range cases {
		if _, _, ok := parseContentRange(c); ok {
			t.Fatalf("expected ok=false for malformed header %q", c)
		}
	}
}

func TestScopeFor(t *testing.T) {
	cases := []struct {
		action authz.Action
		want   string
	}{
		{authz.ActionPull, "repository:library/nginx:pull"},
		{authz.ActionPush, "repository:library/nginx:push"},
		{authz.ActionDelete, "repository:library/nginx:delete"},
	}
	for _, c := range cases {
		if got := scopeFor("library/nginx", c.action); got != c.want {
			t.Fatalf("scopeFor(%v) = %q, want %q", c.action, got, c.want)
		}
	}
}
