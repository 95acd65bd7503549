package authn

import "testing"

func TestArgon2RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword("correct horse battery staple", hash) {
		t.Fatal("expected password to verify")
	}
	if CheckPassword("wrong password", hash) {
		t.Fatal("expected wrong password to fail")
	}
}

func TestLegacyBcryptStillVerifies(t *testing.T) {
	hash, err := legacyBcryptHash("old-style-password")
	if err != nil {
		t.Fatalf("legacyBcryptHash: %v", err)
	}
	if !CheckPassword("old-style-password", hash) {
		t.Fatal("expected legacy bcrypt hash to still verify")
	}
}

func TestNewHashesAreArgon2id(t *testing.T) {
	hash, err := HashPassword("anything")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash[:10] != "$argon2id$" {
		t.Fatalf("expected new hash to be argon2id, got %q", hash)
	}
}
