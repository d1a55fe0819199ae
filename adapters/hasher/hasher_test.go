package hasher_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/artpar/metergate/adapters/hasher"
	"golang.org/x/crypto/bcrypt"
)

func TestBcrypt_NewBcrypt_InvalidCost(t *testing.T) {
	if got := hasher.NewBcrypt(1).Cost(); got != bcrypt.DefaultCost {
		t.Errorf("cost 1 -> %d, want default", got)
	}
	if got := hasher.NewBcrypt(100).Cost(); got != bcrypt.DefaultCost {
		t.Errorf("cost 100 -> %d, want default", got)
	}
	if got := hasher.NewBcrypt(bcrypt.MinCost).Cost(); got != bcrypt.MinCost {
		t.Errorf("cost = %d, want %d", got, bcrypt.MinCost)
	}
}

func TestBcrypt_HashAndCompare(t *testing.T) {
	h := hasher.NewBcrypt(bcrypt.MinCost) // Use min cost for speed in tests

	hash, err := h.Hash("pw1")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if len(hash) == 0 || hash[0] != '$' {
		t.Errorf("expected bcrypt format, got %q", hash)
	}
	if !h.Compare(hash, "pw1") {
		t.Error("correct password should match")
	}
	if h.Compare(hash, "pw2") {
		t.Error("wrong password should not match")
	}
}

func TestBcrypt_Hash_SameInputDifferentOutput(t *testing.T) {
	h := hasher.NewBcrypt(bcrypt.MinCost)

	hash1, _ := h.Hash("password")
	hash2, _ := h.Hash("password")

	if string(hash1) == string(hash2) {
		t.Error("bcrypt should salt each hash")
	}
}

func TestBcrypt_Hash_TooLong(t *testing.T) {
	h := hasher.NewBcrypt(bcrypt.MinCost)

	_, err := h.Hash(strings.Repeat("x", 73))
	if !errors.Is(err, hasher.ErrTooLong) {
		t.Errorf("err = %v, want ErrTooLong", err)
	}
}

func TestBcrypt_Compare_NilHash(t *testing.T) {
	h := hasher.NewBcrypt(bcrypt.MinCost)

	if h.Compare(nil, "anything") {
		t.Error("nil hash must never match")
	}
	// second call reuses the dummy hash
	if h.Compare(nil, "") {
		t.Error("nil hash must never match")
	}
}

func TestFake(t *testing.T) {
	f := hasher.Fake{}

	hash, err := f.Hash("secret")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if string(hash) == "secret" {
		t.Error("fake hash should not equal plaintext")
	}
	if !f.Compare(hash, "secret") {
		t.Error("expected match")
	}
	if f.Compare(hash, "other") {
		t.Error("expected mismatch")
	}
	if f.Compare(nil, "") {
		t.Error("nil hash must never match")
	}
}
