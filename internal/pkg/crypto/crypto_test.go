package crypto_test

import (
	"testing"

	"github.com/sgunadhya/oxidesk/internal/pkg/crypto"
)

func TestSealRoundTrip(t *testing.T) {
	s, err := crypto.NewSealer("correct horse battery staple")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	sealed, err := s.Seal("imap-password")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed == "imap-password" {
		t.Fatal("sealed value must not equal plaintext")
	}
	plain, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if plain != "imap-password" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestOpenWithWrongSecretFails(t *testing.T) {
	a, _ := crypto.NewSealer("secret-a")
	b, _ := crypto.NewSealer("secret-b")

	sealed, _ := a.Seal("value")
	if _, err := b.Open(sealed); err == nil {
		t.Fatal("expected decryption failure with the wrong secret")
	}
}

func TestSealIsNondeterministic(t *testing.T) {
	s, _ := crypto.NewSealer("secret")
	one, _ := s.Seal("value")
	two, _ := s.Seal("value")
	if one == two {
		t.Fatal("expected unique nonces per seal")
	}
}

func TestEmptySecretRejected(t *testing.T) {
	if _, err := crypto.NewSealer(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
