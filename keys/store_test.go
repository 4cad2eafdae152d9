package keys

import (
	"bytes"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestGenerateAndLoadSigningKey(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	addr, path, err := s.GenerateSigningKey("alice", false)
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	if path != s.signerKeyPath("alice") {
		t.Fatalf("unexpected key path %q", path)
	}

	key, err := s.LoadSigningKey("alice")
	if err != nil {
		t.Fatalf("LoadSigningKey: %v", err)
	}
	if got := crypto.PubkeyToAddress(key.PublicKey); got != addr {
		t.Fatalf("loaded key address %s, generated %s", got, addr)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 key file, got %o", perm)
	}
}

func TestGenerateSigningKeyNoOverwrite(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, _, err := s.GenerateSigningKey("alice", false); err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	if _, _, err := s.GenerateSigningKey("alice", false); err == nil {
		t.Fatalf("expected error generating over an existing key")
	}
	if _, _, err := s.GenerateSigningKey("alice", true); err != nil {
		t.Fatalf("overwrite should succeed: %v", err)
	}
}

func TestImportSigningKey(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	addr, _, err := s.ImportSigningKey("bob", "0x"+testKeyHex, false)
	if err != nil {
		t.Fatalf("ImportSigningKey: %v", err)
	}
	want, err := ParseKeyHex(testKeyHex)
	if err != nil {
		t.Fatalf("ParseKeyHex: %v", err)
	}
	if addr != crypto.PubkeyToAddress(want.PublicKey) {
		t.Fatalf("imported key address mismatch")
	}

	got, err := s.Address("bob")
	if err != nil {
		t.Fatalf("Address: %v", err)
	}
	if got != addr {
		t.Fatalf("Address returned %s, want %s", got, addr)
	}
}

func TestCheckKeyName(t *testing.T) {
	for _, name := range []string{"alice", "signer-01", "A_b9"} {
		if err := CheckKeyName(name); err != nil {
			t.Fatalf("CheckKeyName(%q): %v", name, err)
		}
	}
	for _, name := range []string{"", "a b", "../escape", "dot.dot"} {
		if err := CheckKeyName(name); err == nil {
			t.Fatalf("CheckKeyName(%q): expected error", name)
		}
	}
}

func TestPQSeedDeterministicKeypair(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, _, err := s.GenerateSigningKey("alice", false); err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	if _, err := s.GeneratePQSeed("alice", false); err != nil {
		t.Fatalf("GeneratePQSeed: %v", err)
	}

	pub1, _, err := s.LoadPQKeypair("alice")
	if err != nil {
		t.Fatalf("LoadPQKeypair: %v", err)
	}
	pub2, _, err := s.LoadPQKeypair("alice")
	if err != nil {
		t.Fatalf("LoadPQKeypair: %v", err)
	}
	b1, err := pub1.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	b2, err := pub2.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected the same seed to derive the same keypair")
	}
}

func TestPQSeedRequiresSigningKey(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := s.GeneratePQSeed("ghost", false); err == nil {
		t.Fatalf("expected error for a seed without a signing key")
	}
}

func TestList(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, _, err := s.GenerateSigningKey("zeta", false); err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	if _, _, err := s.GenerateSigningKey("alpha", false); err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	if _, err := s.GeneratePQSeed("alpha", false); err != nil {
		t.Fatalf("GeneratePQSeed: %v", err)
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "alpha" || entries[1].Name != "zeta" {
		t.Fatalf("expected sorted names, got %q %q", entries[0].Name, entries[1].Name)
	}
	if !entries[0].HasPQ || entries[1].HasPQ {
		t.Fatalf("HasPQ flags wrong: %+v", entries)
	}
}
