package cidutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

func TestCIDv1RawSHA256(t *testing.T) {
	data := []byte("glyph payload bytes")

	id, err := CIDv1RawSHA256(data)
	if err != nil {
		t.Fatalf("CIDv1RawSHA256: %v", err)
	}
	if id.Version() != 1 {
		t.Fatalf("expected CIDv1, got v%d", id.Version())
	}
	if id.Type() != cid.Raw {
		t.Fatalf("expected raw codec, got %d", id.Type())
	}
	decoded, err := multihash.Decode(id.Hash())
	if err != nil {
		t.Fatalf("decode multihash: %v", err)
	}
	if decoded.Code != multihash.SHA2_256 {
		t.Fatalf("expected sha2-256 multihash, got %d", decoded.Code)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(decoded.Digest) != hex.EncodeToString(sum[:]) {
		t.Fatalf("multihash digest does not match sha256 of the data")
	}
}

func TestCIDFromHexDigestMatchesDirectDerivation(t *testing.T) {
	data := []byte(`{"a":1,"b":"two"}`)
	sum := sha256.Sum256(data)

	direct, err := CIDv1RawSHA256(data)
	if err != nil {
		t.Fatalf("CIDv1RawSHA256: %v", err)
	}
	wrapped, err := CIDFromHexDigest(hex.EncodeToString(sum[:]))
	if err != nil {
		t.Fatalf("CIDFromHexDigest: %v", err)
	}
	if !direct.Equals(wrapped) {
		t.Fatalf("wrapping the digest must yield the same CID: %s vs %s", direct, wrapped)
	}
}

func TestCIDFromHexDigestRejectsBadHex(t *testing.T) {
	if _, err := CIDFromHexDigest("zz" + strings.Repeat("00", 31)); err == nil {
		t.Fatalf("expected error for invalid hex")
	}
}
