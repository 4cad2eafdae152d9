// Package glyph derives glyph identifiers and produces and verifies
// authorship signatures.
//
// Identifier contract: dataHash is the hex sha2-256 of the canonical payload
// serialization; id is "0x" + hex(keccak256(dataHashBytes || source)). The
// same bytes ingested under two sources yield two distinct glyphs; identical
// (data, source) always re-derives the identical id.
package glyph

import (
	"crypto/ecdsa"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"xdao.co/glyphvault/canonical"
	"xdao.co/glyphvault/model"
)

// Factory assembles glyphs. It owns the signing identity and the optional
// post-quantum co-signing key; both are injected at construction and never
// read from ambient state.
type Factory struct {
	identity SigningIdentity
	pq       *pqSigner
	now      func() int64
}

// Option configures a Factory.
type Option func(*Factory)

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() int64) Option {
	return func(f *Factory) { f.now = now }
}

// NewFactory constructs a Factory for the given identity.
//
// The identity is mandatory: callers choosing the server tier must pass
// ServerAttestation{} explicitly rather than relying on a silent default.
func NewFactory(identity SigningIdentity, opts ...Option) (*Factory, error) {
	if identity == nil {
		return nil, model.NewError(model.KindConfiguration, "GV-GLYPH-001", "signing identity is required")
	}
	if lk, ok := identity.(LocalKey); ok && lk.Key == nil {
		return nil, model.NewError(model.KindConfiguration, "GV-GLYPH-002", "local key identity has no private key")
	}
	f := &Factory{
		identity: identity,
		now:      func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Create computes the data hash and id for (data, source), signs the data
// hash, and returns the assembled glyph.
func (f *Factory) Create(data map[string]any, source string) (*model.Glyph, error) {
	if source == "" {
		return nil, model.NewError(model.KindConfiguration, "GV-GLYPH-003", "source is required")
	}
	dataHash, err := canonical.Hash(data)
	if err != nil {
		return nil, err
	}
	id, err := DeriveID(dataHash, source)
	if err != nil {
		return nil, err
	}
	sig, err := f.identity.sign(dataHash)
	if err != nil {
		return nil, model.WrapError(model.KindCrypto, "GV-GLYPH-101", "signing failed", err)
	}

	g := &model.Glyph{
		ID:        id,
		DataHash:  dataHash,
		Source:    source,
		Timestamp: f.now(),
		Signer:    f.identity.signer(),
		Signature: sig,
		Data:      data,
		Verified:  true,
	}
	if f.pq != nil {
		if err := f.pq.cosign(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// DeriveID returns the glyph id for a hex data hash and a source string.
func DeriveID(dataHash, source string) (string, error) {
	hb, err := hex.DecodeString(strings.TrimPrefix(dataHash, "0x"))
	if err != nil || len(hb) != 32 {
		return "", model.WrapError(model.KindCanonical, "GV-GLYPH-004", "data hash must be 32 hex-encoded bytes", err)
	}
	sum := crypto.Keccak256(hb, []byte(source))
	return "0x" + hex.EncodeToString(sum), nil
}

// IDBytes decodes a glyph id into its raw 32 bytes.
func IDBytes(id string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(id, "0x"))
	if err != nil || len(b) != 32 {
		return nil, model.WrapError(model.KindCanonical, "GV-GLYPH-005", "glyph id must be 32 hex-encoded bytes", err)
	}
	return b, nil
}

// signPersonal signs dataHash (as text) under the Ethereum personal-message
// prefix and returns the 65-byte recoverable signature, hex encoded with the
// conventional V offset of 27.
func signPersonal(dataHash string, key *ecdsa.PrivateKey) (string, error) {
	digest := accounts.TextHash([]byte(dataHash))
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// serverAttestation is the deterministic fallback commitment. It is
// reproducible by anyone computing the same hash and therefore carries no
// authorship guarantee.
func serverAttestation(dataHash string) string {
	sum := crypto.Keccak256([]byte("server:" + dataHash))
	return "0x" + hex.EncodeToString(sum)
}
