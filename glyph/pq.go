package glyph

import (
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"xdao.co/glyphvault/model"
)

// GenerateDilithium3Keypair returns a new Dilithium3 keypair.
func GenerateDilithium3Keypair(rand io.Reader) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return mode3.GenerateKey(rand)
}

// Dilithium3 co-signatures are an optional, additional assurance tier: a
// glyph signed by a secp256k1 key can also carry a post-quantum signature
// over the same data hash. Verification of the two tiers is independent.

const pqPrefix = "dilithium3:"

type pqSigner struct {
	pub  *mode3.PublicKey
	priv *mode3.PrivateKey
}

// WithPQCosigner configures the factory to attach a Dilithium3 co-signature
// to every glyph it creates.
func WithPQCosigner(pub *mode3.PublicKey, priv *mode3.PrivateKey) Option {
	return func(f *Factory) { f.pq = &pqSigner{pub: pub, priv: priv} }
}

func (p *pqSigner) cosign(g *model.Glyph) error {
	if p.pub == nil || p.priv == nil {
		return model.NewError(model.KindConfiguration, "GV-GLYPH-010", "dilithium3 co-signer requires both keys")
	}
	pubBytes, err := p.pub.MarshalBinary()
	if err != nil {
		return model.WrapError(model.KindCrypto, "GV-GLYPH-011", "dilithium3 public key marshal failed", err)
	}
	digest := sha256.Sum256([]byte(g.DataHash))
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(p.priv, digest[:], sig)

	g.PQSigner = pqPrefix + base64.StdEncoding.EncodeToString(pubBytes)
	g.PQSignature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// VerifyPQ checks the optional Dilithium3 co-signature. Glyphs without one
// report false; use HasPQ to distinguish "absent" from "invalid".
func VerifyPQ(g *model.Glyph) bool {
	if !HasPQ(g) {
		return false
	}
	enc, ok := strings.CutPrefix(g.PQSigner, pqPrefix)
	if !ok {
		return false
	}
	pubBytes, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return false
	}
	var pub mode3.PublicKey
	if err := pub.UnmarshalBinary(pubBytes); err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(g.PQSignature)
	if err != nil || len(sig) != mode3.SignatureSize {
		return false
	}
	digest := sha256.Sum256([]byte(g.DataHash))
	return mode3.Verify(&pub, digest[:], sig)
}

// HasPQ reports whether the glyph carries a post-quantum co-signature.
func HasPQ(g *model.Glyph) bool {
	return g != nil && g.PQSigner != "" && g.PQSignature != ""
}
