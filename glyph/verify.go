package glyph

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"xdao.co/glyphvault/canonical"
	"xdao.co/glyphvault/model"
)

// Verify recomputes signature validity for a glyph. It never returns an
// error: any malformed signer, signature or recovery failure is simply
// false, so callers can assemble audit reports without special-casing.
//
// Server-tier glyphs are checked by recomputing the attestation commitment;
// key-tier glyphs by recovering the signer address from (dataHash,
// signature) and comparing case-insensitively.
func Verify(g *model.Glyph) bool {
	if g == nil || g.DataHash == "" || g.Signature == "" {
		return false
	}
	if g.Signer == model.SignerServer {
		return constantEq(g.Signature, serverAttestation(g.DataHash))
	}
	return verifyPersonal(g.DataHash, g.Signature, g.Signer)
}

// DataIntact reports whether the stored payload still hashes to DataHash.
// Glyphs retained without payload (metadata only) are vacuously intact.
func DataIntact(g *model.Glyph) bool {
	if g == nil {
		return false
	}
	if g.Data == nil {
		return true
	}
	h, err := canonical.Hash(g.Data)
	if err != nil {
		return false
	}
	return h == g.DataHash
}

func verifyPersonal(dataHash, signature, signer string) bool {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(raw) != 65 {
		return false
	}
	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return false
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(dataHash)), sig)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pub)
	return strings.EqualFold(recovered.Hex(), signer)
}

func constantEq(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := 0; i < len(a); i++ {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
