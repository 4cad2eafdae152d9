package glyph

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"

	"xdao.co/glyphvault/model"
)

// SigningIdentity is the tagged choice of authorship attestation.
//
// LocalKey produces a recoverable secp256k1 personal-message signature; the
// signer is the key's derived address. ServerAttestation produces a hash
// commitment under the sentinel identity model.SignerServer. The two are
// deliberately distinct assurance tiers and verification never conflates
// them.
type SigningIdentity interface {
	signer() string
	sign(dataHash string) (string, error)
}

// LocalKey signs with a secp256k1 private key.
type LocalKey struct {
	Key *ecdsa.PrivateKey
}

func (l LocalKey) signer() string {
	return crypto.PubkeyToAddress(l.Key.PublicKey).Hex()
}

func (l LocalKey) sign(dataHash string) (string, error) {
	return signPersonal(dataHash, l.Key)
}

// ServerAttestation is the fallback identity used when no local key is
// configured. The attestation is reproducible by anyone holding the data
// hash; it proves vault custody, not authorship.
type ServerAttestation struct{}

func (ServerAttestation) signer() string { return model.SignerServer }

func (ServerAttestation) sign(dataHash string) (string, error) {
	return serverAttestation(dataHash), nil
}
