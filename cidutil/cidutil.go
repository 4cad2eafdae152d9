// Package cidutil derives the content identifiers used at the boundary with
// the distributed storage gateway: CIDv1, raw multicodec, sha2-256 multihash.
package cidutil

import (
	"encoding/hex"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CIDv1RawSHA256 returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// CIDFromHexDigest wraps an already-computed hex sha2-256 digest (such as a
// glyph data hash) as a CIDv1 without rehashing the payload.
func CIDFromHexDigest(digestHex string) (cid.Cid, error) {
	d, err := hex.DecodeString(digestHex)
	if err != nil {
		return cid.Undef, err
	}
	mh, err := multihash.Encode(d, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}
