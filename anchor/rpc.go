package anchor

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"xdao.co/glyphvault/merkle"
	"xdao.co/glyphvault/model"
)

// NewFromRPC dials an Ethereum JSON-RPC endpoint and constructs a Client for
// it. Endpoint, key and contract address must all be supplied explicitly;
// none defaults to a published value.
func NewFromRPC(ctx context.Context, rpcURL, keyHex, contractHex string, opts ...Option) (*Client, error) {
	if rpcURL == "" {
		return nil, model.NewError(model.KindConfiguration, "GV-CHAIN-040", "chain rpc endpoint is required")
	}
	key, err := ParseKeyHex(keyHex)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(contractHex) {
		return nil, model.NewError(model.KindConfiguration, "GV-CHAIN-042", "anchoring contract address is invalid")
	}
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, model.WrapError(model.KindChain, "GV-CHAIN-043", "dial chain rpc", err)
	}
	return New(backend, key, common.HexToAddress(contractHex), opts...)
}

// ParseKeyHex decodes a hex-encoded secp256k1 private key.
func ParseKeyHex(keyHex string) (*ecdsa.PrivateKey, error) {
	if keyHex == "" {
		return nil, model.NewError(model.KindConfiguration, "GV-CHAIN-041", "chain signing key is required")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, model.WrapError(model.KindConfiguration, "GV-CHAIN-041", "chain signing key is invalid", err)
	}
	return key, nil
}

// VerifyInclusion checks a Merkle inclusion proof entirely offline against a
// known anchored root. Any malformed input is simply false.
func VerifyInclusion(rootHex, leafID string, proofHex []string) bool {
	root, err := merkle.ParseHash(rootHex)
	if err != nil {
		return false
	}
	proof := make([]merkle.Hash, len(proofHex))
	for i, p := range proofHex {
		h, err := merkle.ParseHash(p)
		if err != nil {
			return false
		}
		proof[i] = h
	}
	return merkle.Verify(root, leafID, proof)
}
