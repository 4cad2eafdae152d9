// Package anchor submits Merkle batch roots to the anchoring contract and
// checks anchor status.
//
// This is the only part of the core that performs slow network round-trips:
// every operation takes a context, submission is timeout-bounded, and a root
// that is already anchored is detected before any transaction is built, so
// retries never produce duplicate on-chain writes.
package anchor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"xdao.co/glyphvault/merkle"
	"xdao.co/glyphvault/model"
)

// Contract surface: anchor a 32-byte root, read anchor status and timestamp.
// The contract also emits Anchored(root, timestamp).
const anchorABIJSON = `[
	{"type":"function","name":"anchor","stateMutability":"nonpayable","inputs":[{"name":"root","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"isAnchored","stateMutability":"view","inputs":[{"name":"root","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"anchoredAt","stateMutability":"view","inputs":[{"name":"root","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Anchored","inputs":[{"name":"root","type":"bytes32","indexed":true},{"name":"timestamp","type":"uint256","indexed":false}]}
]`

var anchorABI = mustABI(anchorABIJSON)

func mustABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic("anchor: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

// Backend is the slice of an Ethereum JSON-RPC client the anchor client
// needs. *ethclient.Client satisfies it; tests use an in-memory fake.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client anchors Merkle roots through a contract. All dependencies are
// injected at construction; there is no ambient configuration.
type Client struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	log      *zap.Logger

	confirmTimeout time.Duration
	pollInterval   time.Duration
	sendRetries    int
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a logger. The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithConfirmTimeout bounds the wait for transaction confirmation.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Client) { c.confirmTimeout = d }
}

// WithPollInterval sets the receipt polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithSendRetries sets how many times a failed submission is retried.
func WithSendRetries(n int) Option {
	return func(c *Client) { c.sendRetries = n }
}

// New constructs a Client. Backend, signing key and contract address are all
// mandatory; a missing one is a Configuration error and no transaction is
// ever attempted.
func New(backend Backend, key *ecdsa.PrivateKey, contract common.Address, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, model.NewError(model.KindConfiguration, "GV-CHAIN-001", "chain backend is required")
	}
	if key == nil {
		return nil, model.NewError(model.KindConfiguration, "GV-CHAIN-002", "chain signing key is required")
	}
	if contract == (common.Address{}) {
		return nil, model.NewError(model.KindConfiguration, "GV-CHAIN-003", "anchoring contract address is required")
	}
	c := &Client{
		backend:        backend,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		contract:       contract,
		log:            zap.NewNop(),
		confirmTimeout: 2 * time.Minute,
		pollInterval:   2 * time.Second,
		sendRetries:    3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Anchor computes the Merkle root of ids, checks whether it is already
// anchored, and if not submits an anchor transaction and waits for its
// confirmation.
func (c *Client) Anchor(ctx context.Context, ids []string) (*model.AnchorResult, error) {
	root, err := merkle.Root(ids)
	if err != nil {
		return nil, err
	}

	anchored, _, err := c.IsAnchored(ctx, root)
	if err != nil {
		return nil, err
	}
	if anchored {
		c.log.Info("root already anchored", zap.String("root", root.Hex()))
		return &model.AnchorResult{
			Status:     model.AnchorAlreadyAnchored,
			Root:       root.Hex(),
			GlyphCount: len(ids),
		}, nil
	}

	receipt, txHash, err := c.submit(ctx, root)
	if err != nil {
		return nil, err
	}
	c.log.Info("root anchored",
		zap.String("root", root.Hex()),
		zap.String("tx", txHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	return &model.AnchorResult{
		Status:      model.AnchorSubmitted,
		Root:        root.Hex(),
		GlyphCount:  len(ids),
		TxHash:      txHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// IsAnchored reports whether root is anchored and, if so, the on-chain
// anchoring timestamp.
func (c *Client) IsAnchored(ctx context.Context, root merkle.Hash) (bool, int64, error) {
	out, err := c.view(ctx, "isAnchored", root)
	if err != nil {
		return false, 0, err
	}
	var anchored bool
	if err := anchorABI.UnpackIntoInterface(&anchored, "isAnchored", out); err != nil {
		return false, 0, model.WrapError(model.KindChain, "GV-CHAIN-011", "decode isAnchored result", err)
	}
	if !anchored {
		return false, 0, nil
	}

	out, err = c.view(ctx, "anchoredAt", root)
	if err != nil {
		return false, 0, err
	}
	ts := new(big.Int)
	if err := anchorABI.UnpackIntoInterface(&ts, "anchoredAt", out); err != nil {
		return false, 0, model.WrapError(model.KindChain, "GV-CHAIN-012", "decode anchoredAt result", err)
	}
	return true, ts.Int64(), nil
}

func (c *Client) view(ctx context.Context, method string, root merkle.Hash) ([]byte, error) {
	data, err := anchorABI.Pack(method, [32]byte(root))
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "GV-CHAIN-010", "pack "+method+" call", err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, model.WrapError(model.KindChain, "GV-CHAIN-013", method+" call failed", err)
	}
	return out, nil
}

func (c *Client) submit(ctx context.Context, root merkle.Hash) (*types.Receipt, common.Hash, error) {
	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, common.Hash{}, model.WrapError(model.KindChain, "GV-CHAIN-020", "fetch chain id", err)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, common.Hash{}, model.WrapError(model.KindChain, "GV-CHAIN-021", "fetch nonce", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, common.Hash{}, model.WrapError(model.KindChain, "GV-CHAIN-022", "fetch gas price", err)
	}
	data, err := anchorABI.Pack("anchor", [32]byte(root))
	if err != nil {
		return nil, common.Hash{}, model.WrapError(model.KindInternal, "GV-CHAIN-023", "pack anchor call", err)
	}
	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		return nil, common.Hash{}, model.WrapError(model.KindChain, "GV-CHAIN-024", "estimate gas", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return nil, common.Hash{}, model.WrapError(model.KindChain, "GV-CHAIN-025", "sign transaction", err)
	}

	if err := c.send(ctx, signed); err != nil {
		return nil, common.Hash{}, err
	}
	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, common.Hash{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, common.Hash{}, model.NewError(model.KindChain, "GV-CHAIN-030", "anchor transaction reverted")
	}
	return receipt, signed.Hash(), nil
}

// send submits with bounded retries and linear backoff. Nonce and signature
// are fixed, so a duplicate submission of the same tx is harmless.
func (c *Client) send(ctx context.Context, tx *types.Transaction) error {
	var lastErr error
	for attempt := 0; attempt <= c.sendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return model.WrapError(model.KindChain, "GV-CHAIN-026", "submission cancelled", ctx.Err())
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		lastErr = c.backend.SendTransaction(ctx, tx)
		if lastErr == nil {
			return nil
		}
		c.log.Warn("anchor submission failed",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return model.WrapError(model.KindChain, "GV-CHAIN-027", "anchor submission failed", lastErr)
}

func (c *Client) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, model.WrapError(model.KindChain, "GV-CHAIN-028", "fetch receipt", err)
		}
		select {
		case <-ctx.Done():
			return nil, model.WrapError(model.KindChain, "GV-CHAIN-029", "confirmation timed out", ctx.Err())
		case <-ticker.C:
		}
	}
}
