package anchor

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"xdao.co/glyphvault/merkle"
	"xdao.co/glyphvault/model"
)

// fakeBackend simulates the anchoring contract in memory.
type fakeBackend struct {
	mu        sync.Mutex
	anchored  map[[32]byte]int64
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	block     uint64
	failSends int
	revertAll bool
	dropTxs   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		anchored: make(map[[32]byte]int64),
		receipts: make(map[common.Hash]*types.Receipt),
		block:    100,
	}
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(msg.Data) < 36 {
		return nil, errors.New("fake: short calldata")
	}
	var root [32]byte
	copy(root[:], msg.Data[4:36])
	ts, ok := f.anchored[root]

	switch {
	case bytes.Equal(msg.Data[:4], anchorABI.Methods["isAnchored"].ID):
		return anchorABI.Methods["isAnchored"].Outputs.Pack(ok)
	case bytes.Equal(msg.Data[:4], anchorABI.Methods["anchoredAt"].ID):
		return anchorABI.Methods["anchoredAt"].Outputs.Pack(big.NewInt(ts))
	default:
		return nil, errors.New("fake: unknown method")
	}
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return errors.New("fake: transient send failure")
	}
	f.sent = append(f.sent, tx)
	if f.dropTxs {
		return nil
	}

	data := tx.Data()
	var root [32]byte
	copy(root[:], data[4:36])

	status := types.ReceiptStatusSuccessful
	if f.revertAll {
		status = types.ReceiptStatusFailed
	} else {
		f.anchored[root] = time.Now().Unix()
	}
	f.block++
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(f.block),
		GasUsed:     51_234,
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func testClient(t *testing.T, backend Backend, opts ...Option) *Client {
	t.Helper()
	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	opts = append([]Option{
		WithConfirmTimeout(2 * time.Second),
		WithPollInterval(5 * time.Millisecond),
	}, opts...)
	c, err := New(backend, key, common.HexToAddress("0x00000000000000000000000000000000000000aa"), opts...)
	require.NoError(t, err)
	return c
}

func batchIDs(n int) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		sum := crypto.Keccak256([]byte(fmt.Sprintf("glyph-%d", i)))
		ids[i] = "0x" + hex.EncodeToString(sum)
	}
	return ids
}

func TestAnchor_SubmitsAndConfirms(t *testing.T) {
	backend := newFakeBackend()
	c := testClient(t, backend)
	ids := batchIDs(4)

	res, err := c.Anchor(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, model.AnchorSubmitted, res.Status)
	require.Equal(t, 4, res.GlyphCount)
	require.NotEmpty(t, res.TxHash)
	require.NotZero(t, res.BlockNumber)
	require.NotZero(t, res.GasUsed)
	require.Len(t, backend.sent, 1)

	root, err := merkle.Root(ids)
	require.NoError(t, err)
	require.Equal(t, root.Hex(), res.Root)

	anchored, ts, err := c.IsAnchored(context.Background(), root)
	require.NoError(t, err)
	require.True(t, anchored)
	require.NotZero(t, ts)
}

func TestAnchor_Idempotent(t *testing.T) {
	backend := newFakeBackend()
	c := testClient(t, backend)
	ids := batchIDs(3)

	first, err := c.Anchor(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, model.AnchorSubmitted, first.Status)

	second, err := c.Anchor(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, model.AnchorAlreadyAnchored, second.Status)
	require.Empty(t, second.TxHash)

	// Exactly one on-chain transaction for the batch.
	require.Len(t, backend.sent, 1)
}

func TestAnchor_RevertIsChainError(t *testing.T) {
	backend := newFakeBackend()
	backend.revertAll = true
	c := testClient(t, backend)

	_, err := c.Anchor(context.Background(), batchIDs(2))
	require.True(t, model.IsKind(err, model.KindChain), "got %v", err)
}

func TestAnchor_ConfirmationTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.dropTxs = true
	c := testClient(t, backend, WithConfirmTimeout(50*time.Millisecond))

	_, err := c.Anchor(context.Background(), batchIDs(2))
	require.True(t, model.IsKind(err, model.KindChain), "got %v", err)
}

func TestAnchor_RetriesTransientSendFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.failSends = 1
	c := testClient(t, backend, WithSendRetries(2))

	res, err := c.Anchor(context.Background(), batchIDs(2))
	require.NoError(t, err)
	require.Equal(t, model.AnchorSubmitted, res.Status)
}

func TestAnchor_EmptyBatchRejected(t *testing.T) {
	c := testClient(t, newFakeBackend())
	_, err := c.Anchor(context.Background(), nil)
	require.Error(t, err)
}

func TestNew_ConfigurationErrors(t *testing.T) {
	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	contract := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	_, err = New(nil, key, contract)
	require.True(t, model.IsKind(err, model.KindConfiguration))

	_, err = New(newFakeBackend(), nil, contract)
	require.True(t, model.IsKind(err, model.KindConfiguration))

	_, err = New(newFakeBackend(), key, common.Address{})
	require.True(t, model.IsKind(err, model.KindConfiguration))
}

func TestVerifyInclusion_Offline(t *testing.T) {
	ids := batchIDs(5)
	root, err := merkle.Root(ids)
	require.NoError(t, err)
	proof, err := merkle.Proof(ids, ids[1])
	require.NoError(t, err)

	proofHex := make([]string, len(proof))
	for i, p := range proof {
		proofHex[i] = p.Hex()
	}
	require.True(t, VerifyInclusion(root.Hex(), ids[1], proofHex))
	require.False(t, VerifyInclusion(root.Hex(), ids[0], proofHex))
	require.False(t, VerifyInclusion("0xzz", ids[1], proofHex))
}
