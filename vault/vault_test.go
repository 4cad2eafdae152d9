package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"xdao.co/glyphvault/anchor"
	"xdao.co/glyphvault/glyph"
	"xdao.co/glyphvault/ledger"
	"xdao.co/glyphvault/model"
	"xdao.co/glyphvault/storage/localfs"
)

func newTestVault(t *testing.T, opts ...VaultOption) *Vault {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "blobs"), "test passphrase")
	require.NoError(t, err)
	led, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })
	factory, err := glyph.NewFactory(glyph.ServerAttestation{})
	require.NoError(t, err)

	v, err := New(store, led, factory, opts...)
	require.NoError(t, err)
	return v
}

func TestVault_CreateGetRoundTrip(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	g, err := v.Create(ctx, map[string]any{"title": "A", "body": "B"}, "upload://1")
	require.NoError(t, err)

	got, err := v.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, g.ID, got.ID)
	require.Equal(t, g.DataHash, got.DataHash)
	require.Equal(t, "A", got.Data["title"])

	trail, err := v.ledger.AuditTrail(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	require.Equal(t, model.ActionCreated, trail[0].Action)
	require.Equal(t, model.ActionAccessed, trail[1].Action)
}

func TestVault_CreateIdempotent(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	data := map[string]any{"title": "A"}

	g1, err := v.Create(ctx, data, "upload://1")
	require.NoError(t, err)
	g2, err := v.Create(ctx, data, "upload://1")
	require.NoError(t, err)
	require.Equal(t, g1.ID, g2.ID)

	trail, err := v.ledger.AuditTrail(ctx, g1.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1, "re-creation must not add audit entries")
}

func TestVault_ConcurrentSameIDCreates(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	data := map[string]any{"title": "A"}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	ids := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := v.Create(ctx, data, "upload://race")
			errs[i] = err
			if g != nil {
				ids[i] = g.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}
	trail, err := v.ledger.AuditTrail(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, trail, 1, "exactly one CREATED entry for racing creations")
}

func TestVault_GetUnknownIsNotFound(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Get(context.Background(), "0xdoesnotexist")
	require.True(t, model.IsNotFound(err), "got %v", err)
}

func TestVault_Proof(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	g, err := v.Create(ctx, map[string]any{"title": "A"}, "upload://1")
	require.NoError(t, err)
	_, err = v.Get(ctx, g.ID)
	require.NoError(t, err)

	proof, err := v.Proof(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, g.ID, proof.GlyphID)
	require.Equal(t, g.DataHash, proof.DataHash)
	require.True(t, proof.SignatureValid)
	require.True(t, proof.Verified)
	require.Len(t, proof.AuditTrail, 2)
	require.NotEmpty(t, proof.PayloadCID)
	require.NotZero(t, proof.ProofGeneratedAt)

	_, err = v.Proof(ctx, "0xunknown")
	require.True(t, model.IsNotFound(err))
}

func TestVault_List(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	_, err := v.Create(ctx, map[string]any{"n": 1}, "upload://1")
	require.NoError(t, err)
	_, err = v.Create(ctx, map[string]any{"n": 2}, "upload://2")
	require.NoError(t, err)

	all, err := v.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)

	one, err := v.List(ctx, "upload://2", 10)
	require.NoError(t, err)
	require.Len(t, one, 1)
	require.Equal(t, "upload://2", one[0].Source)
}

func TestVault_GatewayImportExport(t *testing.T) {
	gw, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	v := newTestVault(t, WithGateway(gw))
	ctx := context.Background()

	content := []byte(`{"article":"original bytes"}`)
	contentID, err := gw.Upload(ctx, content)
	require.NoError(t, err)

	g, err := v.ImportFromGateway(ctx, contentID, "gateway://articles")
	require.NoError(t, err)
	require.Equal(t, contentID.String(), g.Data["cid"])
	decoded, err := base64.StdEncoding.DecodeString(g.Data["content"].(string))
	require.NoError(t, err)
	require.True(t, bytes.Equal(content, decoded))

	exportID, err := v.ExportToGateway(ctx, g.ID)
	require.NoError(t, err)
	require.True(t, gw.Has(ctx, exportID))

	proof, err := v.Proof(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, exportID.String(), proof.PayloadCID,
		"the data hash must address the exported canonical bytes")

	trail, err := v.ledger.AuditTrail(ctx, g.ID)
	require.NoError(t, err)
	var actions []string
	for _, e := range trail {
		actions = append(actions, e.Action)
	}
	require.Contains(t, actions, model.ActionImported)
	require.Contains(t, actions, model.ActionExported)
}

func TestVault_GatewayUnconfigured(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	gw, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	contentID, err := gw.Upload(ctx, []byte("x"))
	require.NoError(t, err)

	_, err = v.ImportFromGateway(ctx, contentID, "src")
	require.True(t, model.IsKind(err, model.KindConfiguration))
	_, err = v.ExportToGateway(ctx, "0xanything")
	require.True(t, model.IsKind(err, model.KindConfiguration))
}

// chainSim fakes the anchoring contract for vault-level tests. It parses
// its own copy of the contract surface rather than reaching into the
// anchor package.
var simABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(`[
		{"type":"function","name":"anchor","stateMutability":"nonpayable","inputs":[{"name":"root","type":"bytes32"}],"outputs":[]},
		{"type":"function","name":"isAnchored","stateMutability":"view","inputs":[{"name":"root","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"anchoredAt","stateMutability":"view","inputs":[{"name":"root","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]}
	]`))
	if err != nil {
		panic(err)
	}
	return parsed
}()

type chainSim struct {
	mu       sync.Mutex
	anchored map[[32]byte]int64
	sent     int
	receipts map[common.Hash]*types.Receipt
	block    uint64
}

func newChainSim() *chainSim {
	return &chainSim{
		anchored: make(map[[32]byte]int64),
		receipts: make(map[common.Hash]*types.Receipt),
		block:    7,
	}
}

func (f *chainSim) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1337), nil }
func (f *chainSim) PendingNonceAt(ctx context.Context, a common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(f.sent), nil
}
func (f *chainSim) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (f *chainSim) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (f *chainSim) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(msg.Data) < 36 {
		return nil, errors.New("sim: short calldata")
	}
	var root [32]byte
	copy(root[:], msg.Data[4:36])
	ts, ok := f.anchored[root]

	switch {
	case bytes.Equal(msg.Data[:4], simABI.Methods["isAnchored"].ID):
		return simABI.Methods["isAnchored"].Outputs.Pack(ok)
	case bytes.Equal(msg.Data[:4], simABI.Methods["anchoredAt"].ID):
		return simABI.Methods["anchoredAt"].Outputs.Pack(big.NewInt(ts))
	default:
		return nil, errors.New("sim: unknown method")
	}
}

func (f *chainSim) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var root [32]byte
	copy(root[:], tx.Data()[4:36])
	f.anchored[root] = time.Now().Unix()
	f.sent++
	f.block++
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(f.block),
		GasUsed:     50_000,
	}
	return nil
}

func (f *chainSim) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func TestVault_AnchorLogsAuditActions(t *testing.T) {
	sim := newChainSim()
	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	chain, err := anchor.New(sim, key,
		common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		anchor.WithPollInterval(5*time.Millisecond),
	)
	require.NoError(t, err)

	v := newTestVault(t, WithChainClient(chain))
	ctx := context.Background()

	x, err := v.Create(ctx, map[string]any{"title": "A", "body": "B"}, "upload://1")
	require.NoError(t, err)
	y, err := v.Create(ctx, map[string]any{"title": "A", "body": "B"}, "upload://2")
	require.NoError(t, err)
	require.NotEqual(t, x.ID, y.ID)

	res, err := v.Anchor(ctx, []string{x.ID, y.ID})
	require.NoError(t, err)
	require.Equal(t, model.AnchorSubmitted, res.Status)

	again, err := v.Anchor(ctx, []string{x.ID, y.ID})
	require.NoError(t, err)
	require.Equal(t, model.AnchorAlreadyAnchored, again.Status)
	require.Equal(t, 1, sim.sent)

	trail, err := v.ledger.AuditTrail(ctx, x.ID)
	require.NoError(t, err)
	var anchoredEntries int
	for _, e := range trail {
		if e.Action == model.ActionAnchored {
			anchoredEntries++
		}
	}
	require.Equal(t, 1, anchoredEntries)
}

func TestVault_AnchorRequiresChainClient(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	g, err := v.Create(ctx, map[string]any{"k": "v"}, "src")
	require.NoError(t, err)

	_, err = v.Anchor(ctx, []string{g.ID})
	require.True(t, model.IsKind(err, model.KindConfiguration))
}

func TestVault_AnchorRejectsUnknownIDs(t *testing.T) {
	sim := newChainSim()
	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	chain, err := anchor.New(sim, key,
		common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	require.NoError(t, err)

	v := newTestVault(t, WithChainClient(chain))
	buf := make([]byte, 32)
	buf[31] = 1
	unknown := "0x" + common.Bytes2Hex(buf)

	_, err = v.Anchor(context.Background(), []string{unknown})
	require.True(t, model.IsNotFound(err), "got %v", err)
}
