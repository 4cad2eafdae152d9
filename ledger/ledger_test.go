package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"xdao.co/glyphvault/model"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ts := int64(1700000000)
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"), WithClock(func() int64 { ts++; return ts }))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func testGlyph(id string) *model.Glyph {
	return &model.Glyph{
		ID:        id,
		DataHash:  "aa11",
		Source:    "upload://1",
		Timestamp: 1700000000,
		Signer:    "server",
		Signature: "0xdeadbeef",
		Verified:  true,
	}
}

func TestRecordGlyph_WritesCreatedEntryAtomically(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordGlyph(ctx, testGlyph("0xabc"), "vault"))

	got, err := l.GetGlyph(ctx, "0xabc")
	require.NoError(t, err)
	require.Equal(t, "upload://1", got.Source)
	require.True(t, got.Verified)

	trail, err := l.AuditTrail(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	require.Equal(t, model.ActionCreated, trail[0].Action)
	require.Equal(t, "vault", trail[0].Actor)
}

func TestRecordGlyph_DuplicateIDRejected(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordGlyph(ctx, testGlyph("0xabc"), "vault"))
	err := l.RecordGlyph(ctx, testGlyph("0xabc"), "vault")
	require.Error(t, err)
	require.True(t, model.IsKind(err, model.KindLedger))

	// The failed insert must not leave a stray audit entry.
	trail, err := l.AuditTrail(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, trail, 1)
}

func TestLogAction_AppendsInOrder(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordGlyph(ctx, testGlyph("0xabc"), "vault"))
	require.NoError(t, l.LogAction(ctx, "0xabc", model.ActionAccessed, "reader", ""))
	require.NoError(t, l.LogAction(ctx, "0xabc", model.ActionAnchored, "vault", `{"root":"0x11"}`))

	trail, err := l.AuditTrail(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, trail, 3)
	require.Equal(t, model.ActionCreated, trail[0].Action)
	require.Equal(t, model.ActionAccessed, trail[1].Action)
	require.Equal(t, model.ActionAnchored, trail[2].Action)
	require.Equal(t, `{"root":"0x11"}`, trail[2].Metadata)
	require.Less(t, trail[0].Timestamp, trail[2].Timestamp)
}

func TestLogAction_UnknownGlyphIsNotFound(t *testing.T) {
	l := openTestLedger(t)
	err := l.LogAction(context.Background(), "0xmissing", model.ActionAccessed, "reader", "")
	require.True(t, model.IsNotFound(err), "got %v", err)
}

func TestGetGlyph_NotFound(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.GetGlyph(context.Background(), "0xmissing")
	require.True(t, model.IsNotFound(err), "got %v", err)
}

func TestHas(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	ok, err := l.Has(ctx, "0xabc")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, l.RecordGlyph(ctx, testGlyph("0xabc"), "vault"))
	ok, err = l.Has(ctx, "0xabc")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestList_FilterAndLimit(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for i, src := range []string{"upload://1", "upload://1", "upload://2"} {
		g := testGlyph("0xid" + string(rune('a'+i)))
		g.Source = src
		g.Timestamp = int64(1700000000 + i)
		require.NoError(t, l.RecordGlyph(ctx, g, "vault"))
	}

	all, err := l.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	require.Equal(t, int64(1700000002), all[0].Timestamp)

	filtered, err := l.List(ctx, "upload://1", 10)
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	limited, err := l.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	_, err = l.List(ctx, "", 0)
	require.True(t, model.IsKind(err, model.KindConfiguration))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	require.True(t, model.IsKind(err, model.KindConfiguration))
}
