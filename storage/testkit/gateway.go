// Package testkit provides the conformance suite every Gateway backend must
// pass.
package testkit

import (
	"bytes"
	"context"
	"testing"

	"xdao.co/glyphvault/cidutil"
	"xdao.co/glyphvault/storage"
)

// NewGateway constructs a fresh, empty Gateway instance for a test. The
// returned Gateway MUST be isolated from other tests.
type NewGateway func(t *testing.T) storage.Gateway

func RunGatewayConformance(t *testing.T, newGateway NewGateway) {
	t.Helper()
	ctx := context.Background()

	t.Run("UploadDownloadRoundTrip", func(t *testing.T) {
		gw := newGateway(t)
		want := []byte("hello, glyph gateway")

		id, err := gw.Upload(ctx, want)
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		wantID, err := cidutil.CIDv1RawSHA256(want)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256 failed: %v", err)
		}
		if id != wantID {
			t.Fatalf("Upload CID mismatch: got %s want %s", id, wantID)
		}

		got, err := gw.Download(ctx, id)
		if err != nil {
			t.Fatalf("Download failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatal("Download bytes mismatch")
		}
	})

	t.Run("UploadIdempotent", func(t *testing.T) {
		gw := newGateway(t)
		b := []byte("same bytes")

		id1, err := gw.Upload(ctx, b)
		if err != nil {
			t.Fatalf("Upload(1) failed: %v", err)
		}
		id2, err := gw.Upload(ctx, b)
		if err != nil {
			t.Fatalf("Upload(2) failed: %v", err)
		}
		if id1 != id2 {
			t.Fatalf("Upload not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("DownloadUnknownIsNotFound", func(t *testing.T) {
		gw := newGateway(t)
		id, err := cidutil.CIDv1RawSHA256([]byte("never uploaded"))
		if err != nil {
			t.Fatalf("CIDv1RawSHA256 failed: %v", err)
		}
		if _, err := gw.Download(ctx, id); !storage.IsNotFound(err) {
			t.Fatalf("Download unknown: got %v want ErrNotFound", err)
		}
		if gw.Has(ctx, id) {
			t.Fatal("Has reported true for unknown CID")
		}
	})

	t.Run("HasAfterUpload", func(t *testing.T) {
		gw := newGateway(t)
		id, err := gw.Upload(ctx, []byte("present"))
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if !gw.Has(ctx, id) {
			t.Fatal("Has reported false for uploaded CID")
		}
	})
}
