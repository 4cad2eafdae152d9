// Package localfs is a filesystem-backed content gateway, used standalone in
// tests and as the offline stand-in for the remote gateway service.
package localfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"xdao.co/glyphvault/cidutil"
	"xdao.co/glyphvault/storage"
)

// Gateway stores objects immutably, keyed strictly by CID. It never uses the
// network and never depends on wall-clock time.
type Gateway struct {
	root string
}

// New constructs a filesystem gateway rooted at root. The directory is
// created if needed.
func New(root string) (*Gateway, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Gateway{root: root}, nil
}

func (g *Gateway) Upload(ctx context.Context, data []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	id, err := cidutil.CIDv1RawSHA256(data)
	if err != nil {
		return cid.Undef, err
	}

	path := g.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := g.Download(ctx, id)
			if rerr != nil {
				// Exists but unreadable or corrupted: immutability violation.
				return cid.Undef, storage.ErrImmutable
			}
			if string(existing) != string(data) {
				return cid.Undef, storage.ErrImmutable
			}
			return id, nil
		}
		return cid.Undef, err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return cid.Undef, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return cid.Undef, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return cid.Undef, err
	}
	return id, nil
}

func (g *Gateway) Download(ctx context.Context, id cid.Cid) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	b, err := os.ReadFile(g.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	got, err := cidutil.CIDv1RawSHA256(b)
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, storage.ErrCIDMismatch
	}
	return b, nil
}

func (g *Gateway) Has(ctx context.Context, id cid.Cid) bool {
	if ctx.Err() != nil || !id.Defined() {
		return false
	}
	_, err := os.Stat(g.pathFor(id))
	return err == nil
}

func (g *Gateway) pathFor(id cid.Cid) string {
	s := id.String()
	if len(s) < 2 {
		return filepath.Join(g.root, s)
	}
	return filepath.Join(g.root, s[:2], s)
}
