// Package storage defines the narrow surface the vault core consumes from
// the distributed content gateway. Retrieval, pinning and replication policy
// belong to the gateway service and are out of scope here.
package storage

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

// Gateway is the upload/download contract with the content network.
//
// Contract:
//   - Upload MUST be idempotent and the returned CID MUST be derived from
//     the bytes written.
//   - Stored objects MUST be immutable.
//   - Download MUST return ErrNotFound when the CID is absent, and MUST
//     verify the returned bytes against the requested CID.
type Gateway interface {
	Upload(ctx context.Context, data []byte) (cid.Cid, error)
	Download(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) bool
}

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrInvalidCID  = errors.New("storage: invalid cid")
	ErrCIDMismatch = errors.New("storage: cid mismatch")
	ErrImmutable   = errors.New("storage: immutable object mismatch")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
