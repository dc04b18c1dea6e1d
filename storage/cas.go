// Package storage defines the content-addressed object store behind the
// TDLN object registry (https://registry.tdln.foundry/v1/objects/).
//
// Objects are keyed by block CIDs: CIDv1, raw codec, BLAKE3-256 multihash.
// A block CID carries the same digest as the "cid:b3:<hex>" form used in
// receipt cards; cidutil converts between the two.
package storage

import (
	"context"

	"github.com/ipfs/go-cid"
)

// CAS is a minimal content-addressed store.
//
// Contract:
//   - Put is idempotent and returns the block CID of the bytes written.
//   - Stored objects are immutable.
//   - Get verifies the bytes against id and returns ErrCIDMismatch otherwise.
//   - Get returns ErrNotFound when id is absent.
type CAS interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) (bool, error)
}
