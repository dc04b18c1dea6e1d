package storage

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

// MultiCAS reads from Adapters in order and writes to the first one only.
// Callers supply a fixed order; lookups never depend on map iteration.
type MultiCAS struct {
	Adapters []CAS
}

var _ CAS = MultiCAS{}

func (m MultiCAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if len(m.Adapters) == 0 {
		return cid.Undef, errors.New("storage: MultiCAS has no adapters")
	}
	return m.Adapters[0].Put(ctx, data)
}

func (m MultiCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	return getFirst(ctx, id, m.Adapters)
}

func (m MultiCAS) Has(ctx context.Context, id cid.Cid) (bool, error) {
	return hasAny(ctx, id, m.Adapters)
}

// getFirst returns the first successful read. A backend reporting anything
// other than ErrNotFound stops the search.
func getFirst(ctx context.Context, id cid.Cid, backends []CAS) ([]byte, error) {
	for _, b := range backends {
		if b == nil {
			continue
		}
		out, err := b.Get(ctx, id)
		if err == nil {
			return out, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func hasAny(ctx context.Context, id cid.Cid, backends []CAS) (bool, error) {
	var firstErr error
	for _, b := range backends {
		if b == nil {
			continue
		}
		ok, err := b.Has(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}
