package storage

import (
	"errors"

	"github.com/ipfs/go-cid"

	"tdln.foundry/receipts/cidutil"
)

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrInvalidCID  = errors.New("storage: invalid cid")
	ErrCIDMismatch = errors.New("storage: cid mismatch")
	ErrImmutable   = errors.New("storage: immutable object mismatch")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Check returns ErrCIDMismatch unless data hashes to id.
func Check(id cid.Cid, data []byte) error {
	got, err := cidutil.BlockCID(data)
	if err != nil {
		return err
	}
	if !got.Equals(id) {
		return ErrCIDMismatch
	}
	return nil
}

// Key returns the block CID of data, the key every backend stores it under.
func Key(data []byte) (cid.Cid, error) {
	id, err := cidutil.BlockCID(data)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, ErrInvalidCID
	}
	return id, nil
}
