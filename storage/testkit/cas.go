// Package testkit holds a conformance suite every storage.CAS must pass.
package testkit

import (
	"bytes"
	"context"
	"testing"

	"github.com/ipfs/go-cid"

	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/storage"
)

// NewCAS returns a fresh, empty CAS isolated from other tests.
type NewCAS func(t *testing.T) storage.CAS

func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		cas := newCAS(t)
		want := []byte(`{"intent":"certify","realm":"trust"}`)

		id, err := cas.Put(ctx, want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		wantID, err := cidutil.BlockCID(want)
		if err != nil {
			t.Fatalf("BlockCID failed: %v", err)
		}
		if !id.Equals(wantID) {
			t.Fatalf("Put CID mismatch: got %s want %s", id, wantID)
		}
		got, err := cas.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("KeyMatchesReceiptCID", func(t *testing.T) {
		cas := newCAS(t)
		data := []byte("output artifact")
		id, err := cas.Put(ctx, data)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		b3, err := cidutil.NewHasher(cidutil.BLAKE3).Bytes(data)
		if err != nil {
			t.Fatalf("Bytes failed: %v", err)
		}
		back, err := cidutil.FromBlock(id)
		if err != nil {
			t.Fatalf("FromBlock failed: %v", err)
		}
		if !back.Equal(b3) {
			t.Fatalf("block %s does not carry %s", id, b3)
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("same bytes")
		id1, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		id2, err := cas.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if !id1.Equals(id2) {
			t.Fatalf("Put not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("missing")
		id, err := cidutil.BlockCID(b)
		if err != nil {
			t.Fatalf("BlockCID failed: %v", err)
		}
		if ok, err := cas.Has(ctx, id); err != nil || ok {
			t.Fatalf("Has(missing) = %v, %v", ok, err)
		}
		if _, err := cas.Get(ctx, id); !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
		if _, err := cas.Put(ctx, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if ok, err := cas.Has(ctx, id); err != nil || !ok {
			t.Fatalf("Has after Put = %v, %v", ok, err)
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		cas := newCAS(t)
		var undef cid.Cid
		if ok, _ := cas.Has(ctx, undef); ok {
			t.Fatalf("Has should be false for undefined CID")
		}
		if _, err := cas.Get(ctx, undef); err == nil {
			t.Fatalf("Get should fail for undefined CID")
		}
	})
}
