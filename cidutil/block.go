package cidutil

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// BlockCID returns the IPFS-compatible CIDv1 (raw codec, blake3 multihash)
// for data. Object stores key blobs by this form.
func BlockCID(data []byte) (cid.Cid, error) {
	c, err := NewHasher(BLAKE3).Bytes(data)
	if err != nil {
		return cid.Undef, err
	}
	return ToBlock(c)
}

// ToBlock converts a CID string form into a CIDv1 (raw codec) carrying the
// same digest under the algorithm's multihash code.
func ToBlock(c CID) (cid.Cid, error) {
	alg, ok := ByPrefix(c.Prefix)
	if !ok {
		return cid.Undef, fmt.Errorf("cidutil: unknown CID prefix %q", c.Prefix)
	}
	mh, err := multihash.Encode(c.Digest, alg.Code)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// FromBlock converts a CIDv1 back into the "<prefix>:<hex>" form.
func FromBlock(id cid.Cid) (CID, error) {
	if !id.Defined() {
		return CID{}, fmt.Errorf("cidutil: undefined CID")
	}
	dec, err := multihash.Decode(id.Hash())
	if err != nil {
		return CID{}, err
	}
	alg, ok := ByCode(dec.Code)
	if !ok {
		return CID{}, fmt.Errorf("cidutil: unsupported multihash %s", dec.Name)
	}
	return CID{Prefix: alg.Prefix, Digest: dec.Digest}, nil
}

// DecodeBlock accepts "cid:b3:<hex>", "b3:<hex>" or a multibase CIDv1 string
// and returns the block CID.
func DecodeBlock(s string) (cid.Cid, error) {
	s = strings.TrimSpace(s)
	if c, err := ParseCID(s); err == nil {
		return ToBlock(c)
	}
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("cidutil: invalid CID %q: %w", s, err)
	}
	return id, nil
}
