package cidutil

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// EmbeddedPrefix marks the reference form of a CID used inside records
// ("cid:b3:<hex>").
const EmbeddedPrefix = "cid:"

// DefaultCardURLBase is the run-handle host for card URLs.
const DefaultCardURLBase = "https://cert.tdln.foundry/r"

// CID is a parsed content identifier.
type CID struct {
	// Prefix is the algorithm prefix (e.g. "b3").
	Prefix string
	Digest []byte
}

// IsZero reports whether c is the zero CID.
func (c CID) IsZero() bool { return c.Prefix == "" && len(c.Digest) == 0 }

// Hex returns the lowercase hex digest.
func (c CID) Hex() string { return hex.EncodeToString(c.Digest) }

// String returns the hashing-output form "<prefix>:<hex>".
func (c CID) String() string {
	if c.IsZero() {
		return ""
	}
	return c.Prefix + ":" + c.Hex()
}

// Embedded returns the reference form "cid:<prefix>:<hex>".
func (c CID) Embedded() string {
	if c.IsZero() {
		return ""
	}
	return EmbeddedPrefix + c.String()
}

// Equal reports whether two CIDs name the same digest under the same algorithm.
func (c CID) Equal(o CID) bool {
	return c.Prefix == o.Prefix && bytes.Equal(c.Digest, o.Digest)
}

// ParseCID accepts both "<prefix>:<hex>" and "cid:<prefix>:<hex>".
// The hex digest must be lowercase and of the algorithm's full length.
func ParseCID(s string) (CID, error) {
	body := strings.TrimPrefix(s, EmbeddedPrefix)
	prefix, digestHex, ok := strings.Cut(body, ":")
	if !ok {
		return CID{}, fmt.Errorf("cidutil: malformed CID %q", s)
	}
	alg, ok := ByPrefix(prefix)
	if !ok {
		return CID{}, fmt.Errorf("cidutil: unknown CID prefix %q", prefix)
	}
	if len(digestHex) != alg.Size*2 {
		return CID{}, fmt.Errorf("cidutil: %s digest must be %d hex chars, got %d", alg.Prefix, alg.Size*2, len(digestHex))
	}
	if strings.ToLower(digestHex) != digestHex {
		return CID{}, fmt.Errorf("cidutil: CID digest must be lowercase hex")
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return CID{}, fmt.Errorf("cidutil: invalid CID digest: %w", err)
	}
	return CID{Prefix: alg.Prefix, Digest: digest}, nil
}

// CardURL builds the canonical run-handle URL for a CID.
//
// The path segment always carries the bare "<prefix>:<hex>" form; the
// embedded "cid:" form is never placed in a URL.
func CardURL(base string, c CID) string {
	if base == "" {
		base = DefaultCardURLBase
	}
	return strings.TrimRight(base, "/") + "/" + c.String()
}
