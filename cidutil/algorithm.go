package cidutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/multiformats/go-multihash"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// Algorithm is a digest strategy. Every CID produced with an Algorithm carries
// its Prefix, so consumers never need out-of-band knowledge of the hash used.
type Algorithm struct {
	// Name is the configuration name (e.g. "blake3").
	Name string
	// Prefix is the CID string prefix (e.g. "b3").
	Prefix string
	// Code is the multihash code used when bridging to IPFS CIDs.
	Code uint64
	// Size is the digest length in bytes.
	Size int

	newHash func() (hash.Hash, error)
	// emptyDigest is the known answer for the empty input.
	emptyDigest string
}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	if a.newHash == nil {
		return nil, fmt.Errorf("cidutil: algorithm %q has no implementation", a.Name)
	}
	return a.newHash()
}

// probe checks that the implementation is usable and produces the expected
// digest for the empty input.
func (a Algorithm) probe() error {
	h, err := a.New()
	if err != nil {
		return err
	}
	if h.Size() != a.Size {
		return fmt.Errorf("cidutil: %s digest size %d, want %d", a.Name, h.Size(), a.Size)
	}
	want, err := hex.DecodeString(a.emptyDigest)
	if err != nil {
		return err
	}
	if !bytes.Equal(h.Sum(nil), want) {
		return fmt.Errorf("cidutil: %s failed known-answer check", a.Name)
	}
	return nil
}

var (
	// BLAKE3 is the preferred algorithm; CIDs look like "b3:<hex>".
	BLAKE3 = Algorithm{
		Name:        "blake3",
		Prefix:      "b3",
		Code:        multihash.BLAKE3,
		Size:        32,
		newHash:     func() (hash.Hash, error) { return blake3.New(32, nil), nil },
		emptyDigest: "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262",
	}

	// BLAKE2s256 is the generic fallback; CIDs look like "b2s:<hex>".
	BLAKE2s256 = Algorithm{
		Name:        "blake2s-256",
		Prefix:      "b2s",
		Code:        multihash.BLAKE2S_MIN + 31,
		Size:        32,
		newHash:     func() (hash.Hash, error) { return blake2s.New256(nil) },
		emptyDigest: "69217a3079908094e11121d042354a7c1f55b6482ca1a51e1b250dfd1ed0eef9",
	}

	// SHA3_256 is a FIPS 202 fallback; CIDs look like "sha3:<hex>".
	SHA3_256 = Algorithm{
		Name:        "sha3-256",
		Prefix:      "sha3",
		Code:        multihash.SHA3_256,
		Size:        32,
		newHash:     func() (hash.Hash, error) { return sha3.New256(), nil },
		emptyDigest: "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a",
	}

	// SHA256 is the last-resort fallback; CIDs look like "sha256:<hex>".
	SHA256 = Algorithm{
		Name:        "sha2-256",
		Prefix:      "sha256",
		Code:        multihash.SHA2_256,
		Size:        32,
		newHash:     func() (hash.Hash, error) { return sha256.New(), nil },
		emptyDigest: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}
)

// algorithms is the fixed registry, in default preference order.
var algorithms = []Algorithm{BLAKE3, BLAKE2s256, SHA3_256, SHA256}

// Algorithms returns the registered algorithms in default preference order.
func Algorithms() []Algorithm {
	return append([]Algorithm(nil), algorithms...)
}

// Lookup finds an algorithm by configuration name.
func Lookup(name string) (Algorithm, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, a := range algorithms {
		if a.Name == name {
			return a, true
		}
	}
	return Algorithm{}, false
}

// ByPrefix finds an algorithm by CID prefix.
func ByPrefix(prefix string) (Algorithm, bool) {
	for _, a := range algorithms {
		if a.Prefix == prefix {
			return a, true
		}
	}
	return Algorithm{}, false
}

// ByCode finds an algorithm by multihash code.
func ByCode(code uint64) (Algorithm, bool) {
	for _, a := range algorithms {
		if a.Code == code {
			return a, true
		}
	}
	return Algorithm{}, false
}

// Select picks the first usable algorithm among preferred (by name), in order.
// With no preference the registry order is used. Selection happens once, at
// startup; the chosen Algorithm then tags every CID it produces.
func Select(preferred ...string) (Algorithm, error) {
	candidates := algorithms
	if len(preferred) > 0 {
		candidates = make([]Algorithm, 0, len(preferred))
		for _, name := range preferred {
			a, ok := Lookup(name)
			if !ok {
				return Algorithm{}, fmt.Errorf("cidutil: unknown digest algorithm %q", name)
			}
			candidates = append(candidates, a)
		}
	}
	var errs []string
	for _, a := range candidates {
		if err := a.probe(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		return a, nil
	}
	return Algorithm{}, fmt.Errorf("cidutil: no usable digest algorithm (%s)", strings.Join(errs, "; "))
}

// Default returns BLAKE3.
func Default() Algorithm { return BLAKE3 }
