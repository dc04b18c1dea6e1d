package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Key algorithms.
const (
	Ed25519    = "ed25519"
	Dilithium3 = "dilithium3"
)

// Ed25519Key returns the ed25519 private key for seed.
func Ed25519Key(seed []byte) (ed25519.PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("keys: seed must be %d bytes", SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Dilithium3Key returns the dilithium3 key pair for seed.
func Dilithium3Key(seed []byte) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	if len(seed) != mode3.SeedSize {
		return nil, nil, fmt.Errorf("keys: seed must be %d bytes", mode3.SeedSize)
	}
	var s [mode3.SeedSize]byte
	copy(s[:], seed)
	pk, sk := mode3.NewKeyFromSeed(&s)
	return pk, sk, nil
}

// PublicKey returns "<alg>:<base64 public key>" for seed.
func PublicKey(alg string, seed []byte) (string, error) {
	switch alg {
	case Ed25519:
		sk, err := Ed25519Key(seed)
		if err != nil {
			return "", err
		}
		return EncodePublicKey(Ed25519, sk.Public().(ed25519.PublicKey))
	case Dilithium3:
		pk, _, err := Dilithium3Key(seed)
		if err != nil {
			return "", err
		}
		return EncodePublicKey(Dilithium3, pk.Bytes())
	default:
		return "", fmt.Errorf("keys: unsupported key algorithm %q", alg)
	}
}

// EncodePublicKey validates and encodes raw public key bytes.
func EncodePublicKey(alg string, pub []byte) (string, error) {
	if err := checkPublicKey(alg, pub); err != nil {
		return "", err
	}
	return alg + ":" + base64.StdEncoding.EncodeToString(pub), nil
}

// ParsePublicKey splits "<alg>:<base64>" and validates the key length.
func ParsePublicKey(s string) (alg string, pub []byte, err error) {
	alg, enc, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return "", nil, fmt.Errorf("keys: public key %q lacks an algorithm prefix", s)
	}
	pub, err = base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", nil, fmt.Errorf("keys: public key is not base64: %w", err)
	}
	if err := checkPublicKey(alg, pub); err != nil {
		return "", nil, err
	}
	return alg, pub, nil
}

func checkPublicKey(alg string, pub []byte) error {
	switch alg {
	case Ed25519:
		if len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("keys: ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
		}
	case Dilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return fmt.Errorf("keys: invalid dilithium3 public key: %w", err)
		}
	default:
		return fmt.Errorf("keys: unsupported key algorithm %q", alg)
	}
	return nil
}
