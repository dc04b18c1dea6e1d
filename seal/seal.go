// Package seal signs and verifies receipt cards.
//
// The signed payload is the JSON Atomic encoding of the whole card with
// proof.seal.sig set to the empty string; alg and kid are therefore covered
// by the signature. The payload is hashed with BLAKE3-256 and the digest is
// signed. Signatures are base64 (standard alphabet).
//
// Seal verification is separate from structural validation (package verify),
// which only checks that the seal fields are present.
package seal

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"lukechampine.com/blake3"

	"tdln.foundry/receipts/canon"
	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/keys"
	"tdln.foundry/receipts/receipt"
)

// Seal algorithms.
const (
	AlgEd25519    = "ed25519-blake3"
	AlgDilithium3 = "dilithium3-blake3"
)

var (
	ErrNoSeal           = errors.New("seal: card has no proof.seal")
	ErrAlgMismatch      = errors.New("seal: seal algorithm does not match public key")
	ErrInvalidSignature = errors.New("seal: signature invalid")
)

// Signer produces seal signatures over a payload digest.
type Signer interface {
	Alg() string
	Kid() string
	Sign(digest []byte) ([]byte, error)
	// PublicKey is the "<key-alg>:<base64>" form of the verification key.
	PublicKey() string
}

// NewSigner returns the signer for a seal algorithm.
func NewSigner(alg, kid string, seed []byte) (Signer, error) {
	switch alg {
	case AlgEd25519, keys.Ed25519:
		return NewEd25519Signer(kid, seed)
	case AlgDilithium3, keys.Dilithium3:
		return NewDilithium3Signer(kid, seed)
	default:
		return nil, fmt.Errorf("seal: unsupported algorithm %q", alg)
	}
}

type Ed25519Signer struct {
	kid string
	key ed25519.PrivateKey
	pub string
}

func NewEd25519Signer(kid string, seed []byte) (*Ed25519Signer, error) {
	if kid == "" {
		return nil, errors.New("seal: kid is required")
	}
	key, err := keys.Ed25519Key(seed)
	if err != nil {
		return nil, err
	}
	pub, err := keys.EncodePublicKey(keys.Ed25519, key.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{kid: kid, key: key, pub: pub}, nil
}

func (s *Ed25519Signer) Alg() string       { return AlgEd25519 }
func (s *Ed25519Signer) Kid() string       { return s.kid }
func (s *Ed25519Signer) PublicKey() string { return s.pub }

func (s *Ed25519Signer) Sign(digest []byte) ([]byte, error) {
	return ed25519.Sign(s.key, digest), nil
}

type Dilithium3Signer struct {
	kid string
	key *mode3.PrivateKey
	pub string
}

func NewDilithium3Signer(kid string, seed []byte) (*Dilithium3Signer, error) {
	if kid == "" {
		return nil, errors.New("seal: kid is required")
	}
	pk, sk, err := keys.Dilithium3Key(seed)
	if err != nil {
		return nil, err
	}
	pub, err := keys.EncodePublicKey(keys.Dilithium3, pk.Bytes())
	if err != nil {
		return nil, err
	}
	return &Dilithium3Signer{kid: kid, key: sk, pub: pub}, nil
}

func (s *Dilithium3Signer) Alg() string       { return AlgDilithium3 }
func (s *Dilithium3Signer) Kid() string       { return s.kid }
func (s *Dilithium3Signer) PublicKey() string { return s.pub }

func (s *Dilithium3Signer) Sign(digest []byte) ([]byte, error) {
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.key, digest, sig)
	return sig, nil
}

// Digest returns the BLAKE3-256 digest of the seal payload of doc.
func Digest(doc []byte) ([]byte, error) {
	tree, err := sealTree(doc)
	if err != nil {
		return nil, err
	}
	return digestTree(tree)
}

func digestTree(tree map[string]any) ([]byte, error) {
	seal, err := sealOf(tree)
	if err != nil {
		return nil, err
	}
	sig := seal["sig"]
	seal["sig"] = ""
	payload, err := canon.Canonicalize(tree)
	seal["sig"] = sig
	if err != nil {
		return nil, cidutil.ParseError("", "canonicalize seal payload", err)
	}
	sum := blake3.Sum256(payload)
	return sum[:], nil
}

func sealTree(doc []byte) (map[string]any, error) {
	v, err := canon.Decode(doc)
	if err != nil {
		return nil, cidutil.ParseError("", "malformed card", err)
	}
	tree, ok := v.(map[string]any)
	if !ok {
		return nil, cidutil.ParseError("", "card must be a JSON object", nil)
	}
	return tree, nil
}

func sealOf(tree map[string]any) (map[string]any, error) {
	proof, _ := tree["proof"].(map[string]any)
	if proof == nil {
		return nil, ErrNoSeal
	}
	seal, _ := proof["seal"].(map[string]any)
	if seal == nil {
		return nil, ErrNoSeal
	}
	return seal, nil
}

// SignJSON seals a card document and returns it in canonical form.
// Fields unknown to package receipt are preserved and signed.
func SignJSON(doc []byte, s Signer) ([]byte, error) {
	tree, err := sealTree(doc)
	if err != nil {
		return nil, err
	}
	proof, _ := tree["proof"].(map[string]any)
	if proof == nil {
		proof = map[string]any{}
		tree["proof"] = proof
	}
	seal := map[string]any{"alg": s.Alg(), "kid": s.Kid(), "sig": ""}
	proof["seal"] = seal

	digest, err := digestTree(tree)
	if err != nil {
		return nil, err
	}
	sig, err := s.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("seal: sign: %w", err)
	}
	seal["sig"] = base64.StdEncoding.EncodeToString(sig)
	return canon.Canonicalize(tree)
}

// SignCard seals c in place.
func SignCard(c *receipt.Card, s Signer) error {
	c.Proof.Seal = receipt.Seal{Alg: s.Alg(), Kid: s.Kid()}
	doc, err := canon.Canonicalize(c)
	if err != nil {
		return cidutil.ParseError("", "canonicalize card", err)
	}
	digest, err := Digest(doc)
	if err != nil {
		return err
	}
	sig, err := s.Sign(digest)
	if err != nil {
		return fmt.Errorf("seal: sign: %w", err)
	}
	c.Proof.Seal.Sig = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// VerifyJSON checks the seal of a card document against publicKey
// ("<key-alg>:<base64>", as exported by package keys).
func VerifyJSON(doc []byte, publicKey string) error {
	tree, err := sealTree(doc)
	if err != nil {
		return err
	}
	seal, err := sealOf(tree)
	if err != nil {
		return err
	}
	alg, _ := seal["alg"].(string)
	encoded, _ := seal["sig"].(string)
	sig, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(sig) == 0 {
		return fmt.Errorf("%w: signature is not base64", ErrInvalidSignature)
	}
	keyAlg, pub, err := keys.ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	digest, err := digestTree(tree)
	if err != nil {
		return err
	}
	switch {
	case alg == AlgEd25519 && keyAlg == keys.Ed25519:
		if !ed25519.Verify(ed25519.PublicKey(pub), digest, sig) {
			return ErrInvalidSignature
		}
	case alg == AlgDilithium3 && keyAlg == keys.Dilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return fmt.Errorf("seal: %w", err)
		}
		if !mode3.Verify(&pk, digest, sig) {
			return ErrInvalidSignature
		}
	default:
		return fmt.Errorf("%w: seal %q, key %q", ErrAlgMismatch, alg, keyAlg)
	}
	return nil
}

// VerifyCard checks the seal of c against publicKey.
func VerifyCard(c *receipt.Card, publicKey string) error {
	doc, err := canon.Canonicalize(c)
	if err != nil {
		return cidutil.ParseError("", "canonicalize card", err)
	}
	return VerifyJSON(doc, publicKey)
}
