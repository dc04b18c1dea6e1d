package seal

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"tdln.foundry/receipts/canon"
	"tdln.foundry/receipts/keys"
	"tdln.foundry/receipts/receipt"
	"tdln.foundry/receipts/verify"
)

func testSeed(b byte) []byte { return bytes.Repeat([]byte{b}, keys.SeedSize) }

func testCard() *receipt.Card {
	return &receipt.Card{
		Kind:      receipt.CardKind,
		Realm:     "trust",
		Decision:  "ACK",
		OutputCID: "cid:b3:0123456789abcdef",
		Proof: receipt.Proof{HashChain: []receipt.ChainStep{
			{Kind: "output", CID: "cid:b3:0123456789abcdef"},
		}},
		Links: receipt.Links{CardURL: "https://cert.tdln.foundry/r/b3:0123456789abcdef"},
	}
}

func TestSignCard_RoundTrip(t *testing.T) {
	for _, alg := range []string{AlgEd25519, AlgDilithium3} {
		t.Run(alg, func(t *testing.T) {
			s, err := NewSigner(alg, "foundry-m1", testSeed(9))
			if err != nil {
				t.Fatalf("NewSigner: %v", err)
			}
			c := testCard()
			if err := SignCard(c, s); err != nil {
				t.Fatalf("SignCard: %v", err)
			}
			if c.Proof.Seal.Alg != alg || c.Proof.Seal.Kid != "foundry-m1" || c.Proof.Seal.Sig == "" {
				t.Fatalf("seal not populated: %+v", c.Proof.Seal)
			}
			if err := VerifyCard(c, s.PublicKey()); err != nil {
				t.Fatalf("VerifyCard: %v", err)
			}

			doc, err := canon.Canonicalize(c)
			if err != nil {
				t.Fatal(err)
			}
			if err := VerifyJSON(doc, s.PublicKey()); err != nil {
				t.Fatalf("VerifyJSON of written card: %v", err)
			}
		})
	}
}

func TestSignCard_PassesStructuralValidation(t *testing.T) {
	s, err := NewEd25519Signer("k1", testSeed(1))
	if err != nil {
		t.Fatal(err)
	}
	c := testCard()
	if err := SignCard(c, s); err != nil {
		t.Fatalf("SignCard: %v", err)
	}
	if v := verify.VerifyCard(c, nil); v.Result != verify.Pass {
		t.Fatalf("signed card: %+v", v)
	}
}

func TestVerifyCard_DetectsTampering(t *testing.T) {
	s, err := NewEd25519Signer("k1", testSeed(1))
	if err != nil {
		t.Fatal(err)
	}
	tamper := []func(*receipt.Card){
		func(c *receipt.Card) { c.Decision = "NACK" },
		func(c *receipt.Card) { c.Proof.Seal.Kid = "k2" },
		func(c *receipt.Card) { c.Refs = append(c.Refs, receipt.Ref{CID: "cid:b3:00", Hrefs: []string{"x"}}) },
	}
	for i, mut := range tamper {
		c := testCard()
		if err := SignCard(c, s); err != nil {
			t.Fatal(err)
		}
		mut(c)
		if err := VerifyCard(c, s.PublicKey()); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("tamper %d: got %v want ErrInvalidSignature", i, err)
		}
	}
}

func TestVerify_WrongKey(t *testing.T) {
	s, _ := NewEd25519Signer("k1", testSeed(1))
	other, _ := NewEd25519Signer("k1", testSeed(2))
	pq, _ := NewDilithium3Signer("k1", testSeed(1))

	c := testCard()
	if err := SignCard(c, s); err != nil {
		t.Fatal(err)
	}
	if err := VerifyCard(c, other.PublicKey()); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("other key: got %v", err)
	}
	if err := VerifyCard(c, pq.PublicKey()); !errors.Is(err, ErrAlgMismatch) {
		t.Fatalf("dilithium key on ed25519 seal: got %v", err)
	}
}

func TestSignJSON_PreservesUnknownFields(t *testing.T) {
	s, err := NewEd25519Signer("k1", testSeed(3))
	if err != nil {
		t.Fatal(err)
	}
	doc := []byte(`{"kind":"receipt.card.v1","x_vendor":{"n":1.50},"proof":{"hash_chain":[]}}`)
	signed, err := SignJSON(doc, s)
	if err != nil {
		t.Fatalf("SignJSON: %v", err)
	}
	if !strings.Contains(string(signed), `"x_vendor":{"n":1.50}`) {
		t.Fatalf("vendor field lost: %s", signed)
	}
	if err := VerifyJSON(signed, s.PublicKey()); err != nil {
		t.Fatalf("VerifyJSON: %v", err)
	}
	tampered := bytes.Replace(signed, []byte(`1.50`), []byte(`1.5`), 1)
	if err := VerifyJSON(tampered, s.PublicKey()); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("number rewrite not detected: %v", err)
	}
}

func TestDigest_IgnoresSignatureOnly(t *testing.T) {
	a, err := Digest([]byte(`{"proof":{"seal":{"alg":"ed25519-blake3","kid":"k","sig":"AAAA"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Digest([]byte(`{"proof":{"seal":{"sig":"BBBB","kid":"k","alg":"ed25519-blake3"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("digest depends on the signature value or key order")
	}
	if _, err := Digest([]byte(`{"proof":{}}`)); !errors.Is(err, ErrNoSeal) {
		t.Fatalf("got %v want ErrNoSeal", err)
	}
}

func TestNewSigner_Rejects(t *testing.T) {
	if _, err := NewSigner("rsa-sha256", "k", testSeed(1)); err == nil {
		t.Fatalf("unsupported alg accepted")
	}
	if _, err := NewSigner(AlgEd25519, "", testSeed(1)); err == nil {
		t.Fatalf("empty kid accepted")
	}
	if _, err := NewSigner(AlgDilithium3, "k", []byte{1}); err == nil {
		t.Fatalf("short seed accepted")
	}
}
