// Command card_vector_gen prints a sealed conformance card built from fixed
// keys, for pinning in other implementations' test suites.
package main

import (
	"bytes"
	"fmt"

	"tdln.foundry/receipts/canon"
	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/receipt"
	"tdln.foundry/receipts/seal"
)

type vector struct {
	CID       cidutil.CID
	PublicKey string
	Card      []byte
}

func conformanceCard(out cidutil.CID) *receipt.Card {
	return &receipt.Card{
		Kind:      receipt.CardKind,
		Realm:     "trust",
		Decision:  "ACK",
		OutputCID: out.Embedded(),
		Proof: receipt.Proof{HashChain: []receipt.ChainStep{
			{Kind: "output", CID: out.Embedded()},
		}},
		Refs:  []receipt.Ref{},
		Links: receipt.Links{CardURL: cidutil.CardURL("https://cert.tdln.foundry/r/", out)},
	}
}

func generate(seedByte byte) (*vector, error) {
	h := cidutil.NewHasher(cidutil.BLAKE3)
	out, err := h.Bytes([]byte("conformance vector"))
	if err != nil {
		return nil, err
	}
	s, err := seal.NewSigner(seal.AlgEd25519, "conformance", bytes.Repeat([]byte{seedByte}, 32))
	if err != nil {
		return nil, err
	}
	card := conformanceCard(out)
	if err := seal.SignCard(card, s); err != nil {
		return nil, err
	}
	b, err := canon.Canonicalize(card)
	if err != nil {
		return nil, err
	}
	id, err := h.Bytes(b)
	if err != nil {
		return nil, err
	}
	return &vector{CID: id, PublicKey: s.PublicKey(), Card: b}, nil
}

func main() {
	v, err := generate(0xA1)
	if err != nil {
		panic(err)
	}
	fmt.Printf("CID=%s\n", v.CID)
	fmt.Printf("PUBLIC_KEY=%s\n", v.PublicKey)
	fmt.Printf("---BEGIN---\n%s\n---END---\n", v.Card)
}
