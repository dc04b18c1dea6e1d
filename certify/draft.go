package certify

import (
	"errors"
	"fmt"

	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/receipt"
	"tdln.foundry/receipts/seal"
)

// Draft describes the card written alongside a run before a final receipt
// exists.
type Draft struct {
	Decision  string
	OutputCID cidutil.CID
	// PoI marks a proof of interaction as present. Review decisions need it.
	PoI  bool
	Refs []receipt.Ref
}

// DraftCard builds a card for resp. The hash chain links the run manifest as
// input and the output CID as output. The card is sealed when s has a signer.
func (s *Service) DraftCard(resp *RunResponse, d Draft) (*receipt.Card, error) {
	if resp == nil || resp.Manifest == nil {
		return nil, errors.New("certify: draft needs an issued run")
	}
	if d.OutputCID.IsZero() {
		return nil, fmt.Errorf("%w: output cid is required", ErrInvalidRequest)
	}
	runCID, err := cidutil.ParseCID(resp.RunCID)
	if err != nil {
		return nil, err
	}
	c := &receipt.Card{
		Kind:      receipt.CardKind,
		Realm:     resp.Manifest.Realm,
		Decision:  d.Decision,
		OutputCID: d.OutputCID.Embedded(),
		Proof: receipt.Proof{HashChain: []receipt.ChainStep{
			{Kind: "input", CID: runCID.Embedded()},
			{Kind: "output", CID: d.OutputCID.Embedded()},
		}},
		Refs:  append([]receipt.Ref{}, d.Refs...),
		Links: receipt.Links{CardURL: resp.Links.CardURL},
	}
	if d.PoI {
		c.PoI = &receipt.PoI{Present: true}
	}
	if s.Signer != nil {
		if err := seal.SignCard(c, s.Signer); err != nil {
			return nil, err
		}
	}
	return c, nil
}
