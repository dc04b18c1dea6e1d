package verify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"tdln.foundry/receipts/receipt"
)

// CardProfile is the constant set a card is checked against.
type CardProfile struct {
	Name      string
	Kind      string
	Realms    []string
	Decisions []string
	// ReviewDecisions must carry proof of interaction.
	ReviewDecisions  []string
	CardURL          *regexp.Regexp
	SealAlg          string
	CID              *regexp.Regexp
	PortablePrefixes []string
	// PrivateMarker flags a ref as private when its kind contains it
	// (case-insensitive).
	PrivateMarker string
}

// RRefV11 is the default full-card profile.
var RRefV11 = &CardProfile{
	Name:            "rref-v1.1",
	Kind:            receipt.CardKind,
	Realms:          []string{"trust"},
	Decisions:       []string{"ACK", "ASK", "NACK"},
	ReviewDecisions: []string{"ASK", "NACK"},
	CardURL:         regexp.MustCompile(`^https://cert\.tdln\.foundry/r/b3:[0-9a-f]{16,}$`),
	SealAlg:         "ed25519-blake3",
	CID:             regexp.MustCompile(`^cid:b3:[0-9a-f]{16,}$`),
	PortablePrefixes: []string{
		"https://registry.tdln.foundry/v1/objects/",
		"tdln://objects/",
	},
	PrivateMarker: "private",
}

// Rule is a named, fail-fast card check. Apply returns nil when the card
// satisfies the rule.
type Rule struct {
	ID    string
	Apply func(*receipt.Card) *Verdict
}

// Rules returns the ordered card rules of p. Order is evaluation order.
func (p *CardProfile) Rules() []Rule {
	return []Rule{
		{ID: CodeBadKind, Apply: p.checkKind},
		{ID: CodeBadRealm, Apply: p.checkRealm},
		{ID: CodeBadDecision, Apply: p.checkDecision},
		{ID: CodeBadLink, Apply: p.checkLink},
		{ID: CodeBadSeal, Apply: p.checkSeal},
		{ID: CodeBadOutputCID, Apply: p.checkOutputCID},
		{ID: "HASH_CHAIN", Apply: p.checkHashChain},
		{ID: CodePoIMissing, Apply: p.checkPoI},
	}
}

func (p *CardProfile) checkKind(c *receipt.Card) *Verdict {
	if c.Kind != p.Kind {
		return fail(CodeBadKind, "kind must be "+p.Kind)
	}
	return nil
}

func (p *CardProfile) checkRealm(c *receipt.Card) *Verdict {
	if !contains(p.Realms, c.Realm) {
		return fail(CodeBadRealm, "realm must be "+strings.Join(p.Realms, "|"))
	}
	return nil
}

func (p *CardProfile) checkDecision(c *receipt.Card) *Verdict {
	if !contains(p.Decisions, c.Decision) {
		return fail(CodeBadDecision, "decision must be "+strings.Join(p.Decisions, "|"))
	}
	return nil
}

func (p *CardProfile) checkLink(c *receipt.Card) *Verdict {
	u := c.Links.CardURL
	if p.CardURL.MatchString(u) {
		return nil
	}
	if strings.Contains(u, "/cid:") {
		return fail(CodeBadLink, "links.card_url must carry the bare CID (b3:<hex>), not cid:b3:<hex>")
	}
	return fail(CodeBadLink, "links.card_url invalid")
}

func (p *CardProfile) checkSeal(c *receipt.Card) *Verdict {
	s := c.Proof.Seal
	if s.Alg != p.SealAlg || s.Kid == "" || s.Sig == "" {
		return fail(CodeBadSeal, "seal invalid or missing fields")
	}
	return nil
}

func (p *CardProfile) checkOutputCID(c *receipt.Card) *Verdict {
	if !p.CID.MatchString(c.OutputCID) {
		return fail(CodeBadOutputCID, "output_cid missing/invalid")
	}
	return nil
}

func (p *CardProfile) checkHashChain(c *receipt.Card) *Verdict {
	chain := c.Proof.HashChain
	if len(chain) == 0 {
		return fail(CodeHashChainEmpty, "hash_chain empty")
	}
	for _, step := range chain {
		if step.Kind == "output" && step.CID == c.OutputCID {
			return nil
		}
	}
	return fail(CodeHashChainIncomplete, "output_cid not present as output in hash_chain")
}

func (p *CardProfile) checkPoI(c *receipt.Card) *Verdict {
	if !contains(p.ReviewDecisions, c.Decision) {
		return nil
	}
	if c.PoI == nil || !c.PoI.Present {
		return fail(CodePoIMissing, strings.Join(p.ReviewDecisions, "/")+" must include poi.present=true")
	}
	return nil
}

// checkRefs fails on the first malformed ref and otherwise returns the
// distinct warning codes, sorted.
func (p *CardProfile) checkRefs(c *receipt.Card) (*Verdict, []string) {
	if c.IsMalformed("refs") {
		return fail(CodeRefMissingCID, "refs must be an array"), nil
	}
	seen := map[string]bool{}
	for i, ref := range c.Refs {
		if !p.CID.MatchString(ref.CID) {
			return fail(CodeRefMissingCID, fmt.Sprintf("refs[%d] without valid cid", i)), nil
		}
		if len(ref.Hrefs) == 0 {
			return fail(CodeRefNoHrefs, fmt.Sprintf("refs[%d] without hrefs", i)), nil
		}
		if p.portable(ref.Hrefs) {
			continue
		}
		if p.private(ref) {
			seen[CodePrivateNoPortable] = true
		} else {
			seen[CodePublicNoPortable] = true
		}
	}
	warns := make([]string, 0, len(seen))
	for code := range seen {
		warns = append(warns, code)
	}
	sort.Strings(warns)
	return nil, warns
}

func (p *CardProfile) private(ref receipt.Ref) bool {
	if ref.IsPrivate() {
		return true
	}
	return p.PrivateMarker != "" && strings.Contains(strings.ToLower(ref.Kind), strings.ToLower(p.PrivateMarker))
}

func (p *CardProfile) portable(hrefs []string) bool {
	for _, h := range hrefs {
		for _, prefix := range p.PortablePrefixes {
			if strings.HasPrefix(h, prefix) {
				return true
			}
		}
	}
	return false
}

// VerifyCard checks c against p (RRefV11 when p is nil).
func VerifyCard(c *receipt.Card, p *CardProfile) Verdict {
	if p == nil {
		p = RRefV11
	}
	if c == nil {
		return *fail(CodeBadKind, "kind must be "+p.Kind)
	}
	for _, r := range p.Rules() {
		if v := r.Apply(c); v != nil {
			return *v
		}
	}
	if v, warns := p.checkRefs(c); v != nil {
		return *v
	} else if len(warns) > 0 {
		return Verdict{
			Result: Warn,
			Code:   strings.Join(warns, "|"),
			Msg:    "one or more refs missing portable resolvers",
		}
	}
	return pass()
}

// VerifyCardJSON decodes a card and checks it. Only a document that is not a
// JSON object yields an error (kind cidutil.KindParse); a field of the wrong
// type fails the rule that owns it.
func VerifyCardJSON(b []byte, p *CardProfile) (Verdict, error) {
	c, err := receipt.DecodeCard(b)
	if err != nil {
		return Verdict{}, err
	}
	return VerifyCard(c, p), nil
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
