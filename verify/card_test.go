package verify

import (
	"testing"

	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/receipt"
)

const (
	outCID  = "cid:b3:0123456789abcdef"
	inCID   = "cid:b3:fedcba9876543210"
	cardURL = "https://cert.tdln.foundry/r/b3:0123456789abcdef"
)

func validCard() *receipt.Card {
	return &receipt.Card{
		Kind:      receipt.CardKind,
		Realm:     "trust",
		Decision:  "ACK",
		OutputCID: outCID,
		Proof: receipt.Proof{
			Seal: receipt.Seal{Alg: "ed25519-blake3", Kid: "k1", Sig: "c2ln"},
			HashChain: []receipt.ChainStep{
				{Kind: "input", CID: inCID},
				{Kind: "output", CID: outCID},
			},
		},
		Links: receipt.Links{CardURL: cardURL},
	}
}

func TestVerifyCard_EndToEndPass(t *testing.T) {
	doc := `{"kind":"receipt.card.v1","realm":"trust","decision":"ACK",
	  "links":{"card_url":"https://cert.tdln.foundry/r/b3:0123456789abcdef"},
	  "proof":{"seal":{"alg":"ed25519-blake3","kid":"k1","sig":"c2ln"},
	           "hash_chain":[{"kind":"output","cid":"cid:b3:0123456789abcdef"}]},
	  "output_cid":"cid:b3:0123456789abcdef"}`
	v, err := VerifyCardJSON([]byte(doc), nil)
	if err != nil {
		t.Fatalf("VerifyCardJSON: %v", err)
	}
	if v.Result != Pass || v.Code != "" || v.Msg != "" || v.Missing != nil {
		t.Fatalf("got %+v want PASS", v)
	}
}

func TestVerifyCard_NACKWithoutPoI(t *testing.T) {
	c := validCard()
	c.Decision = "NACK"
	v := VerifyCard(c, nil)
	if v.Result != Fail || v.Code != CodePoIMissing {
		t.Fatalf("got %+v want FAIL POI_MISSING", v)
	}

	c.PoI = &receipt.PoI{Present: true}
	if v := VerifyCard(c, nil); v.Result != Pass {
		t.Fatalf("with poi: got %+v want PASS", v)
	}
}

func TestVerifyCard_FailFastOrder(t *testing.T) {
	// Everything is wrong; the first rule wins.
	c := &receipt.Card{Realm: "mars", Decision: "MAYBE"}
	if v := VerifyCard(c, nil); v.Code != CodeBadKind {
		t.Fatalf("got %+v want BAD_KIND", v)
	}
	if v := VerifyCard(nil, nil); v.Code != CodeBadKind {
		t.Fatalf("nil card: got %+v want BAD_KIND", v)
	}
}

func TestVerifyCard_Rules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*receipt.Card)
		code   string
	}{
		{"realm", func(c *receipt.Card) { c.Realm = "chip" }, CodeBadRealm},
		{"decision running", func(c *receipt.Card) { c.Decision = "RUNNING" }, CodeBadDecision},
		{"decision allow", func(c *receipt.Card) { c.Decision = "Allow" }, CodeBadDecision},
		{"link missing", func(c *receipt.Card) { c.Links.CardURL = "" }, CodeBadLink},
		{"link short", func(c *receipt.Card) { c.Links.CardURL = "https://cert.tdln.foundry/r/b3:0123" }, CodeBadLink},
		{"link embedded form", func(c *receipt.Card) { c.Links.CardURL = "https://cert.tdln.foundry/r/cid:b3:0123456789abcdef" }, CodeBadLink},
		{"link uppercase", func(c *receipt.Card) { c.Links.CardURL = "https://cert.tdln.foundry/r/b3:0123456789ABCDEF" }, CodeBadLink},
		{"seal alg", func(c *receipt.Card) { c.Proof.Seal.Alg = "ed25519" }, CodeBadSeal},
		{"seal kid", func(c *receipt.Card) { c.Proof.Seal.Kid = "" }, CodeBadSeal},
		{"seal sig", func(c *receipt.Card) { c.Proof.Seal.Sig = "" }, CodeBadSeal},
		{"output cid", func(c *receipt.Card) { c.OutputCID = "b3:0123456789abcdef" }, CodeBadOutputCID},
		{"chain empty", func(c *receipt.Card) { c.Proof.HashChain = nil }, CodeHashChainEmpty},
		{"chain wrong cid", func(c *receipt.Card) {
			c.Proof.HashChain = []receipt.ChainStep{{Kind: "output", CID: inCID}}
		}, CodeHashChainIncomplete},
		{"chain wrong kind", func(c *receipt.Card) {
			c.Proof.HashChain = []receipt.ChainStep{{Kind: "input", CID: outCID}}
		}, CodeHashChainIncomplete},
		{"ask without poi", func(c *receipt.Card) { c.Decision = "ASK"; c.PoI = &receipt.PoI{} }, CodePoIMissing},
		{"ref cid", func(c *receipt.Card) {
			c.Refs = []receipt.Ref{{CID: "b3:00", Hrefs: []string{"tdln://objects/x"}}}
		}, CodeRefMissingCID},
		{"ref hrefs", func(c *receipt.Card) { c.Refs = []receipt.Ref{{CID: inCID}} }, CodeRefNoHrefs},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validCard()
			tc.mutate(c)
			v := VerifyCard(c, nil)
			if v.Result != Fail || v.Code != tc.code {
				t.Fatalf("got %+v want FAIL %s", v, tc.code)
			}
			if v.Msg == "" {
				t.Fatalf("FAIL without message")
			}
		})
	}
}

func TestVerifyCard_EmbeddedURLMessageNamesCanonicalForm(t *testing.T) {
	c := validCard()
	c.Links.CardURL = "https://cert.tdln.foundry/r/cid:b3:0123456789abcdef"
	v := VerifyCard(c, nil)
	if v.Code != CodeBadLink || v.Msg == "links.card_url invalid" {
		t.Fatalf("got %+v", v)
	}
}

func TestVerifyCard_WarnAccumulation(t *testing.T) {
	yes := true
	c := validCard()
	c.Refs = []receipt.Ref{
		{Kind: "unit.manifest", CID: inCID, Hrefs: []string{"https://example.com/a"}},
		{Kind: "unit.manifest", CID: inCID, Hrefs: []string{"https://s3.example.com/presigned"}, Private: &yes},
		{Kind: "unit.manifest", CID: inCID, Hrefs: []string{"https://example.com/b"}},
	}
	v := VerifyCard(c, nil)
	if v.Result != Warn || v.Code != "PRIVATE_NO_PORTABLE|PUBLIC_NO_CANONICAL_OR_TDLN" {
		t.Fatalf("got %+v", v)
	}
	if got := v.Codes(); len(got) != 2 {
		t.Fatalf("Codes() = %v", got)
	}
}

func TestVerifyCard_PrivateByKind(t *testing.T) {
	c := validCard()
	c.Refs = []receipt.Ref{{Kind: "Evidence.PRIVATE.v1", CID: inCID, Hrefs: []string{"https://s3.example.com/x"}}}
	if v := VerifyCard(c, nil); v.Code != CodePrivateNoPortable {
		t.Fatalf("got %+v want PRIVATE_NO_PORTABLE", v)
	}
}

func TestVerifyCard_PortableRefsPass(t *testing.T) {
	no := false
	c := validCard()
	c.Refs = []receipt.Ref{
		{CID: inCID, Hrefs: []string{"https://s3.example.com/x", "https://registry.tdln.foundry/v1/objects/" + inCID}},
		{CID: inCID, Hrefs: []string{"tdln://objects/" + inCID}, Private: &no},
	}
	if v := VerifyCard(c, nil); v.Result != Pass {
		t.Fatalf("got %+v want PASS", v)
	}
}

func TestVerifyCard_RefFailureBeatsWarnings(t *testing.T) {
	c := validCard()
	c.Refs = []receipt.Ref{
		{CID: inCID, Hrefs: []string{"https://example.com/a"}},
		{CID: inCID},
	}
	if v := VerifyCard(c, nil); v.Code != CodeRefNoHrefs {
		t.Fatalf("got %+v want REF_NO_HREFS", v)
	}
}

func TestVerifyCardJSON_ParseError(t *testing.T) {
	_, err := VerifyCardJSON([]byte(`{"kind":`), nil)
	if !cidutil.IsKind(err, cidutil.KindParse) {
		t.Fatalf("got %v want KindParse", err)
	}
}

func TestVerifyCardJSON_WrongFieldTypes(t *testing.T) {
	// base completes a passing ACK card after kind, realm and decision.
	const base = `"links":{"card_url":"https://cert.tdln.foundry/r/b3:0123456789abcdef"},` +
		`"proof":{"seal":{"alg":"ed25519-blake3","kid":"k1","sig":"c2ln"},` +
		`"hash_chain":[{"kind":"output","cid":"cid:b3:0123456789abcdef"}]},` +
		`"output_cid":"cid:b3:0123456789abcdef"`
	const head = `"kind":"receipt.card.v1","realm":"trust",`
	for _, tc := range []struct {
		doc  string
		code string
	}{
		{`{"decision":42}`, CodeBadKind},
		{`{"kind":5}`, CodeBadKind},
		{`{"realm":"trust","poi":{"present":"yes"}}`, CodeBadKind},
		{`{"refs":{}}`, CodeBadKind},
		{`{"kind":["receipt.card.v1"],"realm":"trust","decision":"ACK",` + base + `}`, CodeBadKind},
		{`{"kind":"receipt.card.v1","realm":1,"decision":"ACK",` + base + `}`, CodeBadRealm},
		{`{` + head + `"decision":42,` + base + `}`, CodeBadDecision},
		{`{` + head + `"decision":"ACK","links":"x","proof":{},"output_cid":"cid:b3:0123456789abcdef"}`, CodeBadLink},
		{`{` + head + `"decision":"ACK","links":{"card_url":"https://cert.tdln.foundry/r/b3:0123456789abcdef"},"proof":{"seal":"sig"},"output_cid":"cid:b3:0123456789abcdef"}`, CodeBadSeal},
		{`{` + head + `"decision":"ASK","poi":{"present":"yes"},` + base + `}`, CodePoIMissing},
		{`{` + head + `"decision":"ASK","poi":true,` + base + `}`, CodePoIMissing},
		{`{` + head + `"decision":"ACK","refs":{},` + base + `}`, CodeRefMissingCID},
		{`{` + head + `"decision":"ACK","refs":[5],` + base + `}`, CodeRefMissingCID},
		{`{` + head + `"decision":"ACK","refs":[{"cid":"cid:b3:0123456789abcdef","hrefs":"tdln://objects/x"}],` + base + `}`, CodeRefNoHrefs},
	} {
		v, err := VerifyCardJSON([]byte(tc.doc), nil)
		if err != nil {
			t.Fatalf("%s: VerifyCardJSON: %v", tc.doc, err)
		}
		if v.Result != Fail || v.Code != tc.code {
			t.Fatalf("%s: got %+v want FAIL %s", tc.doc, v, tc.code)
		}
	}

	for _, doc := range []string{`[]`, `"card"`, `null`, `{"kind":`} {
		if _, err := VerifyCardJSON([]byte(doc), nil); !cidutil.IsKind(err, cidutil.KindParse) {
			t.Fatalf("%s: got %v want KindParse", doc, err)
		}
	}
}

func TestRules_StableOrder(t *testing.T) {
	want := []string{CodeBadKind, CodeBadRealm, CodeBadDecision, CodeBadLink, CodeBadSeal, CodeBadOutputCID, "HASH_CHAIN", CodePoIMissing}
	rules := RRefV11.Rules()
	if len(rules) != len(want) {
		t.Fatalf("got %d rules", len(rules))
	}
	for i, r := range rules {
		if r.ID != want[i] || r.Apply == nil {
			t.Fatalf("rule %d = %s want %s", i, r.ID, want[i])
		}
	}
}
