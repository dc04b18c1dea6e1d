// Package receipt models TDLN receipt cards, minimal receipt-log records and
// runtime certificates, and reads append-only receipt logs.
package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"

	"tdln.foundry/receipts/cidutil"
)

// CardKind is the discriminator of a receipt card.
const CardKind = "receipt.card.v1"

// Seal is an opaque signature over the card; see package seal.
type Seal struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Sig string `json:"sig"`
}

// ChainStep records one object consumed or produced by a run.
// Kind is one of "input", "exec" or "output".
type ChainStep struct {
	Kind string `json:"kind"`
	CID  string `json:"cid"`
}

type Proof struct {
	Seal      Seal        `json:"seal"`
	HashChain []ChainStep `json:"hash_chain"`
}

// Ref describes a related object and where it can be retrieved.
type Ref struct {
	Kind      string   `json:"kind,omitempty"`
	CID       string   `json:"cid"`
	MediaType string   `json:"media_type,omitempty"`
	Size      *uint64  `json:"size,omitempty"`
	Hrefs     []string `json:"hrefs"`
	Private   *bool    `json:"private,omitempty"`
}

// IsPrivate reports whether the ref is flagged private.
func (r Ref) IsPrivate() bool { return r.Private != nil && *r.Private }

type Links struct {
	CardURL string `json:"card_url,omitempty"`
	URL     string `json:"url,omitempty"`
}

// PoI is proof-of-interaction evidence.
type PoI struct {
	Present bool `json:"present"`
}

// PolicyDecision records the verdict of one named policy.
type PolicyDecision struct {
	ID       string `json:"id"`
	Decision string `json:"decision"`
}

// Card is a receipt card (receipt.card.v1).
type Card struct {
	Kind            string           `json:"kind"`
	Realm           string           `json:"realm"`
	Decision        string           `json:"decision"`
	UnitID          string           `json:"unit_id,omitempty"`
	PolicyID        string           `json:"policy_id,omitempty"`
	OutputCID       string           `json:"output_cid"`
	Proof           Proof            `json:"proof"`
	PoI             *PoI             `json:"poi,omitempty"`
	Refs            []Ref            `json:"refs"`
	Links           Links            `json:"links"`
	PolicyDecisions []PolicyDecision `json:"policy_decisions,omitempty"`

	// Malformed lists the top-level fields whose JSON type was wrong, sorted.
	// Their Go values are left zero.
	Malformed []string `json:"-"`
}

// IsMalformed reports whether field had the wrong JSON type when decoded.
func (c *Card) IsMalformed(field string) bool {
	i := sort.SearchStrings(c.Malformed, field)
	return i < len(c.Malformed) && c.Malformed[i] == field
}

// cardFieldTypes is the JSON type of every top-level card field:
// '"' string, '{' object, '[' array.
var cardFieldTypes = map[string]byte{
	"kind":             '"',
	"realm":            '"',
	"decision":         '"',
	"unit_id":          '"',
	"policy_id":        '"',
	"output_cid":       '"',
	"proof":            '{',
	"poi":              '{',
	"refs":             '[',
	"links":            '{',
	"policy_decisions": '[',
}

// DecodeCard decodes a card document. Only input that is not a JSON object is
// reported as cidutil.KindParse. A field of the wrong type decodes as its
// zero value and is listed in Card.Malformed; judging it is left to package
// verify.
func DecodeCard(b []byte) (*Card, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil || fields == nil {
		if err == nil {
			err = errors.New("card is null")
		}
		return nil, cidutil.ParseError("", "malformed receipt card", err)
	}
	var c Card
	if err := json.Unmarshal(b, &c); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, cidutil.ParseError("", "malformed receipt card", err)
		}
	}
	for name, raw := range fields {
		want, ok := cardFieldTypes[name]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || raw[0] == want {
			continue
		}
		c.Malformed = append(c.Malformed, name)
	}
	sort.Strings(c.Malformed)
	return &c, nil
}

// RuntimeCertKind is the discriminator of a runtime certificate.
const RuntimeCertKind = "runtime.cert.v1"

// RuntimeCert certifies a runtime until ValidUntil (RFC 3339).
type RuntimeCert struct {
	Kind       string `json:"kind"`
	ValidUntil string `json:"valid_until"`
}

// DecodeRuntimeCert decodes a runtime certificate document.
func DecodeRuntimeCert(b []byte) (*RuntimeCert, error) {
	var c RuntimeCert
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, cidutil.ParseError("", "malformed runtime certificate", err)
	}
	return &c, nil
}
