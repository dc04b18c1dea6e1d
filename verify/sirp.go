package verify

import (
	"sort"
	"strings"
	"time"

	"tdln.foundry/receipts/receipt"
)

// SIRPProfile lists the ref kinds a SIRP delivery card must carry.
type SIRPProfile struct {
	Name             string
	RequiredRefKinds []string
}

var SIRPv1 = &SIRPProfile{
	Name:             "sirp-v1",
	RequiredRefKinds: []string{"sirp.capsule.v1", "sirp.receipt.delivery.v1"},
}

// VerifySIRP checks that every required ref kind is present in c.Refs.
func VerifySIRP(c *receipt.Card, p *SIRPProfile) Verdict {
	if p == nil {
		p = SIRPv1
	}
	have := map[string]bool{}
	for _, ref := range c.Refs {
		have[ref.Kind] = true
	}
	var missing []string
	for _, k := range p.RequiredRefKinds {
		if !have[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return pass()
	}
	sort.Strings(missing)
	return Verdict{
		Result:  Fail,
		Code:    CodeSIRPMissingRefs,
		Msg:     "missing ref kinds: " + strings.Join(missing, ", "),
		Missing: missing,
	}
}

// VerifyRuntimeCert checks the kind and expiry of a runtime certificate.
// A certificate whose valid_until is not after now is expired.
func VerifyRuntimeCert(c *receipt.RuntimeCert, now time.Time) Verdict {
	if c.Kind != receipt.RuntimeCertKind {
		return *fail(CodeBadKind, "kind must be "+receipt.RuntimeCertKind)
	}
	until, err := time.Parse(time.RFC3339Nano, c.ValidUntil)
	if err != nil {
		return *fail(CodeBadTime, "valid_until missing or not RFC 3339")
	}
	if !until.After(now) {
		return *fail(CodeExpired, "certificate expired at "+until.UTC().Format(time.RFC3339))
	}
	return pass()
}
