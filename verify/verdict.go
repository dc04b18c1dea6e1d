// Package verify validates receipt cards, receipt logs and runtime
// certificates against named strictness profiles.
//
// Validation is pure: the same document and profile always produce the same
// Verdict. Card rules are evaluated in a fixed order and stop at the first
// failure; warnings are only reported when no rule fails.
package verify

import "strings"

// Result is the outcome class of a verdict.
type Result string

const (
	Pass Result = "PASS"
	Warn Result = "WARN"
	Fail Result = "FAIL"
)

// Stable verdict codes.
const (
	CodeBadKind             = "BAD_KIND"
	CodeBadRealm            = "BAD_REALM"
	CodeBadDecision         = "BAD_DECISION"
	CodeBadLink             = "BAD_LINK"
	CodeBadSeal             = "BAD_SEAL"
	CodeBadOutputCID        = "BAD_OUTPUT_CID"
	CodeHashChainEmpty      = "HASH_CHAIN_EMPTY"
	CodeHashChainIncomplete = "HASH_CHAIN_INCOMPLETE"
	CodePoIMissing          = "POI_MISSING"
	CodeRefMissingCID       = "REF_MISSING_CID"
	CodeRefNoHrefs          = "REF_NO_HREFS"
	CodePrivateNoPortable   = "PRIVATE_NO_PORTABLE"
	CodePublicNoPortable    = "PUBLIC_NO_CANONICAL_OR_TDLN"
	CodeLogIncomplete       = "LOG_INCOMPLETE"
	CodeSIRPMissingRefs     = "SIRP_MISSING_REFS"
	CodeBadTime             = "BAD_TIME"
	CodeExpired             = "EXPIRED"
)

// Verdict is the result of validating one document.
//
// Code is empty on PASS. A WARN code may carry several codes joined by "|".
type Verdict struct {
	Result  Result   `json:"result"`
	Code    string   `json:"code,omitempty"`
	Msg     string   `json:"msg,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// Failed reports whether the verdict is FAIL.
func (v Verdict) Failed() bool { return v.Result == Fail }

// Codes splits a combined code into its parts.
func (v Verdict) Codes() []string {
	if v.Code == "" {
		return nil
	}
	return strings.Split(v.Code, "|")
}

func pass() Verdict { return Verdict{Result: Pass} }

func fail(code, msg string) *Verdict {
	return &Verdict{Result: Fail, Code: code, Msg: msg}
}
