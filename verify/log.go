package verify

import (
	"io"
	"sort"
	"strings"

	"tdln.foundry/receipts/receipt"
)

// LogProfile is the constant set a minimal receipt log is checked against.
// Its decision vocabulary is independent of any CardProfile.
type LogProfile struct {
	Name             string
	Decisions        []string
	RequiredPolicies []string
}

// LogMinimalV1 is the default log profile.
var LogMinimalV1 = &LogProfile{
	Name:      "log-minimal-v1",
	Decisions: []string{"Allow", "Doubt", "Deny"},
	RequiredPolicies: []string{
		"engine.auth.role.v1",
		"engine.required.components_nonempty.v1",
		"engine.version.semver_like.v1",
	},
}

// LogReport is the verdict on the authoritative record of a log.
type LogReport struct {
	Verdict
	Decision  string `json:"decision,omitempty"`
	OutputCID string `json:"output_cid,omitempty"`
	OutputDID string `json:"output_did,omitempty"`
	Line      int    `json:"line"`
	Skipped   int    `json:"skipped,omitempty"`
}

// CheckRecord validates one log record. Unlike card rules it does not stop at
// the first problem: every missing item is listed.
func CheckRecord(rec *receipt.LogRecord, p *LogProfile) Verdict {
	if p == nil {
		p = LogMinimalV1
	}
	var missing []string
	if !contains(p.Decisions, rec.Decision) {
		missing = append(missing, "decision")
	}
	have := make(map[string]bool, len(rec.PolicyDecisions))
	for _, pd := range rec.PolicyDecisions {
		have[pd.ID] = true
	}
	policies := append([]string(nil), p.RequiredPolicies...)
	sort.Strings(policies)
	for _, id := range policies {
		if !have[id] {
			missing = append(missing, "policy:"+id)
		}
	}
	if rec.OutputCID() == "" {
		missing = append(missing, "output.cid")
	}
	if rec.OutputDID() == "" {
		missing = append(missing, "output.did")
	}
	if len(rec.Proof.HashChain) == 0 {
		missing = append(missing, "proof.hash_chain")
	}
	if len(missing) > 0 {
		return Verdict{
			Result:  Fail,
			Code:    CodeLogIncomplete,
			Msg:     strings.Join(missing, " | "),
			Missing: missing,
		}
	}
	return Verdict{Result: Pass, Msg: strings.Join([]string{rec.Decision, rec.OutputCID(), rec.OutputDID()}, " ")}
}

// VerifyLog validates the last well-formed record of an NDJSON log.
// A log without records yields receipt.ErrNoRecords.
func VerifyLog(r io.Reader, p *LogProfile) (LogReport, error) {
	e, err := receipt.Last(r)
	if err != nil {
		return LogReport{}, err
	}
	rec, err := e.Record()
	if err != nil {
		return LogReport{}, err
	}
	return LogReport{
		Verdict:   CheckRecord(rec, p),
		Decision:  rec.Decision,
		OutputCID: rec.OutputCID(),
		OutputDID: rec.OutputDID(),
		Line:      e.Line,
		Skipped:   e.Skipped,
	}, nil
}
