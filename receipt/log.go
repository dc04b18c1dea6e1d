package receipt

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"tdln.foundry/receipts/canon"
	"tdln.foundry/receipts/cidutil"
)

// maxLineBytes bounds a single receipt record.
const maxLineBytes = 16 << 20

// ErrNoRecords is returned when a log holds no well-formed record.
var ErrNoRecords = errors.New("receipt: no receipts")

// Output names the artifact produced by a run.
type Output struct {
	CID string `json:"cid,omitempty"`
	DID string `json:"did,omitempty"`
}

// LogRecord is one line of a minimal receipt log. Producers write the output
// either nested ("output": {"cid", "did"}) or flat ("output.cid").
type LogRecord struct {
	Decision        string           `json:"decision"`
	PolicyDecisions []PolicyDecision `json:"policy_decisions,omitempty"`
	Output          *Output          `json:"output,omitempty"`
	FlatOutputCID   string           `json:"output.cid,omitempty"`
	FlatOutputDID   string           `json:"output.did,omitempty"`
	Proof           struct {
		HashChain []ChainStep `json:"hash_chain,omitempty"`
	} `json:"proof"`
}

// OutputCID prefers the flat key, then the nested one.
func (r *LogRecord) OutputCID() string {
	if r.FlatOutputCID != "" {
		return r.FlatOutputCID
	}
	if r.Output != nil {
		return r.Output.CID
	}
	return ""
}

// OutputDID prefers the flat key, then the nested one.
func (r *LogRecord) OutputDID() string {
	if r.FlatOutputDID != "" {
		return r.FlatOutputDID
	}
	if r.Output != nil {
		return r.Output.DID
	}
	return ""
}

// Entry is the authoritative record of a log.
type Entry struct {
	// Line is the 1-based line number of Raw.
	Line int
	Raw  []byte
	// Skipped counts non-blank lines that were not well-formed JSON objects.
	Skipped int
}

// Record decodes the entry as a LogRecord.
func (e Entry) Record() (*LogRecord, error) {
	var rec LogRecord
	if err := json.Unmarshal(e.Raw, &rec); err != nil {
		return nil, cidutil.ParseError(fmt.Sprintf("line %d", e.Line), "malformed receipt record", err)
	}
	return &rec, nil
}

// Last returns the last well-formed record of an NDJSON receipt log.
//
// Blank lines are ignored. Lines that are not JSON objects (for instance a
// torn final append) are skipped and counted; earlier records never override
// a later well-formed one.
func Last(r io.Reader) (Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var last Entry
	found := false
	skipped := 0
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if line[0] != '{' || !json.Valid(line) {
			skipped++
			continue
		}
		last = Entry{Line: lineNo, Raw: append([]byte(nil), line...)}
		found = true
	}
	if err := sc.Err(); err != nil {
		return Entry{}, &cidutil.Error{Kind: cidutil.KindIO, Message: "read receipt log", Cause: err}
	}
	if !found {
		return Entry{}, ErrNoRecords
	}
	last.Skipped = skipped
	return last, nil
}

// LastFile is Last over the file at path.
func LastFile(path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, cidutil.IOError(path, "open receipt log", err)
	}
	defer f.Close()
	return Last(f)
}

// Append writes v to the log at path as one canonical JSON line.
// The log is opened in append mode; existing records are never rewritten.
func Append(path string, v any) error {
	b, err := canon.Canonicalize(v)
	if err != nil {
		return cidutil.ParseError(path, "encode receipt record", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return &cidutil.Error{Kind: cidutil.KindIO, Path: path, Message: "open receipt log", Cause: err}
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return &cidutil.Error{Kind: cidutil.KindIO, Path: path, Message: "append receipt", Cause: err}
	}
	if err := f.Close(); err != nil {
		return &cidutil.Error{Kind: cidutil.KindIO, Path: path, Message: "close receipt log", Cause: err}
	}
	return nil
}
