// Package manifest builds run manifests and patches component CIDs into
// product manifests.
package manifest

import (
	"errors"
	"time"

	"tdln.foundry/receipts/canon"
	"tdln.foundry/receipts/cidutil"
)

// TimeLayout is the manifest timestamp format: UTC, second precision.
const TimeLayout = "2006-01-02T15:04:05Z"

// Run is the immutable description of a requested run. Once hashed it must
// not be modified; its CID is the run CID.
type Run struct {
	Realm   string         `json:"realm"`
	Intent  string         `json:"intent"`
	Inputs  map[string]any `json:"inputs"`
	Options map[string]any `json:"options"`
	// Timestamp is serialized under "ts".
	Timestamp string `json:"ts"`
}

// NewRun assembles a run manifest stamped at now.
// Nil options become an empty object.
func NewRun(realm, intent string, inputs, options map[string]any, now time.Time) (*Run, error) {
	if realm == "" {
		return nil, errors.New("manifest: realm is required")
	}
	if intent == "" {
		return nil, errors.New("manifest: intent is required")
	}
	if inputs == nil {
		return nil, errors.New("manifest: inputs are required")
	}
	if options == nil {
		options = map[string]any{}
	}
	return &Run{
		Realm:     realm,
		Intent:    intent,
		Inputs:    inputs,
		Options:   options,
		Timestamp: now.UTC().Format(TimeLayout),
	}, nil
}

// Canonical returns the JSON Atomic bytes of m.
func (m *Run) Canonical() ([]byte, error) {
	b, err := canon.Canonicalize(m)
	if err != nil {
		return nil, cidutil.ParseError("", "canonicalize run manifest", err)
	}
	return b, nil
}

// CID hashes the canonical form of m.
func (m *Run) CID(h *cidutil.Hasher) (cidutil.CID, error) {
	b, err := m.Canonical()
	if err != nil {
		return cidutil.CID{}, err
	}
	return h.Bytes(b)
}
