// Package certify issues run handles: it fixes a run manifest, derives its
// CID and card URL, assigns a DID and optionally stores and signs the result.
package certify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/did"
	"tdln.foundry/receipts/manifest"
	"tdln.foundry/receipts/seal"
	"tdln.foundry/receipts/storage"
)

// StatusRunning is the status of every freshly issued run.
const StatusRunning = "RUNNING"

// DefaultIssuer identifies this service in receipt previews.
const DefaultIssuer = "did:tdln:foundry:m1"

var (
	ErrBadRealm       = errors.New("certify: unknown realm")
	ErrInvalidRequest = errors.New("certify: invalid request")
)

type RunRequest struct {
	Realm    string         `json:"realm"`
	Intent   string         `json:"intent"`
	Inputs   map[string]any `json:"inputs"`
	Options  map[string]any `json:"options,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Links struct {
	CardURL string `json:"card_url"`
}

type Preview struct {
	AcceptedAt string `json:"accepted_at"`
	Issuer     string `json:"issuer"`
	Signature  string `json:"signature,omitempty"`
}

type RunResponse struct {
	DID            string  `json:"did"`
	RunCID         string  `json:"run_cid"`
	Links          Links   `json:"links"`
	Status         string  `json:"status"`
	ReceiptPreview Preview `json:"receipt_preview"`

	// Manifest is the fixed run manifest; it is not part of the response body.
	Manifest *manifest.Run `json:"-"`
	// BlockCID is set when the manifest was stored.
	BlockCID string `json:"-"`
}

type Service struct {
	Hasher      *cidutil.Hasher
	DIDs        *did.Generator
	Clock       func() time.Time
	CardURLBase string
	Issuer      string

	// Signer, when set, signs the run CID digest for the preview.
	Signer seal.Signer
	// Store, when set, receives the canonical manifest bytes.
	Store storage.CAS
}

// New returns a Service with BLAKE3 CIDs, the default realm table and the
// system clock.
func New() *Service {
	return &Service{
		Hasher: cidutil.NewHasher(cidutil.Default()),
		DIDs:   did.NewGenerator(nil, nil),
		Clock:  time.Now,
		Issuer: DefaultIssuer,
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}

func (s *Service) issuer() string {
	if s.Issuer == "" {
		return DefaultIssuer
	}
	return s.Issuer
}

// Run fixes the manifest for req and returns the run handle.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunResponse, error) {
	if s.DIDs == nil || s.Hasher == nil {
		return nil, errors.New("certify: service not configured")
	}
	if !s.DIDs.Known(req.Realm) {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrBadRealm, req.Realm, strings.Join(s.DIDs.Realms(), ", "))
	}
	now := s.now()
	m, err := manifest.NewRun(req.Realm, req.Intent, req.Inputs, req.Options, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	doc, err := m.Canonical()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	runCID, err := s.Hasher.Bytes(doc)
	if err != nil {
		return nil, err
	}
	id, err := s.DIDs.New(req.Realm)
	if err != nil {
		return nil, err
	}

	resp := &RunResponse{
		DID:    id,
		RunCID: runCID.String(),
		Links:  Links{CardURL: cidutil.CardURL(s.CardURLBase, runCID)},
		Status: StatusRunning,
		ReceiptPreview: Preview{
			AcceptedAt: now.Format(manifest.TimeLayout),
			Issuer:     s.issuer(),
		},
		Manifest: m,
	}

	if s.Signer != nil {
		sig, err := s.Signer.Sign(runCID.Digest)
		if err != nil {
			return nil, fmt.Errorf("certify: sign preview: %w", err)
		}
		keyAlg, _, _ := strings.Cut(s.Signer.PublicKey(), ":")
		resp.ReceiptPreview.Signature = keyAlg + ":" + base64.StdEncoding.EncodeToString(sig)
	}

	if s.Store != nil {
		block, err := s.Store.Put(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("certify: store manifest: %w", err)
		}
		resp.BlockCID = block.String()
	}
	return resp, nil
}
