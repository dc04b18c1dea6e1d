package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tdln.foundry/receipts/canon"
	"tdln.foundry/receipts/certify"
	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/compliance"
	"tdln.foundry/receipts/receipt"
	"tdln.foundry/receipts/storage"
	"tdln.foundry/receipts/verify"
)

// DefaultMaxBody bounds request bodies.
const DefaultMaxBody = 8 << 20

type Handler struct {
	Certify  *certify.Service
	Profiles *verify.Profiles
	// Mode applies when a request does not pass ?mode=.
	Mode   compliance.Mode
	Hasher *cidutil.Hasher
	// Store backs /v1/objects; nil answers 503.
	Store   storage.CAS
	MaxBody int64
}

func (h *Handler) profiles() *verify.Profiles {
	if h.Profiles == nil {
		return verify.DefaultProfiles()
	}
	return h.Profiles
}

func (h *Handler) hasher() *cidutil.Hasher {
	if h.Hasher == nil {
		return cidutil.NewHasher(cidutil.Default())
	}
	return h.Hasher
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limit := h.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, KindBadRequest, err.Error())
			return nil, false
		}
		writeError(w, http.StatusBadRequest, KindBadRequest, err.Error())
		return nil, false
	}
	return b, true
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	if h.Certify == nil {
		writeError(w, http.StatusServiceUnavailable, KindUnavailable, "certify service not configured")
		return
	}
	b, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var req certify.RunRequest
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, "malformed run request: "+err.Error())
		return
	}
	resp, err := h.Certify.Run(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) CID(w http.ResponseWriter, r *http.Request) {
	b, ok := h.readBody(w, r)
	if !ok {
		return
	}
	c, err := h.hasher().JSONBytes(b)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cid": c.String()})
}

// Canon echoes the body in JSON Atomic form.
func (h *Handler) Canon(w http.ResponseWriter, r *http.Request) {
	b, ok := h.readBody(w, r)
	if !ok {
		return
	}
	out, err := canon.CanonicalizeJSON(b)
	if err != nil {
		writeErr(w, cidutil.ParseError("", "malformed JSON", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

type cardResponse struct {
	verify.Verdict
	Profile  string `json:"profile"`
	Mode     string `json:"mode"`
	Accepted bool   `json:"accepted"`
}

func (h *Handler) VerifyCard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, ok := h.profiles().Card(q.Get("profile"))
	if !ok {
		writeError(w, http.StatusNotFound, KindUnknownProfile, fmt.Sprintf("unknown card profile %q", q.Get("profile")))
		return
	}
	mode := h.Mode
	if s := q.Get("mode"); s != "" {
		m, err := compliance.ParseMode(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, KindBadRequest, err.Error())
			return
		}
		mode = m
	}
	b, ok := h.readBody(w, r)
	if !ok {
		return
	}
	v, err := verify.VerifyCardJSON(b, p)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := cardResponse{Verdict: v, Profile: p.Name, Mode: mode.String(), Accepted: compliance.Accept(v, mode)}
	writeJSON(w, verdictStatus(out.Accepted), out)
}

type logResponse struct {
	verify.LogReport
	Profile string `json:"profile"`
}

func (h *Handler) VerifyLog(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("profile")
	p, ok := h.profiles().Log(name)
	if !ok {
		writeError(w, http.StatusNotFound, KindUnknownProfile, fmt.Sprintf("unknown log profile %q", name))
		return
	}
	b, ok := h.readBody(w, r)
	if !ok {
		return
	}
	rep, err := verify.VerifyLog(bytes.NewReader(b), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, verdictStatus(!rep.Failed()), logResponse{LogReport: rep, Profile: p.Name})
}

func (h *Handler) VerifySIRP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("profile")
	p, ok := h.profiles().SIRP(name)
	if !ok {
		writeError(w, http.StatusNotFound, KindUnknownProfile, fmt.Sprintf("unknown sirp profile %q", name))
		return
	}
	b, ok := h.readBody(w, r)
	if !ok {
		return
	}
	c, err := receipt.DecodeCard(b)
	if err != nil {
		writeErr(w, err)
		return
	}
	v := verify.VerifySIRP(c, p)
	writeJSON(w, verdictStatus(!v.Failed()), v)
}

func verdictStatus(accepted bool) int {
	if accepted {
		return http.StatusOK
	}
	return http.StatusUnprocessableEntity
}

type objectResponse struct {
	CID      string `json:"cid"`
	BlockCID string `json:"block_cid"`
}

func (h *Handler) PutObject(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, KindUnavailable, "object store not configured")
		return
	}
	b, ok := h.readBody(w, r)
	if !ok {
		return
	}
	id, err := h.Store.Put(r.Context(), b)
	if err != nil {
		writeErr(w, err)
		return
	}
	c, err := cidutil.FromBlock(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, objectResponse{CID: c.Embedded(), BlockCID: id.String()})
}

func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, KindUnavailable, "object store not configured")
		return
	}
	id, err := cidutil.DecodeBlock(chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidCID, err.Error())
		return
	}
	b, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", `"`+id.String()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *Handler) HasObject(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	id, err := cidutil.DecodeBlock(chi.URLParam(r, "cid"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ok, err := h.Store.Has(r.Context(), id)
	switch {
	case err != nil:
		w.WriteHeader(http.StatusInternalServerError)
	case !ok:
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusOK)
	}
}
