package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tdln.foundry/receipts/certify"
	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/compliance"
	"tdln.foundry/receipts/storage/localfs"
)

const passCard = `{"kind":"receipt.card.v1","realm":"trust","decision":"ACK",
  "links":{"card_url":"https://cert.tdln.foundry/r/b3:0123456789abcdef"},
  "proof":{"seal":{"alg":"ed25519-blake3","kid":"k1","sig":"c2ln"},
           "hash_chain":[{"kind":"output","cid":"cid:b3:0123456789abcdef"}]},
  "output_cid":"cid:b3:0123456789abcdef"%s}`

func card(extra string) string { return strings.Replace(passCard, "%s", extra, 1) }

const warnRefs = `,"refs":[{"cid":"cid:b3:aaaaaaaaaaaaaaaa","hrefs":["https://example.com/x"]}]`

func newTestRouter(t *testing.T) (http.Handler, *Handler) {
	t.Helper()
	svc := certify.New()
	svc.Clock = func() time.Time { return time.Date(2025, 1, 2, 2, 4, 5, 0, time.UTC) }
	store, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := &Handler{Certify: svc, Store: store}
	return NewRouter(h), h
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func decode(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v: %s", err, res.Body.String())
	}
	return out
}

func errorKind(t *testing.T, res *httptest.ResponseRecorder) string {
	t.Helper()
	e, _ := decode(t, res)["error"].(map[string]any)
	kind, _ := e["kind"].(string)
	return kind
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	if res := do(t, router, http.MethodGet, "/healthz", ""); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestRun(t *testing.T) {
	router, _ := newTestRouter(t)
	res := do(t, router, http.MethodPost, "/v1/run", `{"realm":"trust","intent":"certify","inputs":{"data":[]},"metadata":{"who":"ci"}}`)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	out := decode(t, res)
	want, _ := cidutil.NewHasher(cidutil.BLAKE3).Bytes([]byte(
		`{"inputs":{"data":[]},"intent":"certify","options":{},"realm":"trust","ts":"2025-01-02T02:04:05Z"}`))
	if out["run_cid"] != want.String() {
		t.Fatalf("run_cid = %v want %s", out["run_cid"], want)
	}
	if out["status"] != "RUNNING" {
		t.Fatalf("status = %v", out["status"])
	}
	links, _ := out["links"].(map[string]any)
	if links["card_url"] != "https://cert.tdln.foundry/r/"+want.String() {
		t.Fatalf("card_url = %v", links["card_url"])
	}
	if _, ok := out["receipt_preview"].(map[string]any)["accepted_at"]; !ok {
		t.Fatalf("missing receipt_preview.accepted_at: %v", out)
	}
}

func TestRun_Errors(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, tc := range []struct {
		body string
		kind string
	}{
		{`{"realm":`, KindBadRequest},
		{`{"realm":"moon","intent":"x","inputs":{}}`, KindBadRealm},
		{`{"realm":"trust","inputs":{}}`, KindBadRequest},
	} {
		res := do(t, router, http.MethodPost, "/v1/run", tc.body)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.body, res.Code)
		}
		if got := errorKind(t, res); got != tc.kind {
			t.Fatalf("%s: kind = %q want %q", tc.body, got, tc.kind)
		}
	}
}

func TestVerifyCard_StatusMapping(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, tc := range []struct {
		name   string
		query  string
		body   string
		status int
		result string
	}{
		{"pass", "", card(""), http.StatusOK, "PASS"},
		{"warn permissive", "", card(warnRefs), http.StatusOK, "WARN"},
		{"warn strict", "?mode=strict", card(warnRefs), http.StatusUnprocessableEntity, "WARN"},
		{"fail", "", strings.Replace(card(""), `"ACK"`, `"MAYBE"`, 1), http.StatusUnprocessableEntity, "FAIL"},
		{"kind not a string", "", `{"kind":5}`, http.StatusUnprocessableEntity, "FAIL"},
		{"refs not an array", "", card(`,"refs":{}`), http.StatusUnprocessableEntity, "FAIL"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res := do(t, router, http.MethodPost, "/v1/verify/card"+tc.query, tc.body)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, res.Code, res.Body.String())
			}
			out := decode(t, res)
			if out["result"] != tc.result {
				t.Fatalf("result = %v want %s", out["result"], tc.result)
			}
			if out["profile"] != "rref-v1.1" {
				t.Fatalf("profile = %v", out["profile"])
			}
		})
	}
}

func TestVerifyCard_DefaultModeStrict(t *testing.T) {
	router, h := newTestRouter(t)
	h.Mode = compliance.Strict
	if res := do(t, router, http.MethodPost, "/v1/verify/card", card(warnRefs)); res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
	if res := do(t, router, http.MethodPost, "/v1/verify/card?mode=permissive", card(warnRefs)); res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestVerifyCard_Errors(t *testing.T) {
	router, _ := newTestRouter(t)
	if res := do(t, router, http.MethodPost, "/v1/verify/card", `{"kind":`); res.Code != http.StatusBadRequest || errorKind(t, res) != string(cidutil.KindParse) {
		t.Fatalf("malformed: %d %s", res.Code, res.Body.String())
	}
	if res := do(t, router, http.MethodPost, "/v1/verify/card?profile=nope", card("")); res.Code != http.StatusNotFound {
		t.Fatalf("unknown profile: expected 404, got %d", res.Code)
	}
	if res := do(t, router, http.MethodPost, "/v1/verify/card?mode=lenient", card("")); res.Code != http.StatusBadRequest {
		t.Fatalf("bad mode: expected 400, got %d", res.Code)
	}
}

func TestVerifyLog(t *testing.T) {
	router, _ := newTestRouter(t)
	good := `{"decision":"Allow","policy_decisions":[{"id":"engine.auth.role.v1","decision":"Allow"},` +
		`{"id":"engine.required.components_nonempty.v1","decision":"Allow"},{"id":"engine.version.semver_like.v1","decision":"Allow"}],` +
		`"output":{"cid":"cid:b3:01","did":"did:tdln:0123456789abcdef"},"proof":{"hash_chain":[{"kind":"output","cid":"cid:b3:01"}]}}`

	res := do(t, router, http.MethodPost, "/v1/verify/log", good+"\n{torn")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if out := decode(t, res); out["decision"] != "Allow" || out["profile"] != "log-minimal-v1" {
		t.Fatalf("report = %v", out)
	}

	res = do(t, router, http.MethodPost, "/v1/verify/log", `{"decision":"Allow"}`)
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
	if out := decode(t, res); out["code"] != "LOG_INCOMPLETE" {
		t.Fatalf("report = %v", out)
	}

	res = do(t, router, http.MethodPost, "/v1/verify/log", "\n\n")
	if res.Code != http.StatusBadRequest || errorKind(t, res) != KindNoRecords {
		t.Fatalf("empty log: %d %s", res.Code, res.Body.String())
	}
}

func TestCIDAndCanon(t *testing.T) {
	router, _ := newTestRouter(t)
	res := do(t, router, http.MethodPost, "/v1/cid", `{"b":1, "a":[true]}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	want, _ := cidutil.NewHasher(cidutil.BLAKE3).Bytes([]byte(`{"a":[true],"b":1}`))
	if got := decode(t, res)["cid"]; got != want.String() {
		t.Fatalf("cid = %v want %s", got, want)
	}

	res = do(t, router, http.MethodPost, "/v1/canon", `{"b":1, "a":[true]}`)
	if res.Code != http.StatusOK || res.Body.String() != `{"a":[true],"b":1}` {
		t.Fatalf("canon = %d %s", res.Code, res.Body.String())
	}
	if res := do(t, router, http.MethodPost, "/v1/cid", `{"a":1,"a":2}`); res.Code != http.StatusBadRequest {
		t.Fatalf("duplicate keys: expected 400, got %d", res.Code)
	}
}

func TestObjects(t *testing.T) {
	router, _ := newTestRouter(t)
	res := do(t, router, http.MethodPost, "/v1/objects", "artifact bytes")
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	out := decode(t, res)
	want, _ := cidutil.NewHasher(cidutil.BLAKE3).Bytes([]byte("artifact bytes"))
	if out["cid"] != want.Embedded() {
		t.Fatalf("cid = %v want %s", out["cid"], want.Embedded())
	}
	block, _ := out["block_cid"].(string)

	for _, ref := range []string{want.Embedded(), want.String(), block} {
		res := do(t, router, http.MethodGet, "/v1/objects/"+ref, "")
		if res.Code != http.StatusOK || !bytes.Equal(res.Body.Bytes(), []byte("artifact bytes")) {
			t.Fatalf("GET %s: %d %q", ref, res.Code, res.Body.String())
		}
	}
	if res := do(t, router, http.MethodHead, "/v1/objects/"+block, ""); res.Code != http.StatusOK {
		t.Fatalf("HEAD: expected 200, got %d", res.Code)
	}

	missing, _ := cidutil.NewHasher(cidutil.BLAKE3).Bytes([]byte("never stored"))
	if res := do(t, router, http.MethodGet, "/v1/objects/"+missing.Embedded(), ""); res.Code != http.StatusNotFound {
		t.Fatalf("missing: expected 404, got %d", res.Code)
	}
	if res := do(t, router, http.MethodGet, "/v1/objects/not-a-cid", ""); res.Code != http.StatusBadRequest {
		t.Fatalf("invalid: expected 400, got %d", res.Code)
	}
}

func TestObjects_NoStore(t *testing.T) {
	router := NewRouter(&Handler{})
	if res := do(t, router, http.MethodPost, "/v1/objects", "x"); res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if res := do(t, router, http.MethodPost, "/v1/run", "{}"); res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	router := NewRouter(&Handler{MaxBody: 8})
	if res := do(t, router, http.MethodPost, "/v1/cid", `{"a":"0123456789"}`); res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
}
