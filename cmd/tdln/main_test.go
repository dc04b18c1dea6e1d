package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tdln.foundry/receipts/canon"
	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/receipt"
	"tdln.foundry/receipts/verify"
)

const testSeedHex = "0101010101010101010101010101010101010101010101010101010101010101"

const unsealedCard = `{"kind":"receipt.card.v1","realm":"trust","decision":"ACK",
  "links":{"card_url":"https://cert.tdln.foundry/r/b3:0123456789abcdef"},
  "proof":{"seal":{"alg":"ed25519-blake3","kid":"k1","sig":""},
           "hash_chain":[{"kind":"output","cid":"cid:b3:0123456789abcdef"}]},
  "output_cid":"cid:b3:0123456789abcdef"}`

func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TDLN_CONFIG", "TDLN_LISTEN_ADDR", "TDLN_MODE", "TDLN_CARD_URL_BASE"} {
		t.Setenv(k, "")
	}
	t.Setenv("TDLN_KEY_DIR", t.TempDir())
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestUsage(t *testing.T) {
	if code, _, _ := runCLI(t, ""); code != 2 {
		t.Fatalf("no args: code %d", code)
	}
	if code, _, _ := runCLI(t, "", "bogus"); code != 2 {
		t.Fatalf("unknown command: code %d", code)
	}
	code, out, _ := runCLI(t, "", "help")
	if code != 0 || !strings.Contains(out, "tdln verify card") {
		t.Fatalf("help: code %d out %q", code, out)
	}
}

func TestCanonStdin(t *testing.T) {
	code, out, errOut := runCLI(t, `{"b":1, "a":[true,null]}`, "canon")
	if code != 0 {
		t.Fatalf("canon: code %d: %s", code, errOut)
	}
	if out != `{"a":[true,null],"b":1}` {
		t.Fatalf("canon = %q", out)
	}
	if code, _, _ := runCLI(t, `{"a":`, "canon", "-"); code != 1 {
		t.Fatalf("malformed JSON: code %d", code)
	}
}

func TestCIDOfFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "out.bin", "hello")
	want, err := cidutil.NewHasher(cidutil.BLAKE3).Bytes([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	code, out, errOut := runCLI(t, "", "cid", p)
	if code != 0 || strings.TrimSpace(out) != want.String() {
		t.Fatalf("cid: code %d out %q err %q", code, out, errOut)
	}
	_, out, _ = runCLI(t, "", "cid", "--embedded", p)
	if strings.TrimSpace(out) != want.Embedded() {
		t.Fatalf("cid --embedded = %q", out)
	}
	if code, _, _ := runCLI(t, "", "cid", "--digest", "md5", p); code != 2 {
		t.Fatalf("unknown digest: code %d", code)
	}
	if code, _, _ := runCLI(t, "", "cid", filepath.Join(t.TempDir(), "absent")); code != 1 {
		t.Fatalf("missing file: code %d", code)
	}
}

func TestDID(t *testing.T) {
	code, out, _ := runCLI(t, "", "did", "--realm", "chip")
	if code != 0 || !strings.HasPrefix(out, "did:chip:") {
		t.Fatalf("did: code %d out %q", code, out)
	}
}

func TestVerifyCardExitCodes(t *testing.T) {
	dir := t.TempDir()
	good := strings.Replace(unsealedCard, `"sig":""`, `"sig":"c2ln"`, 1)
	p := writeFile(t, dir, "card.json", good)
	code, out, errOut := runCLI(t, "", "verify", "card", p)
	if code != 0 {
		t.Fatalf("verify card: code %d: %s", code, errOut)
	}
	var v verify.Verdict
	if err := json.Unmarshal([]byte(out), &v); err != nil || v.Result != verify.Pass {
		t.Fatalf("verdict %q: %v", out, err)
	}

	nack := writeFile(t, dir, "nack.json", strings.Replace(good, `"ACK"`, `"MAYBE"`, 1))
	if code, _, _ := runCLI(t, "", "verify", "card", nack); code != 1 {
		t.Fatalf("bad decision: code %d", code)
	}
	typed := writeFile(t, dir, "typed.json", `{"kind":5}`)
	code, out, _ = runCLI(t, "", "verify", "card", typed)
	if code != 1 {
		t.Fatalf("non-string kind: code %d", code)
	}
	if err := json.Unmarshal([]byte(out), &v); err != nil || v.Code != verify.CodeBadKind {
		t.Fatalf("non-string kind verdict %q: %v", out, err)
	}
	if code, _, _ := runCLI(t, "", "verify", "card", "--mode", "lenient", p); code != 2 {
		t.Fatalf("bad mode: code %d", code)
	}
	if code, _, _ := runCLI(t, "", "verify", "card", "--profile", "nope", p); code != 2 {
		t.Fatalf("unknown profile: code %d", code)
	}
}

func TestVerifyCardRecord(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "card.json", strings.Replace(unsealedCard, `"sig":""`, `"sig":"c2ln"`, 1))
	log := filepath.Join(dir, "audit.jsonl")
	for i := 0; i < 2; i++ {
		if code, _, errOut := runCLI(t, "", "verify", "card", "--record", log, p); code != 0 {
			t.Fatalf("verify card --record: code %d: %s", code, errOut)
		}
	}
	b, err := os.ReadFile(log)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d records", len(lines))
	}
	var rec verifyRecord
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatal(err)
	}
	if !rec.Accepted || rec.Card != p || rec.Result != verify.Pass {
		t.Fatalf("record = %+v", rec)
	}
}

func TestKeySealRoundTrip(t *testing.T) {
	isolate(t)
	keysDir := t.TempDir()
	dir := t.TempDir()

	code, out, errOut := runCLI(t, "", "key", "init", "--keys-dir", keysDir, "--name", "foundry", "--seed-hex", testSeedHex)
	if code != 0 || !strings.Contains(out, "Created root key: ed25519:") {
		t.Fatalf("key init: code %d out %q err %q", code, out, errOut)
	}
	if code, _, _ := runCLI(t, "", "key", "init", "--keys-dir", keysDir, "--name", "foundry"); code != 1 {
		t.Fatalf("second init without --force: code %d", code)
	}
	if code, _, errOut := runCLI(t, "", "key", "derive", "--keys-dir", keysDir, "--from", "foundry", "--role", "sealer"); code != 0 {
		t.Fatalf("key derive: code %d: %s", code, errOut)
	}
	_, out, _ = runCLI(t, "", "key", "list", "--keys-dir", keysDir)
	if out != "foundry\n  - sealer\n" {
		t.Fatalf("key list = %q", out)
	}
	code, pub, errOut := runCLI(t, "", "key", "export", "--keys-dir", keysDir, "--name", "foundry", "--role", "sealer")
	if code != 0 {
		t.Fatalf("key export: code %d: %s", code, errOut)
	}
	pub = strings.TrimSpace(pub)

	card := writeFile(t, dir, "card.json", unsealedCard)
	code, signed, errOut := runCLI(t, "", "seal", "sign", "--keys-dir", keysDir, "--key", "foundry", "--role", "sealer", "--kid", "m1", card)
	if code != 0 {
		t.Fatalf("seal sign: code %d: %s", code, errOut)
	}
	if !strings.Contains(errOut, "Public-Key: "+pub) {
		t.Fatalf("seal sign did not report the signing key: %q", errOut)
	}
	sealed := writeFile(t, dir, "sealed.json", signed)
	if code, out, errOut := runCLI(t, "", "seal", "verify", "--pub", pub, sealed); code != 0 || out != "OK\n" {
		t.Fatalf("seal verify: code %d out %q err %q", code, out, errOut)
	}
	if code, _, _ := runCLI(t, "", "verify", "card", "--mode", "strict", sealed); code != 0 {
		t.Fatalf("sealed card rejected: code %d", code)
	}

	tampered := writeFile(t, dir, "tampered.json", strings.Replace(signed, `"ACK"`, `"NACK"`, 1))
	if code, _, _ := runCLI(t, "", "seal", "verify", "--pub", pub, tampered); code != 1 {
		t.Fatalf("tampered card: code %d", code)
	}
	if code, _, _ := runCLI(t, "", "seal", "sign", "--seed-hex", testSeedHex, card); code != 2 {
		t.Fatalf("missing kid: code %d", code)
	}
	if code, _, _ := runCLI(t, "", "seal", "sign", "--kid", "m1", "--seed-hex", testSeedHex, "--key", "foundry", card); code != 2 {
		t.Fatalf("conflicting signer flags: code %d", code)
	}
}

func TestRunWritesSealedCard(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	outDir := filepath.Join(dir, "run")
	output := writeFile(t, dir, "result.bin", "result")

	code, out, errOut := runCLI(t, "", "run", "--out", outDir, "--output", output,
		"--seed-hex", testSeedHex, "--kid", "m1")
	if code != 0 {
		t.Fatalf("run: code %d: %s", code, errOut)
	}
	for _, prefix := range []string{"DID: did:tdln:", "RUN_CID: b3:", "CARD_URL: https://"} {
		if !strings.Contains(out, prefix) {
			t.Fatalf("run output lacks %q: %s", prefix, out)
		}
	}

	b, err := os.ReadFile(filepath.Join(outDir, cardFile))
	if err != nil {
		t.Fatal(err)
	}
	card, err := receipt.DecodeCard(b)
	if err != nil {
		t.Fatalf("DecodeCard: %v", err)
	}
	want, _ := cidutil.NewHasher(cidutil.BLAKE3).Bytes([]byte("result"))
	if card.OutputCID != want.Embedded() {
		t.Fatalf("output_cid = %s want %s", card.OutputCID, want.Embedded())
	}
	if card.Proof.Seal.Kid != "m1" || card.Proof.Seal.Sig == "" {
		t.Fatalf("card not sealed: %+v", card.Proof.Seal)
	}

	m, err := os.ReadFile(filepath.Join(outDir, manifestFile))
	if err != nil {
		t.Fatal(err)
	}
	runCID, err := cidutil.NewHasher(cidutil.BLAKE3).JSONBytes(m)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "RUN_CID: "+runCID.String()) {
		t.Fatalf("manifest on disk does not hash to the run CID: %s", out)
	}

	casDir := t.TempDir()
	code, out, errOut = runCLI(t, "", "store", "import", "--localfs-dir", casDir, filepath.Join(outDir, bundleFile))
	if code != 0 {
		t.Fatalf("store import: code %d: %s", code, errOut)
	}
	if n := len(strings.Fields(out)); n != 2 {
		t.Fatalf("imported %d blocks, want manifest and card", n)
	}
	if !strings.Contains(errOut, "card\t") || !strings.Contains(errOut, "run.manifest\t") {
		t.Fatalf("bundle labels missing: %q", errOut)
	}
	code, got, _ := runCLI(t, "", "store", "get", "--localfs-dir", casDir, "--cid", runCID.String())
	if code != 0 || got != string(mustCanon(t, m)) {
		t.Fatalf("bundled manifest differs: code %d", code)
	}
}

func mustCanon(t *testing.T, b []byte) []byte {
	t.Helper()
	c, err := canon.CanonicalizeJSON(b)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestStoreExportImport(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	p := writeFile(t, t.TempDir(), "obj", "exported")
	code, ref, errOut := runCLI(t, "", "store", "put", "--localfs-dir", src, p)
	if code != 0 {
		t.Fatalf("store put: code %d: %s", code, errOut)
	}
	ref = strings.TrimSpace(ref)
	tarPath := filepath.Join(t.TempDir(), "b.tar")
	if code, _, errOut := runCLI(t, "", "store", "export", "--localfs-dir", src, "--label", "obj="+ref, "--out", tarPath); code != 0 {
		t.Fatalf("store export: code %d: %s", code, errOut)
	}
	if code, _, errOut := runCLI(t, "", "store", "import", "--localfs-dir", dst, tarPath); code != 0 {
		t.Fatalf("store import: code %d: %s", code, errOut)
	}
	if code, out, _ := runCLI(t, "", "store", "get", "--localfs-dir", dst, "--cid", ref); code != 0 || out != "exported" {
		t.Fatalf("store get after import: code %d out %q", code, out)
	}
	if code, _, _ := runCLI(t, "", "store", "export", "--localfs-dir", src); code != 2 {
		t.Fatalf("export without cids: code %d", code)
	}
}

func TestRunRejects(t *testing.T) {
	isolate(t)
	if code, _, _ := runCLI(t, "", "run", "--out", t.TempDir()); code != 2 {
		t.Fatalf("--out without --output: code %d", code)
	}
	if code, _, _ := runCLI(t, "", "run", "--realm", "moon"); code != 1 {
		t.Fatalf("unknown realm: code %d", code)
	}
	code, _, errOut := runCLI(t, "", "run", "--out", t.TempDir(), "--output", writeFile(t, t.TempDir(), "o", "x"))
	if code != 0 || !strings.Contains(errOut, "not sealed") {
		t.Fatalf("unsealed run: code %d err %q", code, errOut)
	}
}

func TestStorePutGetHas(t *testing.T) {
	casDir := t.TempDir()
	p := writeFile(t, t.TempDir(), "obj.json", `{"a":1}`)

	code, out, errOut := runCLI(t, "", "store", "put", "--localfs-dir", casDir, p)
	if code != 0 {
		t.Fatalf("store put: code %d: %s", code, errOut)
	}
	ref := strings.TrimSpace(out)
	want, _ := cidutil.NewHasher(cidutil.BLAKE3).Bytes([]byte(`{"a":1}`))
	if ref != want.Embedded() {
		t.Fatalf("store put = %q want %q", ref, want.Embedded())
	}

	code, out, errOut = runCLI(t, "", "store", "get", "--localfs-dir", casDir, "--cid", ref)
	if code != 0 || out != `{"a":1}` {
		t.Fatalf("store get: code %d out %q err %q", code, out, errOut)
	}
	if code, out, _ := runCLI(t, "", "store", "has", "--localfs-dir", casDir, "--cid", want.String()); code != 0 || out != "present\n" {
		t.Fatalf("store has: code %d out %q", code, out)
	}

	other, _ := cidutil.NewHasher(cidutil.BLAKE3).Bytes([]byte("other"))
	if code, out, _ := runCLI(t, "", "store", "has", "--localfs-dir", casDir, "--cid", other.Embedded()); code != 1 || out != "absent\n" {
		t.Fatalf("store has (absent): code %d out %q", code, out)
	}
	if code, _, _ := runCLI(t, "", "store", "get", "--localfs-dir", casDir, "--cid", other.Embedded()); code != 1 {
		t.Fatalf("store get (absent): code %d", code)
	}
	if code, _, _ := runCLI(t, "", "store", "get", "--localfs-dir", casDir, "--cid", "nope"); code != 2 {
		t.Fatalf("store get (bad cid): code %d", code)
	}
	if code, _, _ := runCLI(t, "", "store", "put", p); code != 1 {
		t.Fatalf("store put without --localfs-dir: code %d", code)
	}
}

func TestStoreListBackends(t *testing.T) {
	code, out, _ := runCLI(t, "", "store", "put", "--list-backends")
	if code != 0 {
		t.Fatalf("--list-backends: code %d", code)
	}
	for _, name := range []string{"grpc", "ipfs", "localfs"} {
		if !strings.Contains(out, name) {
			t.Fatalf("backend %s not listed: %q", name, out)
		}
	}
}
