package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tdln.foundry/receipts/cidutil"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 999, time.FixedZone("X", 3600))

func TestRun_CanonicalForm(t *testing.T) {
	m, err := NewRun("trust", "certify", map[string]any{"data": []any{}}, nil, fixedNow)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	got, err := m.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	want := `{"inputs":{"data":[]},"intent":"certify","options":{},"realm":"trust","ts":"2025-01-02T02:04:05Z"}`
	if string(got) != want {
		t.Fatalf("canonical mismatch\n got: %s\nwant: %s", got, want)
	}

	h := cidutil.NewHasher(cidutil.BLAKE3)
	c, err := m.CID(h)
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	direct, err := h.Bytes([]byte(want))
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !c.Equal(direct) || !strings.HasPrefix(c.String(), "b3:") {
		t.Fatalf("run CID %s does not hash the canonical bytes (%s)", c, direct)
	}
}

func TestNewRun_RequiresFields(t *testing.T) {
	in := map[string]any{}
	for _, tc := range []struct {
		realm, intent string
		inputs        map[string]any
	}{
		{"", "certify", in},
		{"trust", "", in},
		{"trust", "certify", nil},
	} {
		if _, err := NewRun(tc.realm, tc.intent, tc.inputs, nil, fixedNow); err == nil {
			t.Fatalf("expected error for %+v", tc)
		}
	}
}

func TestParseAssignment(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Assignment
	}{
		{"engine=/tmp/engine", Assignment{"engine", "/tmp/engine"}},
		{"components[engine]=/tmp/a=b", Assignment{"engine", "/tmp/a=b"}},
	} {
		got, err := ParseAssignment(tc.in)
		if err != nil {
			t.Fatalf("ParseAssignment(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseAssignment(%q) = %+v want %+v", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "engine", "=x", "components[engine]", "components[]=/x"} {
		if _, err := ParseAssignment(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestSetComponentCIDs(t *testing.T) {
	dir := t.TempDir()
	engine := filepath.Join(dir, "engine")
	if err := os.MkdirAll(engine, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(engine, "main.rs"), []byte("fn main() {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "product.json")
	doc := `{"product":{"name":"démo","components":[{"name":"engine"},{"name":"docs","cid":"keep"}]},"extra":1}`
	if err := os.WriteFile(src, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := ReadProduct(src)
	if err != nil {
		t.Fatalf("ReadProduct: %v", err)
	}
	h := cidutil.NewHasher(cidutil.BLAKE3)
	if err := p.SetComponentCIDs(h, []Assignment{{Name: "engine", Path: engine}}); err != nil {
		t.Fatalf("SetComponentCIDs: %v", err)
	}
	want, err := h.Dir(engine)
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if got, _ := p.ComponentCID("engine"); got != want.String() {
		t.Fatalf("engine cid = %q want %q", got, want)
	}
	if got, _ := p.ComponentCID("docs"); got != "keep" {
		t.Fatalf("untouched component changed: %q", got)
	}

	out := filepath.Join(dir, "out.json")
	if err := p.WriteFile(out); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "démo") || !strings.Contains(string(b), `"extra": 1`) {
		t.Fatalf("rewritten manifest lost content:\n%s", b)
	}
}

func TestSetComponentCIDs_UnknownComponentLeavesManifest(t *testing.T) {
	p, err := DecodeProduct([]byte(`{"product":{"components":[{"name":"engine"}]}}`))
	if err != nil {
		t.Fatalf("DecodeProduct: %v", err)
	}
	dir := t.TempDir()
	err = p.SetComponentCIDs(cidutil.NewHasher(cidutil.BLAKE3), []Assignment{
		{Name: "engine", Path: dir},
		{Name: "ghost", Path: dir},
	})
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected unknown component error, got %v", err)
	}
	if _, ok := p.ComponentCID("engine"); ok {
		t.Fatalf("manifest modified despite error")
	}
}

func TestDecodeProduct_Malformed(t *testing.T) {
	for _, doc := range []string{`{`, `null`, `[1]`} {
		if _, err := DecodeProduct([]byte(doc)); !cidutil.IsKind(err, cidutil.KindParse) {
			t.Fatalf("%s: got %v want KindParse", doc, err)
		}
	}
}
