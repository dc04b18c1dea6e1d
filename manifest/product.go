package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"tdln.foundry/receipts/cidutil"
)

// Assignment binds a product component name to a file or directory path.
type Assignment struct {
	Name string
	Path string
}

// ParseAssignment accepts "NAME=/path" and "components[NAME]=/path".
func ParseAssignment(s string) (Assignment, error) {
	if rest, ok := strings.CutPrefix(s, "components["); ok {
		name, path, ok := strings.Cut(rest, "]=")
		if !ok || name == "" || path == "" {
			return Assignment{}, fmt.Errorf("manifest: bad assignment %q: want components[NAME]=/path", s)
		}
		return Assignment{Name: name, Path: path}, nil
	}
	name, path, ok := strings.Cut(s, "=")
	if !ok || name == "" || path == "" {
		return Assignment{}, fmt.Errorf("manifest: bad assignment %q: want NAME=/path", s)
	}
	return Assignment{Name: name, Path: path}, nil
}

// Product is a product manifest held as a generic JSON tree so that fields
// this package does not know about survive a rewrite.
type Product struct {
	doc map[string]any
}

// DecodeProduct parses a product manifest.
func DecodeProduct(b []byte) (*Product, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, cidutil.ParseError("", "malformed product manifest", err)
	}
	if doc == nil {
		return nil, cidutil.ParseError("", "product manifest must be an object", nil)
	}
	return &Product{doc: doc}, nil
}

// ReadProduct reads and parses the manifest at path.
func ReadProduct(path string) (*Product, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, cidutil.IOError(path, "read product manifest", err)
	}
	p, err := DecodeProduct(b)
	if err != nil {
		var ce *cidutil.Error
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}
	return p, nil
}

func (p *Product) components() []any {
	product, _ := p.doc["product"].(map[string]any)
	if product == nil {
		return nil
	}
	comps, _ := product["components"].([]any)
	return comps
}

// ComponentCID returns the cid recorded for a component, if any.
func (p *Product) ComponentCID(name string) (string, bool) {
	for _, c := range p.components() {
		m, _ := c.(map[string]any)
		if m != nil && m["name"] == name {
			s, ok := m["cid"].(string)
			return s, ok
		}
	}
	return "", false
}

// SetComponentCIDs hashes each assigned path and stores the result as the
// component's "cid". Every named component must already exist; on error the
// manifest is left unchanged.
func (p *Product) SetComponentCIDs(h *cidutil.Hasher, sets []Assignment) error {
	idx := map[string]map[string]any{}
	for _, c := range p.components() {
		if m, ok := c.(map[string]any); ok {
			if name, ok := m["name"].(string); ok {
				idx[name] = m
			}
		}
	}
	cids := make([]string, len(sets))
	for i, a := range sets {
		if _, ok := idx[a.Name]; !ok {
			return fmt.Errorf("manifest: component not in manifest: %s", a.Name)
		}
		c, err := h.Path(a.Path)
		if err != nil {
			return err
		}
		cids[i] = c.String()
	}
	for i, a := range sets {
		idx[a.Name]["cid"] = cids[i]
	}
	return nil
}

// MarshalIndent renders the manifest for humans: two-space indent, non-ASCII
// kept raw.
func (p *Product) MarshalIndent() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p.doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes the indented manifest to path.
func (p *Product) WriteFile(path string) error {
	b, err := p.MarshalIndent()
	if err != nil {
		return cidutil.ParseError(path, "encode product manifest", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return cidutil.IOError(path, "write product manifest", err)
	}
	return nil
}
