// Package did generates realm-scoped run identifiers.
//
// A DID is a random handle, not derived from content:
//
//	did:<realm-tag>:<16 lowercase hex chars>
package did

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"sort"

	"github.com/google/uuid"
)

// SuffixLen is the number of hex characters in the random suffix.
const SuffixLen = 16

// DefaultRealmTags maps realms to their DID method tags.
var DefaultRealmTags = map[string]string{
	"trust": "tdln",
	"chip":  "chip",
}

var pattern = regexp.MustCompile(`^did:[a-z0-9]+:[0-9a-f]{16}$`)

// Generator issues DIDs for a fixed realm table.
type Generator struct {
	tags map[string]string
	rand io.Reader
}

// NewGenerator returns a Generator for tags (realm -> tag). A nil table uses
// DefaultRealmTags. A nil random source uses crypto/rand.
func NewGenerator(tags map[string]string, random io.Reader) *Generator {
	if tags == nil {
		tags = DefaultRealmTags
	}
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}
	if random == nil {
		random = rand.Reader
	}
	return &Generator{tags: cp, rand: random}
}

// Realms returns the known realms, sorted.
func (g *Generator) Realms() []string {
	out := make([]string, 0, len(g.tags))
	for k := range g.tags {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Known reports whether realm has a DID tag.
func (g *Generator) Known(realm string) bool {
	_, ok := g.tags[realm]
	return ok
}

// New returns a fresh DID for realm.
func (g *Generator) New(realm string) (string, error) {
	tag, ok := g.tags[realm]
	if !ok {
		return "", fmt.Errorf("did: unknown realm %q", realm)
	}
	id, err := uuid.NewRandomFromReader(g.rand)
	if err != nil {
		return "", fmt.Errorf("did: random source: %w", err)
	}
	return "did:" + tag + ":" + hex.EncodeToString(id[:])[:SuffixLen], nil
}

// Valid reports whether s has the DID shape produced by Generator.
func Valid(s string) bool {
	return pattern.MatchString(s)
}
