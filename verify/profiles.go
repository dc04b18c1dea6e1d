package verify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"tdln.foundry/receipts/cidutil"
)

// Profiles is a named table of validation profiles.
type Profiles struct {
	cards map[string]*CardProfile
	logs  map[string]*LogProfile
	sirps map[string]*SIRPProfile
}

// DefaultProfiles holds the built-in profiles.
func DefaultProfiles() *Profiles {
	return &Profiles{
		cards: map[string]*CardProfile{RRefV11.Name: RRefV11},
		logs:  map[string]*LogProfile{LogMinimalV1.Name: LogMinimalV1},
		sirps: map[string]*SIRPProfile{SIRPv1.Name: SIRPv1},
	}
}

// Card returns the card profile called name; "" selects rref-v1.1.
func (p *Profiles) Card(name string) (*CardProfile, bool) {
	if name == "" {
		name = RRefV11.Name
	}
	c, ok := p.cards[name]
	return c, ok
}

// Log returns the log profile called name; "" selects log-minimal-v1.
func (p *Profiles) Log(name string) (*LogProfile, bool) {
	if name == "" {
		name = LogMinimalV1.Name
	}
	l, ok := p.logs[name]
	return l, ok
}

// SIRP returns the SIRP profile called name; "" selects sirp-v1.
func (p *Profiles) SIRP(name string) (*SIRPProfile, bool) {
	if name == "" {
		name = SIRPv1.Name
	}
	s, ok := p.sirps[name]
	return s, ok
}

// Names lists every profile name, sorted.
func (p *Profiles) Names() []string {
	var out []string
	for n := range p.cards {
		out = append(out, n)
	}
	for n := range p.logs {
		out = append(out, n)
	}
	for n := range p.sirps {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type cardProfileFile struct {
	Name             string   `yaml:"name"`
	Kind             string   `yaml:"kind"`
	Realms           []string `yaml:"realms"`
	Decisions        []string `yaml:"decisions"`
	ReviewDecisions  []string `yaml:"review_decisions"`
	CardURL          string   `yaml:"card_url"`
	SealAlg          string   `yaml:"seal_alg"`
	CID              string   `yaml:"cid"`
	PortablePrefixes []string `yaml:"portable_prefixes"`
	PrivateMarker    string   `yaml:"private_marker"`
}

type logProfileFile struct {
	Name             string   `yaml:"name"`
	Decisions        []string `yaml:"decisions"`
	RequiredPolicies []string `yaml:"required_policies"`
}

type sirpProfileFile struct {
	Name             string   `yaml:"name"`
	RequiredRefKinds []string `yaml:"required_ref_kinds"`
}

type profilesFile struct {
	Card []cardProfileFile `yaml:"card"`
	Log  []logProfileFile  `yaml:"log"`
	SIRP []sirpProfileFile `yaml:"sirp"`
}

// ParseProfiles decodes a YAML profile table. Profiles it defines are added
// to the built-in ones; a profile with a built-in name replaces it.
func ParseProfiles(b []byte) (*Profiles, error) {
	var f profilesFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, cidutil.ParseError("", "malformed profile table", err)
	}

	out := DefaultProfiles()
	for i, c := range f.Card {
		cp, err := c.compile()
		if err != nil {
			return nil, cidutil.ParseError("", fmt.Sprintf("card profile %d", i), err)
		}
		out.cards[cp.Name] = cp
	}
	for i, l := range f.Log {
		if l.Name == "" || len(l.Decisions) == 0 {
			return nil, cidutil.ParseError("", fmt.Sprintf("log profile %d", i), errors.New("name and decisions are required"))
		}
		out.logs[l.Name] = &LogProfile{Name: l.Name, Decisions: l.Decisions, RequiredPolicies: l.RequiredPolicies}
	}
	for i, s := range f.SIRP {
		if s.Name == "" || len(s.RequiredRefKinds) == 0 {
			return nil, cidutil.ParseError("", fmt.Sprintf("sirp profile %d", i), errors.New("name and required_ref_kinds are required"))
		}
		out.sirps[s.Name] = &SIRPProfile{Name: s.Name, RequiredRefKinds: s.RequiredRefKinds}
	}
	return out, nil
}

// LoadProfiles reads a YAML profile table from path.
func LoadProfiles(path string) (*Profiles, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, cidutil.IOError(path, "read profile table", err)
	}
	p, err := ParseProfiles(b)
	if err != nil {
		var ce *cidutil.Error
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}
	return p, nil
}

func (c cardProfileFile) compile() (*CardProfile, error) {
	switch {
	case c.Name == "":
		return nil, errors.New("name is required")
	case c.Kind == "":
		return nil, errors.New("kind is required")
	case len(c.Realms) == 0:
		return nil, errors.New("realms are required")
	case len(c.Decisions) == 0:
		return nil, errors.New("decisions are required")
	case c.SealAlg == "":
		return nil, errors.New("seal_alg is required")
	}
	for _, d := range c.ReviewDecisions {
		if !contains(c.Decisions, d) {
			return nil, fmt.Errorf("review decision %q is not a decision", d)
		}
	}
	cardURL, err := compilePattern("card_url", c.CardURL)
	if err != nil {
		return nil, err
	}
	cid, err := compilePattern("cid", c.CID)
	if err != nil {
		return nil, err
	}
	return &CardProfile{
		Name:             c.Name,
		Kind:             c.Kind,
		Realms:           c.Realms,
		Decisions:        c.Decisions,
		ReviewDecisions:  c.ReviewDecisions,
		CardURL:          cardURL,
		SealAlg:          c.SealAlg,
		CID:              cid,
		PortablePrefixes: c.PortablePrefixes,
		PrivateMarker:    c.PrivateMarker,
	}, nil
}

func compilePattern(field, expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return re, nil
}
