// Package config loads the certify daemon configuration: a YAML file with
// TDLN_* environment overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tdln.foundry/receipts/certify"
	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/compliance"
	"tdln.foundry/receipts/did"
	"tdln.foundry/receipts/keys"
	"tdln.foundry/receipts/seal"
	"tdln.foundry/receipts/storage"
	"tdln.foundry/receipts/storage/casconfig"
	"tdln.foundry/receipts/storage/casregistry"
	"tdln.foundry/receipts/verify"
)

// Environment overrides.
const (
	EnvConfig      = "TDLN_CONFIG"
	EnvListenAddr  = "TDLN_LISTEN_ADDR"
	EnvMode        = "TDLN_MODE"
	EnvCardURLBase = "TDLN_CARD_URL_BASE"
	EnvKeyDir      = "TDLN_KEY_DIR"
)

type Config struct {
	Listen      string            `yaml:"listen"`
	CardURLBase string            `yaml:"card_url_base"`
	Issuer      string            `yaml:"issuer"`
	Digest      []string          `yaml:"digest"`
	Realms      map[string]string `yaml:"realms"`
	// Profiles is an optional YAML profile table merged over the defaults.
	Profiles string          `yaml:"profiles"`
	Mode     compliance.Mode `yaml:"mode"`
	MaxBody  int64           `yaml:"max_body"`

	Seal *SealConfig       `yaml:"seal,omitempty"`
	CAS  *casconfig.Config `yaml:"cas,omitempty"`
}

// SealConfig selects the key that signs receipt previews and draft cards.
type SealConfig struct {
	Alg  string `yaml:"alg"`
	Kid  string `yaml:"kid"`
	Key  string `yaml:"key"`
	Role string `yaml:"role"`
	Dir  string `yaml:"dir"`
	// File is a hex seed file; it takes precedence over Key.
	File string `yaml:"file"`
}

// Default returns a configuration that serves without a file: BLAKE3 CIDs,
// the trust and chip realms and permissive compliance.
func Default() *Config {
	return &Config{
		Listen:      ":8080",
		CardURLBase: cidutil.DefaultCardURLBase,
		Issuer:      certify.DefaultIssuer,
		Digest:      []string{cidutil.BLAKE3.Name},
		Realms:      copyTags(did.DefaultRealmTags),
		Mode:        compliance.Permissive,
	}
}

func copyTags(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Load reads path over Default and applies environment overrides. An empty
// path falls back to $TDLN_CONFIG, then to Default alone.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		// A realm table in the file replaces the default one.
		c.Realms = nil
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config unmarshal: %w", err)
		}
		if c.Realms == nil {
			c.Realms = copyTags(did.DefaultRealmTags)
		}
	}
	if err := applyEnvOverrides(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnvOverrides(c *Config) error {
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvCardURLBase); v != "" {
		c.CardURLBase = v
	}
	if v := os.Getenv(EnvMode); v != "" {
		m, err := compliance.ParseMode(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvMode, err)
		}
		c.Mode = m
	}
	if v := os.Getenv(EnvKeyDir); v != "" && c.Seal != nil {
		c.Seal.Dir = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen is required")
	}
	if len(c.Realms) == 0 {
		return errors.New("config: at least one realm is required")
	}
	for realm, tag := range c.Realms {
		if realm == "" || tag == "" {
			return fmt.Errorf("config: realm %q needs a DID tag", realm)
		}
	}
	if c.Seal != nil {
		if c.Seal.Kid == "" {
			return errors.New("config: seal.kid is required")
		}
		if c.Seal.Key == "" && c.Seal.File == "" {
			return errors.New("config: seal.key or seal.file is required")
		}
	}
	if c.CAS != nil {
		if err := c.CAS.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// Hasher returns a hasher for the first usable digest in Digest.
func (c *Config) Hasher() (*cidutil.Hasher, error) {
	alg, err := cidutil.Select(c.Digest...)
	if err != nil {
		return nil, err
	}
	return cidutil.NewHasher(alg), nil
}

// LoadProfiles returns the verification profile table.
func (c *Config) LoadProfiles() (*verify.Profiles, error) {
	if c.Profiles == "" {
		return verify.DefaultProfiles(), nil
	}
	return verify.LoadProfiles(c.Profiles)
}

// Signer returns the configured seal signer, or nil when sealing is off.
func (c *Config) Signer() (seal.Signer, error) {
	if c.Seal == nil {
		return nil, nil
	}
	store, err := keys.Open(c.Seal.Dir)
	if err != nil {
		return nil, err
	}
	seed, err := store.Load(keys.Source{File: c.Seal.File, Name: c.Seal.Key, Role: c.Seal.Role})
	if err != nil {
		return nil, err
	}
	alg := c.Seal.Alg
	if alg == "" {
		alg = seal.AlgEd25519
	}
	return seal.NewSigner(alg, c.Seal.Kid, seed)
}

// OpenStore opens the configured object store. It returns a nil CAS and a
// no-op closer when no store is configured.
func (c *Config) OpenStore(ctx context.Context) (storage.CAS, func() error, error) {
	if c.CAS == nil {
		return nil, func() error { return nil }, nil
	}
	return c.CAS.Open(ctx, casregistry.UsageDaemon, "")
}

// Certify builds the run issuance service. store may be nil.
func (c *Config) Certify(store storage.CAS) (*certify.Service, error) {
	h, err := c.Hasher()
	if err != nil {
		return nil, err
	}
	signer, err := c.Signer()
	if err != nil {
		return nil, err
	}
	return &certify.Service{
		Hasher:      h,
		DIDs:        did.NewGenerator(c.Realms, nil),
		Clock:       time.Now,
		CardURLBase: c.CardURLBase,
		Issuer:      c.Issuer,
		Signer:      signer,
		Store:       store,
	}, nil
}
