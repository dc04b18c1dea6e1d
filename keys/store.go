package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tdln.foundry/receipts/cidutil"
)

// SeedSize is the length of every stored seed.
const SeedSize = 32

// ErrNoSigner is returned by Load when no seed source is given.
var ErrNoSigner = errors.New("keys: no signer provided")

// Store is a directory of named seeds.
type Store struct {
	Dir string
}

// Entry lists a named key and its derived roles.
type Entry struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

// DefaultDir returns ~/.tdln/keys.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tdln", "keys"), nil
}

// Open returns a Store rooted at dir, or at DefaultDir when dir is empty.
// The directory is created lazily on first write.
func Open(dir string) (*Store, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) rootPath(name string) string {
	return filepath.Join(s.Dir, name, "root.key")
}

func (s *Store) rolePath(name, role string) string {
	return filepath.Join(s.Dir, name, "roles", role+".key")
}

// CheckName validates a key name or role: ASCII letters, digits, '-' and '_'.
func CheckName(what, s string) error {
	if s == "" {
		return fmt.Errorf("keys: %s cannot be empty", what)
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			continue
		}
		return fmt.Errorf("keys: invalid character %q in %s", r, what)
	}
	return nil
}

// ParseSeedHex decodes a 32-byte seed, tolerating surrounding space and a
// "0x" prefix.
func ParseSeedHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("keys: seed is not hex: %w", err)
	}
	if len(b) != SeedSize {
		return nil, fmt.Errorf("keys: seed must be %d bytes, got %d", SeedSize, len(b))
	}
	return b, nil
}

func writeSeed(path string, seed []byte, overwrite bool) error {
	if len(seed) != SeedSize {
		return fmt.Errorf("keys: seed must be %d bytes", SeedSize)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return cidutil.IOError(path, "create key directory", err)
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("keys: %s already exists (use overwrite)", path)
		}
		return cidutil.IOError(path, "create key file", err)
	}
	if _, err := f.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		_ = f.Close()
		return cidutil.IOError(path, "write key file", err)
	}
	if err := f.Close(); err != nil {
		return cidutil.IOError(path, "close key file", err)
	}
	return nil
}

func readSeed(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, cidutil.IOError(path, "read key file", err)
	}
	seed, err := ParseSeedHex(string(b))
	if err != nil {
		return nil, cidutil.ParseError(path, "malformed key file", err)
	}
	return seed, nil
}

// Init stores seed as the root seed of name and returns its path.
func (s *Store) Init(name string, seed []byte, overwrite bool) (string, error) {
	if err := CheckName("name", name); err != nil {
		return "", err
	}
	path := s.rootPath(name)
	if err := writeSeed(path, seed, overwrite); err != nil {
		return "", err
	}
	return path, nil
}

// Derive stores the role seed of name and returns it with its path.
func (s *Store) Derive(name, role string, overwrite bool) ([]byte, string, error) {
	if err := CheckName("name", name); err != nil {
		return nil, "", err
	}
	if err := CheckName("role", role); err != nil {
		return nil, "", err
	}
	root, err := readSeed(s.rootPath(name))
	if err != nil {
		return nil, "", err
	}
	seed, err := DeriveRoleSeed(root, role)
	if err != nil {
		return nil, "", err
	}
	path := s.rolePath(name, role)
	if err := writeSeed(path, seed, overwrite); err != nil {
		return nil, "", err
	}
	return seed, path, nil
}

// Seed loads the root seed of name, or its role seed when role is set.
func (s *Store) Seed(name, role string) ([]byte, error) {
	if err := CheckName("name", name); err != nil {
		return nil, err
	}
	if role == "" {
		return readSeed(s.rootPath(name))
	}
	if err := CheckName("role", role); err != nil {
		return nil, err
	}
	return readSeed(s.rolePath(name, role))
}

// Source names where a signing seed comes from. The first non-empty of Hex,
// File and Name wins.
type Source struct {
	Hex  string
	File string
	Name string
	Role string
}

// Load resolves src to a seed.
func (s *Store) Load(src Source) ([]byte, error) {
	switch {
	case src.Hex != "":
		return ParseSeedHex(src.Hex)
	case src.File != "":
		return readSeed(src.File)
	case src.Name != "":
		return s.Seed(src.Name, src.Role)
	default:
		return nil, ErrNoSigner
	}
}

// List returns every stored key with its roles, sorted by name.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cidutil.IOError(s.Dir, "list keys", err)
	}
	var out []Entry
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		e := Entry{Name: d.Name()}
		roles, err := os.ReadDir(filepath.Join(s.Dir, d.Name(), "roles"))
		if err == nil {
			for _, r := range roles {
				if !r.IsDir() && strings.HasSuffix(r.Name(), ".key") {
					e.Roles = append(e.Roles, strings.TrimSuffix(r.Name(), ".key"))
				}
			}
			sort.Strings(e.Roles)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
