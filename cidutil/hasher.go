package cidutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tdln.foundry/receipts/canon"
)

// chunkSize bounds memory use when streaming file contents.
const chunkSize = 1 << 20

// DefaultIgnore lists path segments skipped when hashing a directory:
// version-control metadata, build output, caches and OS metadata files.
var DefaultIgnore = []string{".git", "target", "__pycache__", ".DS_Store"}

// Hasher computes CIDs with one selected Algorithm.
//
// A Hasher is immutable after construction and safe for concurrent use.
type Hasher struct {
	alg    Algorithm
	ignore map[string]struct{}
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithIgnore replaces the set of ignored path segments for directory CIDs.
func WithIgnore(segments ...string) Option {
	return func(h *Hasher) {
		h.ignore = make(map[string]struct{}, len(segments))
		for _, s := range segments {
			h.ignore[s] = struct{}{}
		}
	}
}

// NewHasher returns a Hasher for alg (see Select).
func NewHasher(alg Algorithm, opts ...Option) *Hasher {
	h := &Hasher{alg: alg}
	WithIgnore(DefaultIgnore...)(h)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Algorithm returns the digest strategy in use.
func (h *Hasher) Algorithm() Algorithm { return h.alg }

// Bytes returns the CID of b.
func (h *Hasher) Bytes(b []byte) (CID, error) {
	d, err := h.alg.New()
	if err != nil {
		return CID{}, err
	}
	_, _ = d.Write(b)
	return CID{Prefix: h.alg.Prefix, Digest: d.Sum(nil)}, nil
}

// Reader returns the CID of everything read from r.
func (h *Hasher) Reader(r io.Reader) (CID, error) {
	d, err := h.alg.New()
	if err != nil {
		return CID{}, err
	}
	if _, err := io.CopyBuffer(d, r, make([]byte, chunkSize)); err != nil {
		return CID{}, &Error{Kind: KindIO, Message: "read failed", Cause: err}
	}
	return CID{Prefix: h.alg.Prefix, Digest: d.Sum(nil)}, nil
}

// JSON returns the CID of the canonical encoding of v.
func (h *Hasher) JSON(v any) (CID, error) {
	b, err := canon.Canonicalize(v)
	if err != nil {
		return CID{}, ParseError("", "canonical encoding failed", err)
	}
	return h.Bytes(b)
}

// JSONBytes returns the CID of the canonical encoding of the JSON document b.
func (h *Hasher) JSONBytes(b []byte) (CID, error) {
	c, err := canon.CanonicalizeJSON(b)
	if err != nil {
		return CID{}, ParseError("", "malformed JSON document", err)
	}
	return h.Bytes(c)
}

// File returns the CID of the file contents at path, streamed in chunks.
func (h *Hasher) File(path string) (CID, error) {
	d, err := h.alg.New()
	if err != nil {
		return CID{}, err
	}
	if err := copyFile(d, path); err != nil {
		return CID{}, err
	}
	return CID{Prefix: h.alg.Prefix, Digest: d.Sum(nil)}, nil
}

// Path returns the CID of a file, or of a directory tree (see Dir).
func (h *Hasher) Path(path string) (CID, error) {
	info, err := os.Stat(path)
	if err != nil {
		return CID{}, IOError(path, "stat failed", err)
	}
	if info.IsDir() {
		return h.Dir(path)
	}
	if !info.Mode().IsRegular() {
		return CID{}, &Error{Kind: KindIO, Path: path, Message: "not a regular file or directory"}
	}
	return h.File(path)
}

// Dir returns the CID of a directory tree.
//
// Regular files are visited in lexicographic order of their POSIX relative
// path; for each file the path bytes and then the content bytes are fed into
// a single running digest. Paths containing an ignored segment are skipped.
// Symlinks and special files below root are rejected with KindIO. The root
// itself is resolved with os.Stat, so a symlinked root directory is allowed.
func (h *Hasher) Dir(root string) (CID, error) {
	info, err := os.Stat(root)
	if err != nil {
		return CID{}, IOError(root, "stat failed", err)
	}
	if !info.IsDir() {
		return h.File(root)
	}
	// Walk the resolved root so a symlinked root is not reported as a link.
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return CID{}, IOError(root, "resolve failed", err)
	}

	files, err := h.listFiles(resolved)
	if err != nil {
		return CID{}, err
	}

	d, err := h.alg.New()
	if err != nil {
		return CID{}, err
	}
	for _, rel := range files {
		_, _ = d.Write([]byte(rel))
		if err := copyFile(d, filepath.Join(resolved, filepath.FromSlash(rel))); err != nil {
			return CID{}, err
		}
	}
	return CID{Prefix: h.alg.Prefix, Digest: d.Sum(nil)}, nil
}

// listFiles returns the sorted POSIX relative paths of all regular files
// below root that are not ignored.
func (h *Hasher) listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return IOError(path, "walk failed", walkErr)
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return &Error{Kind: KindIO, Path: path, Message: "relative path", Cause: err}
		}
		rel = filepath.ToSlash(rel)
		if h.ignored(rel) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		mode := entry.Type()
		switch {
		case entry.IsDir():
			return nil
		case mode&fs.ModeSymlink != 0:
			return &Error{Kind: KindIO, Path: path, Message: "symlinks are not supported in directory CIDs"}
		case !mode.IsRegular():
			return &Error{Kind: KindIO, Path: path, Message: "special files are not supported in directory CIDs"}
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, e
		}
		return nil, IOError(root, "walk failed", err)
	}
	sort.Strings(files)
	return files, nil
}

func (h *Hasher) ignored(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if _, ok := h.ignore[seg]; ok {
			return true
		}
	}
	return false
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return IOError(path, "open failed", err)
	}
	defer f.Close()
	if _, err := io.CopyBuffer(w, f, make([]byte, chunkSize)); err != nil {
		return &Error{Kind: KindIO, Path: path, Message: "read failed", Cause: err}
	}
	return nil
}
