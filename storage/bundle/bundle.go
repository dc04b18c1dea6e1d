// Package bundle packs stored objects into a deterministic TAR so a run's
// manifest and card can be carried to, and verified on, an offline host.
//
// Layout:
//
//	blocks/<block cid>   object bytes, one entry per object
//	index.json           optional, non-authoritative: block sizes and labels
//
// Importers trust only blocks/: every entry is re-hashed before it is stored.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"tdln.foundry/receipts/canon"
	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/storage"
)

// FormatVersion is the current index schema version.
const FormatVersion = 1

// IndexName is the TAR entry holding the index.
const IndexName = "index.json"

const blocksDir = "blocks/"

var epoch0 = time.Unix(0, 0).UTC()

var ErrNilCAS = errors.New("bundle: nil CAS")

// ExportOptions controls bundle export behavior.
type ExportOptions struct {
	// Labels is optional, non-authoritative metadata mapping names to CIDs.
	Labels map[string]cid.Cid
	// IncludeIndex controls whether index.json is included.
	IncludeIndex bool
}

type block struct {
	id   cid.Cid
	data []byte
}

// Export writes the blocks for ids, read from cas, as a bundle.
// Output bytes depend only on the set of ids and the options.
func Export(ctx context.Context, w io.Writer, cas storage.CAS, ids []cid.Cid, opts ExportOptions) error {
	if cas == nil {
		return ErrNilCAS
	}
	uniq := make(map[string]cid.Cid, len(ids))
	for _, id := range ids {
		if !id.Defined() {
			return storage.ErrInvalidCID
		}
		uniq[id.String()] = id
	}
	blocks := make([]block, 0, len(uniq))
	for _, id := range uniq {
		b, err := cas.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("bundle: get %s: %w", id, err)
		}
		if err := storage.Check(id, b); err != nil {
			return err
		}
		blocks = append(blocks, block{id: id, data: b})
	}
	return write(w, blocks, opts)
}

// ExportObjects bundles named objects directly, without a store. Each name
// becomes a label of the object's block CID and the index is always written.
func ExportObjects(w io.Writer, objects map[string][]byte) error {
	labels := make(map[string]cid.Cid, len(objects))
	seen := map[string]bool{}
	blocks := make([]block, 0, len(objects))
	for name, data := range objects {
		id, err := cidutil.BlockCID(data)
		if err != nil {
			return err
		}
		labels[name] = id
		if !seen[id.String()] {
			seen[id.String()] = true
			blocks = append(blocks, block{id: id, data: data})
		}
	}
	return write(w, blocks, ExportOptions{Labels: labels, IncludeIndex: true})
}

func write(w io.Writer, blocks []block, opts ExportOptions) error {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].id.String() < blocks[j].id.String() })

	tw := tar.NewWriter(w)
	idx := Index{
		Version:   FormatVersion,
		CIDCodec:  "raw",
		Multihash: "blake3",
		Blocks:    make([]IndexBlock, 0, len(blocks)),
	}
	for _, b := range blocks {
		if err := writeFile(tw, blocksDir+b.id.String(), b.data); err != nil {
			_ = tw.Close()
			return err
		}
		idx.Blocks = append(idx.Blocks, IndexBlock{CID: b.id.String(), Size: len(b.data)})
	}

	if opts.IncludeIndex {
		names := make([]string, 0, len(opts.Labels))
		for k := range opts.Labels {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if k == "" {
				_ = tw.Close()
				return fmt.Errorf("bundle: empty label key")
			}
			v := opts.Labels[k]
			if !v.Defined() {
				_ = tw.Close()
				return storage.ErrInvalidCID
			}
			idx.Labels = append(idx.Labels, IndexLabel{Name: k, CID: v.String()})
		}
		b, err := canon.Canonicalize(idx)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, IndexName, append(b, '\n')); err != nil {
			_ = tw.Close()
			return err
		}
	}
	return tw.Close()
}

// ImportOptions controls bundle import behavior.
type ImportOptions struct {
	// IgnoreUnknown skips unknown TAR entries. The default is to fail.
	IgnoreUnknown bool
}

// Result lists what an import stored.
type Result struct {
	Blocks []cid.Cid
	// Index is nil when the bundle carried none.
	Index *Index
}

// Import reads a bundle from r and stores every block in cas.
// Unknown entries are an error.
func Import(ctx context.Context, r io.Reader, cas storage.CAS) (*Result, error) {
	return ImportWithOptions(ctx, r, cas, ImportOptions{})
}

// ImportWithOptions reads a bundle from r and stores every block in cas.
// Each block must hash to the CID in its entry name.
func ImportWithOptions(ctx context.Context, r io.Reader, cas storage.CAS, opts ImportOptions) (*Result, error) {
	if cas == nil {
		return nil, ErrNilCAS
	}
	tr := tar.NewReader(r)
	seen := map[string]struct{}{}
	res := &Result{}

	for {
		h, err := tr.Next()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return nil, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return nil, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		if name == IndexName {
			b, err := io.ReadAll(tr)
			if err != nil {
				return nil, err
			}
			idx, err := parseIndex(b)
			if err != nil {
				return nil, err
			}
			res.Index = idx
			continue
		}
		if !strings.HasPrefix(name, blocksDir) {
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return nil, fmt.Errorf("bundle: unknown entry: %s", name)
		}

		id, derr := cid.Decode(strings.TrimPrefix(name, blocksDir))
		if derr != nil || !id.Defined() {
			return nil, storage.ErrInvalidCID
		}
		payload, rerr := io.ReadAll(tr)
		if rerr != nil {
			return nil, rerr
		}
		if err := storage.Check(id, payload); err != nil {
			return nil, err
		}
		key := id.String()
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("bundle: duplicate block entry: %s", key)
		}
		seen[key] = struct{}{}

		putID, perr := cas.Put(ctx, payload)
		if perr != nil {
			return nil, perr
		}
		if !putID.Equals(id) {
			return nil, storage.ErrCIDMismatch
		}
		res.Blocks = append(res.Blocks, id)
	}
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return strings.Join(parts, "/")
}
