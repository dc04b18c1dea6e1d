package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ipfs/go-cid"

	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/storage"
	"tdln.foundry/receipts/storage/bundle"
	"tdln.foundry/receipts/storage/casconfig"
	"tdln.foundry/receipts/storage/casregistry"
)

func cmdStore(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: tdln store <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: put, get, has, export, import")
		return 2
	}
	switch args[0] {
	case "put":
		return cmdStorePut(args[1:], out, errOut)
	case "get":
		return cmdStoreGet(args[1:], out, errOut)
	case "has":
		return cmdStoreHas(args[1:], out, errOut)
	case "export":
		return cmdStoreExport(args[1:], out, errOut)
	case "import":
		return cmdStoreImport(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown store subcommand: %s\n", args[0])
		return 2
	}
}

type storeFlags struct {
	backend      string
	casConfig    string
	listBackends bool
	openers      *casregistry.Openers
}

func (c *storeFlags) add(fs *flag.FlagSet) {
	fs.StringVar(&c.backend, "backend", "localfs", "CAS backend name")
	fs.StringVar(&c.casConfig, "cas-config", "", "Multi-backend config (YAML); overrides --backend")
	fs.BoolVar(&c.listBackends, "list-backends", false, "List supported backends and exit")
	c.openers = casregistry.RegisterFlags(fs, casregistry.UsageCLI)
}

func (c *storeFlags) open(ctx context.Context) (storage.CAS, func() error, error) {
	if c.casConfig != "" {
		cfg, err := casconfig.LoadFile(c.casConfig)
		if err != nil {
			return nil, nil, err
		}
		return cfg.Open(ctx, casregistry.UsageCLI, "")
	}
	return c.openers.Open(ctx, c.backend)
}

func printBackends(w io.Writer) {
	for _, b := range casregistry.List(casregistry.UsageCLI) {
		if b.Description == "" {
			_, _ = fmt.Fprintf(w, "%s\n", b.Name)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", b.Name, b.Description)
	}
}

// parseStore parses flags and opens the store; code is non-zero when the
// caller should return it.
func parseStore(name string, args []string, extra func(*flag.FlagSet), out, errOut io.Writer) (fs *flag.FlagSet, cas storage.CAS, closeFn func() error, code int) {
	fs = flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	var sf storeFlags
	sf.add(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, 2
	}
	if sf.listBackends {
		printBackends(out)
		return nil, nil, nil, -1
	}
	cas, closeFn, err := sf.open(context.Background())
	if err != nil {
		fmt.Fprintln(errOut, err)
		return nil, nil, nil, 1
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return fs, cas, closeFn, 0
}

func exitCode(code int) int {
	if code < 0 {
		return 0
	}
	return code
}

func cmdStorePut(args []string, out io.Writer, errOut io.Writer) int {
	fs, cas, closeFn, code := parseStore("store put", args, nil, out, errOut)
	if code != 0 {
		return exitCode(code)
	}
	defer closeFn()
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tdln store put [--backend <name>] [backend flags] <file>")
		return 2
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read: %v\n", err)
		return 1
	}
	id, err := cas.Put(context.Background(), b)
	if err != nil {
		fmt.Fprintf(errOut, "put: %v\n", err)
		return 1
	}
	c, err := cidutil.FromBlock(id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintf(errOut, "Block-CID: %s\n", id)
	_, _ = fmt.Fprintln(out, c.Embedded())
	return 0
}

func cmdStoreGet(args []string, out io.Writer, errOut io.Writer) int {
	var ref, outPath string
	fs, cas, closeFn, code := parseStore("store get", args, func(fs *flag.FlagSet) {
		fs.StringVar(&ref, "cid", "", "Object CID (cid:b3:, b3: or CIDv1)")
		fs.StringVar(&outPath, "out", "", "Write bytes here instead of stdout")
	}, out, errOut)
	if code != 0 {
		return exitCode(code)
	}
	defer closeFn()
	if ref == "" || fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: tdln store get [--backend <name>] [backend flags] --cid <cid> [--out <file>]")
		return 2
	}
	id, err := cidutil.DecodeBlock(ref)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	b, err := cas.Get(context.Background(), id)
	if err != nil {
		fmt.Fprintf(errOut, "get: %v\n", err)
		return 1
	}
	if outPath == "" {
		_, _ = out.Write(b)
		return 0
	}
	if err := os.WriteFile(outPath, b, 0o644); err != nil {
		fmt.Fprintf(errOut, "write: %v\n", err)
		return 1
	}
	return 0
}

func cmdStoreHas(args []string, out io.Writer, errOut io.Writer) int {
	var ref string
	fs, cas, closeFn, code := parseStore("store has", args, func(fs *flag.FlagSet) {
		fs.StringVar(&ref, "cid", "", "Object CID (cid:b3:, b3: or CIDv1)")
	}, out, errOut)
	if code != 0 {
		return exitCode(code)
	}
	defer closeFn()
	if ref == "" || fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: tdln store has [--backend <name>] [backend flags] --cid <cid>")
		return 2
	}
	id, err := cidutil.DecodeBlock(ref)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	ok, err := cas.Has(context.Background(), id)
	if err != nil {
		fmt.Fprintf(errOut, "has: %v\n", err)
		return 1
	}
	if !ok {
		_, _ = fmt.Fprintln(out, "absent")
		return 1
	}
	_, _ = fmt.Fprintln(out, "present")
	return 0
}

type labelList map[string]cid.Cid

func (l labelList) String() string { return fmt.Sprint(map[string]cid.Cid(l)) }
func (l labelList) Set(v string) error {
	name, ref, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("want NAME=CID, got %q", v)
	}
	id, err := cidutil.DecodeBlock(ref)
	if err != nil {
		return err
	}
	l[name] = id
	return nil
}

func cmdStoreExport(args []string, out io.Writer, errOut io.Writer) int {
	var refs stringList
	labels := labelList{}
	var outPath string
	fs, cas, closeFn, code := parseStore("store export", args, func(fs *flag.FlagSet) {
		fs.Var(&refs, "cid", "Object CID to include (repeatable)")
		fs.Var(labels, "label", "NAME=CID label recorded in the index (repeatable; the CID is included)")
		fs.StringVar(&outPath, "out", "", "Write the bundle here instead of stdout")
	}, out, errOut)
	if code != 0 {
		return exitCode(code)
	}
	defer closeFn()
	if fs.NArg() != 0 || len(refs)+len(labels) == 0 {
		fmt.Fprintln(errOut, "usage: tdln store export [--backend <name>] [backend flags] --cid <cid> [--cid ...] [--label NAME=CID] [--out <bundle.tar>]")
		return 2
	}
	ids := make([]cid.Cid, 0, len(refs)+len(labels))
	for _, r := range refs {
		id, err := cidutil.DecodeBlock(r)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		ids = append(ids, id)
	}
	for _, id := range labels {
		ids = append(ids, id)
	}

	w := out
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintf(errOut, "create: %v\n", err)
			return 1
		}
		defer f.Close()
		w = f
	}
	opts := bundle.ExportOptions{Labels: labels, IncludeIndex: true}
	if err := bundle.Export(context.Background(), w, cas, ids, opts); err != nil {
		fmt.Fprintf(errOut, "export: %v\n", err)
		return 1
	}
	return 0
}

func cmdStoreImport(args []string, out io.Writer, errOut io.Writer) int {
	fs, cas, closeFn, code := parseStore("store import", args, nil, out, errOut)
	if code != 0 {
		return exitCode(code)
	}
	defer closeFn()
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tdln store import [--backend <name>] [backend flags] <bundle.tar>")
		return 2
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "open: %v\n", err)
		return 1
	}
	defer f.Close()
	res, err := bundle.Import(context.Background(), f, cas)
	if err != nil {
		fmt.Fprintf(errOut, "import: %v\n", err)
		return 1
	}
	for _, id := range res.Blocks {
		_, _ = fmt.Fprintln(out, id)
	}
	if res.Index != nil {
		for _, l := range res.Index.Labels {
			fmt.Fprintf(errOut, "%s\t%s\n", l.Name, l.CID)
		}
	}
	return 0
}
