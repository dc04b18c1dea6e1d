package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"tdln.foundry/receipts/canon"
	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/did"
	"tdln.foundry/receipts/manifest"
)

func cmdCanon(args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("canon", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path := "-"
	switch fs.NArg() {
	case 0:
	case 1:
		path = fs.Arg(0)
	default:
		fmt.Fprintln(errOut, "usage: tdln canon [<file>|-]")
		return 2
	}
	b, err := readArg(path, in)
	if err != nil {
		fmt.Fprintf(errOut, "read: %v\n", err)
		return 1
	}
	c, err := canon.CanonicalizeJSON(b)
	if err != nil {
		fmt.Fprintf(errOut, "invalid JSON: %v\n", err)
		return 1
	}
	_, _ = out.Write(c)
	return 0
}

func hasherFor(name string) (*cidutil.Hasher, error) {
	var prefs []string
	if name != "" {
		prefs = append(prefs, name)
	}
	alg, err := cidutil.Select(prefs...)
	if err != nil {
		return nil, err
	}
	return cidutil.NewHasher(alg), nil
}

func cmdCID(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("cid", flag.ContinueOnError)
	fs.SetOutput(errOut)
	asJSON := fs.Bool("json", false, "Hash the canonical form of a JSON document")
	embedded := fs.Bool("embedded", false, "Print the cid:<alg>:<hex> form")
	block := fs.Bool("block", false, "Also print the CIDv1 block form (b3 only)")
	digest := fs.String("digest", "", "Digest algorithm (blake3, blake2s-256, sha3-256, sha2-256); default probes in order")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tdln cid [--json] [--embedded] [--digest <alg>] <path>")
		return 2
	}
	h, err := hasherFor(*digest)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	var c cidutil.CID
	if *asJSON {
		b, rerr := os.ReadFile(fs.Arg(0))
		if rerr != nil {
			fmt.Fprintln(errOut, cidutil.IOError(fs.Arg(0), "read", rerr))
			return 1
		}
		c, err = h.JSONBytes(b)
	} else {
		c, err = h.Path(fs.Arg(0))
	}
	if err != nil {
		fmt.Fprintf(errOut, "%s: %v\n", cidutil.KindOf(err), err)
		return 1
	}
	if *embedded {
		_, _ = fmt.Fprintln(out, c.Embedded())
	} else {
		_, _ = fmt.Fprintln(out, c.String())
	}
	if *block {
		id, berr := cidutil.ToBlock(c)
		if berr != nil {
			fmt.Fprintln(errOut, berr)
			return 1
		}
		_, _ = fmt.Fprintln(out, id.String())
	}
	return 0
}

func cmdDID(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("did", flag.ContinueOnError)
	fs.SetOutput(errOut)
	realm := fs.String("realm", "trust", "Realm")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	id, err := did.NewGenerator(nil, nil).New(*realm)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	_, _ = fmt.Fprintln(out, id)
	return 0
}

func cmdManifest(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 || args[0] != "set" {
		fmt.Fprintln(errOut, "usage: tdln manifest set --manifest <product.json> [--out <file>] --set NAME=/path [--set ...]")
		return 2
	}
	fs := flag.NewFlagSet("manifest set", flag.ContinueOnError)
	fs.SetOutput(errOut)
	path := fs.String("manifest", "", "Product manifest to update")
	outPath := fs.String("out", "", "Write the result here instead of in place")
	digest := fs.String("digest", "", "Digest algorithm")
	var sets stringList
	fs.Var(&sets, "set", "Component assignment NAME=/path or components[NAME]=/path (repeatable)")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if *path == "" || len(sets) == 0 {
		fmt.Fprintln(errOut, "missing --manifest or --set")
		return 2
	}
	assignments := make([]manifest.Assignment, 0, len(sets))
	for _, s := range sets {
		a, err := manifest.ParseAssignment(s)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --set: %v\n", err)
			return 2
		}
		assignments = append(assignments, a)
	}
	h, err := hasherFor(*digest)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	p, err := manifest.ReadProduct(*path)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := p.SetComponentCIDs(h, assignments); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	dst := *outPath
	if dst == "" {
		dst = *path
	}
	if err := p.WriteFile(dst); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	for _, a := range assignments {
		c, _ := p.ComponentCID(a.Name)
		fmt.Fprintf(out, "%s\t%s\n", a.Name, c)
	}
	return 0
}
