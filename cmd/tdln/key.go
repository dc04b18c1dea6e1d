package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"os"

	"tdln.foundry/receipts/keys"
)

func keysDirDefault() string { return os.Getenv("TDLN_KEY_DIR") }

func openKeys(dir string, errOut io.Writer) (*keys.Store, bool) {
	ks, err := keys.Open(dir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return nil, false
	}
	return ks, true
}

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printKeyUsage(errOut)
		return 2
	}
	switch args[0] {
	case "init":
		return cmdKeyInit(args[1:], out, errOut)
	case "derive":
		return cmdKeyDerive(args[1:], out, errOut)
	case "list":
		return cmdKeyList(args[1:], out, errOut)
	case "export":
		return cmdKeyExport(args[1:], out, errOut)
	case "help", "-h", "--help":
		printKeyUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n\n", args[0])
		printKeyUsage(errOut)
		return 2
	}
}

func printKeyUsage(w io.Writer) {
	fmt.Fprintln(w, "tdln key: local seal key management (KMS-lite)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  tdln key init --name <name> [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  tdln key derive --from <name> --role <role> [--force]")
	fmt.Fprintln(w, "  tdln key list")
	fmt.Fprintln(w, "  tdln key export --name <name> [--role <role>] [--alg ed25519|dilithium3]")
}

func cmdKeyInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key init", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("keys-dir", keysDirDefault(), "Key store directory")
	name := fs.String("name", "", "Key name")
	seedHex := fs.String("seed-hex", "", "Root seed as 64 hex chars (default: random)")
	force := fs.Bool("force", false, "Overwrite an existing key")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}
	if err := keys.CheckName("name", *name); err != nil {
		fmt.Fprintf(errOut, "invalid --name: %v\n", err)
		return 2
	}
	ks, ok := openKeys(*dir, errOut)
	if !ok {
		return 1
	}

	var seed []byte
	if *seedHex != "" {
		s, err := keys.ParseSeedHex(*seedHex)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --seed-hex: %v\n", err)
			return 2
		}
		seed = s
	} else {
		seed = make([]byte, keys.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			fmt.Fprintf(errOut, "rand: %v\n", err)
			return 1
		}
	}
	path, err := ks.Init(*name, seed, *force)
	if err != nil {
		fmt.Fprintf(errOut, "write key: %v\n", err)
		return 1
	}
	pub, _ := keys.PublicKey(keys.Ed25519, seed)
	fmt.Fprintf(out, "Created root key: %s\n", pub)
	fmt.Fprintf(out, "Stored at: %s\n", path)
	return 0
}

func cmdKeyDerive(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key derive", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("keys-dir", keysDirDefault(), "Key store directory")
	from := fs.String("from", "", "Root key name")
	role := fs.String("role", "", "Role name (e.g. sealer)")
	force := fs.Bool("force", false, "Overwrite an existing role key")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *from == "" {
		fmt.Fprintln(errOut, "missing --from")
		return 2
	}
	if *role == "" {
		fmt.Fprintln(errOut, "missing --role")
		return 2
	}
	ks, ok := openKeys(*dir, errOut)
	if !ok {
		return 1
	}
	seed, path, err := ks.Derive(*from, *role, *force)
	if err != nil {
		fmt.Fprintf(errOut, "derive role key: %v\n", err)
		return 1
	}
	pub, _ := keys.PublicKey(keys.Ed25519, seed)
	fmt.Fprintf(out, "Created role key: %s\n", pub)
	fmt.Fprintf(out, "Stored at: %s\n", path)
	return 0
}

func cmdKeyExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key export", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("keys-dir", keysDirDefault(), "Key store directory")
	name := fs.String("name", "", "Key name")
	role := fs.String("role", "", "Export a derived role key")
	alg := fs.String("alg", keys.Ed25519, "Public key algorithm (ed25519, dilithium3)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}
	ks, ok := openKeys(*dir, errOut)
	if !ok {
		return 1
	}
	seed, err := ks.Seed(*name, *role)
	if err != nil {
		fmt.Fprintf(errOut, "export key: %v\n", err)
		return 1
	}
	pub, err := keys.PublicKey(*alg, seed)
	if err != nil {
		fmt.Fprintf(errOut, "export key: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(out, pub)
	return 0
}

func cmdKeyList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("keys-dir", keysDirDefault(), "Key store directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ks, ok := openKeys(*dir, errOut)
	if !ok {
		return 1
	}
	entries, err := ks.List()
	if err != nil {
		fmt.Fprintf(errOut, "list keys: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\n", e.Name)
		for _, r := range e.Roles {
			fmt.Fprintf(out, "  - %s\n", r)
		}
	}
	return 0
}
