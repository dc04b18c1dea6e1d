package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"tdln.foundry/receipts/keys"
	"tdln.foundry/receipts/seal"
)

// signerFlags selects a seal key from flags.
type signerFlags struct {
	alg     string
	kid     string
	seedHex string
	key     string
	role    string
	keyFile string
	dir     string
}

func (s *signerFlags) add(fs *flag.FlagSet) {
	fs.StringVar(&s.alg, "alg", seal.AlgEd25519, "Seal algorithm (ed25519-blake3, dilithium3-blake3)")
	fs.StringVar(&s.kid, "kid", "", "Key identifier recorded in proof.seal.kid")
	fs.StringVar(&s.seedHex, "seed-hex", "", "Seed as 64 hex chars")
	fs.StringVar(&s.key, "key", "", "Use a stored key by name (from 'tdln key init')")
	fs.StringVar(&s.role, "role", "", "With --key, use a derived role key")
	fs.StringVar(&s.keyFile, "key-file", "", "Path to a hex seed file")
	fs.StringVar(&s.dir, "keys-dir", keysDirDefault(), "Key store directory")
}

func (s *signerFlags) set() bool { return s.seedHex != "" || s.key != "" || s.keyFile != "" }

// signer returns nil, nil when no key flag was given.
func (s *signerFlags) signer() (seal.Signer, error) {
	if !s.set() {
		return nil, nil
	}
	n := 0
	for _, v := range []string{s.seedHex, s.key, s.keyFile} {
		if v != "" {
			n++
		}
	}
	if n > 1 {
		return nil, errors.New("conflicting signer flags: use one of --seed-hex, --key, --key-file")
	}
	if s.kid == "" {
		return nil, errors.New("missing --kid")
	}
	ks, err := keys.Open(s.dir)
	if err != nil {
		return nil, err
	}
	seed, err := ks.Load(keys.Source{Hex: s.seedHex, File: s.keyFile, Name: s.key, Role: s.role})
	if err != nil {
		return nil, err
	}
	return seal.NewSigner(s.alg, s.kid, seed)
}

func cmdSeal(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: tdln seal <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: sign, verify")
		return 2
	}
	switch args[0] {
	case "sign":
		return cmdSealSign(args[1:], out, errOut)
	case "verify":
		return cmdSealVerify(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown seal subcommand: %s\n", args[0])
		return 2
	}
}

func cmdSealSign(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("seal sign", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var sf signerFlags
	sf.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tdln seal sign --kid <kid> (--seed-hex <64hex> | --key <name> [--role <role>] | --key-file <path>) <card.json>")
		return 2
	}
	if !sf.set() {
		fmt.Fprintln(errOut, "missing signer: use --seed-hex, --key, or --key-file")
		return 2
	}
	s, err := sf.signer()
	if err != nil {
		fmt.Fprintf(errOut, "invalid signer: %v\n", err)
		return 2
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read card: %v\n", err)
		return 1
	}
	signed, err := seal.SignJSON(b, s)
	if err != nil {
		fmt.Fprintf(errOut, "seal: %v\n", err)
		return 1
	}
	fmt.Fprintf(errOut, "Public-Key: %s\n", s.PublicKey())
	_, _ = out.Write(signed)
	return 0
}

func cmdSealVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("seal verify", flag.ContinueOnError)
	fs.SetOutput(errOut)
	pub := fs.String("pub", "", "Public key as <alg>:<base64> (from 'tdln key export')")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *pub == "" || fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tdln seal verify --pub <alg:base64> <card.json>")
		return 2
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read card: %v\n", err)
		return 1
	}
	if err := seal.VerifyJSON(b, *pub); err != nil {
		fmt.Fprintf(errOut, "invalid: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, "OK")
	return 0
}
