package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	_ "tdln.foundry/receipts/storage/grpccas"
	_ "tdln.foundry/receipts/storage/ipfs"
	_ "tdln.foundry/receipts/storage/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "canon":
		return cmdCanon(args[1:], in, out, errOut)
	case "cid":
		return cmdCID(args[1:], out, errOut)
	case "did":
		return cmdDID(args[1:], out, errOut)
	case "manifest":
		return cmdManifest(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "seal":
		return cmdSeal(args[1:], out, errOut)
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "run":
		return cmdRun(args[1:], out, errOut)
	case "store":
		return cmdStore(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "tdln: trust receipt toolkit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  tdln canon [<file>|-]")
	fmt.Fprintln(w, "  tdln cid [--json] [--embedded] [--digest <alg>] <path>")
	fmt.Fprintln(w, "  tdln did [--realm trust|chip]")
	fmt.Fprintln(w, "  tdln manifest set --manifest <product.json> [--out <file>] --set NAME=/path [--set ...]")
	fmt.Fprintln(w, "  tdln verify card [--profile <name>] [--profiles <yaml>] [--mode permissive|strict] [--record <log>] <card.json>")
	fmt.Fprintln(w, "  tdln verify log [--profile <name>] [--profiles <yaml>] <receipts.jsonl>")
	fmt.Fprintln(w, "  tdln verify sirp [--profile <name>] [--profiles <yaml>] <card.json>")
	fmt.Fprintln(w, "  tdln verify runtime-cert [--now <RFC3339>] <cert.json>")
	fmt.Fprintln(w, "  tdln seal sign --kid <kid> [--alg ed25519-blake3|dilithium3-blake3] (--seed-hex <64hex> | --key <name> [--role <role>] | --key-file <path>) <card.json>")
	fmt.Fprintln(w, "  tdln seal verify --pub <alg:base64> <card.json>")
	fmt.Fprintln(w, "  tdln key init --name <name> [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  tdln key derive --from <name> --role <role> [--force]")
	fmt.Fprintln(w, "  tdln key list")
	fmt.Fprintln(w, "  tdln key export --name <name> [--role <role>] [--alg ed25519|dilithium3]")
	fmt.Fprintln(w, "  tdln run [--realm trust] [--intent certify] [--inputs <json>] [--policy-cid <cid>] [--out <dir> --output <path>] [--decision ACK]")
	fmt.Fprintln(w, "  tdln store put|get|has [--backend <name>] [backend flags] ...")
	fmt.Fprintln(w, "  tdln store export [--backend <name>] [backend flags] --cid <cid> [--label NAME=CID] [--out <bundle.tar>]")
	fmt.Fprintln(w, "  tdln store import [--backend <name>] [backend flags] <bundle.tar>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - exit status: 0 accepted, 1 rejected or I/O error, 2 usage error")
	fmt.Fprintln(w, "  - verify prints the verdict as JSON on stdout and a one-line summary on stderr")
	fmt.Fprintln(w, "  - keys live under ~/.tdln/keys (override with --keys-dir or TDLN_KEY_DIR)")
	fmt.Fprintln(w, "  - canon and seal sign write canonical bytes to stdout (no trailing newline)")
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// writeJSON prints v indented, without HTML escaping.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readArg reads a file argument; "-" reads in.
func readArg(path string, in io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(path)
}
