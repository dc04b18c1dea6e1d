package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tdln.foundry/receipts/canon"
	"tdln.foundry/receipts/certify"
	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/config"
	"tdln.foundry/receipts/storage/bundle"
	"tdln.foundry/receipts/verify"
)

const (
	manifestFile = "run.manifest.json"
	cardFile     = "card.json"
	bundleFile   = "bundle.tar"
)

func readObject(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, cidutil.IOError(path, "read", err)
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, cidutil.ParseError(path, "want a JSON object", err)
	}
	return m, nil
}

// writeIndented writes v in canonical key order, indented for reading.
func writeIndented(path string, v any) error {
	c, err := canon.Canonicalize(v)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, c, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// writeBundle packs the canonical manifest and card for offline verification.
func writeBundle(path string, resp *certify.RunResponse, card any) error {
	m, err := canon.Canonicalize(resp.Manifest)
	if err != nil {
		return err
	}
	c, err := canon.Canonicalize(card)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := bundle.ExportObjects(&buf, map[string][]byte{"run.manifest": m, "card": c}); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func cmdRun(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(errOut)
	cfgPath := fs.String("config", "", "Service config (YAML); default $TDLN_CONFIG or built-in defaults")
	realm := fs.String("realm", "trust", "Realm")
	intent := fs.String("intent", "certify", "Intent")
	inputsPath := fs.String("inputs", "", "JSON object used as inputs (default: policy reference plus empty data)")
	optionsPath := fs.String("options", "", "JSON object used as options")
	policyCID := fs.String("policy-cid", "", "Policy CID for the default inputs")
	outDir := fs.String("out", "", "Write run.manifest.json and card.json to this directory")
	output := fs.String("output", "", "File or directory whose CID becomes the card's output_cid (required with --out)")
	decision := fs.String("decision", "ACK", "Card decision")
	poi := fs.Bool("poi", false, "Mark a proof of interaction as present")
	var sf signerFlags
	sf.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *outDir != "" && *output == "" {
		fmt.Fprintln(errOut, "--out requires --output")
		return 2
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	ctx := context.Background()
	store, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "store: %v\n", err)
		return 1
	}
	defer closeStore()
	svc, err := cfg.Certify(store)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if sf.set() {
		s, serr := sf.signer()
		if serr != nil {
			fmt.Fprintf(errOut, "invalid signer: %v\n", serr)
			return 2
		}
		svc.Signer = s
	}

	req := certify.RunRequest{Realm: *realm, Intent: *intent}
	if *inputsPath != "" {
		if req.Inputs, err = readObject(*inputsPath); err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
	} else {
		pc := *policyCID
		if pc == "" {
			c, _ := svc.Hasher.Bytes([]byte("policy"))
			pc = c.Embedded()
		}
		req.Inputs = map[string]any{"policy": map[string]any{"kind": "tdln", "cid": pc}, "data": []any{}}
		req.Options = map[string]any{"no_hitl": true, "offline_bundle": true}
	}
	if *optionsPath != "" {
		if req.Options, err = readObject(*optionsPath); err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
	}

	resp, err := svc.Run(ctx, req)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, "DID:", resp.DID)
	fmt.Fprintln(out, "RUN_CID:", resp.RunCID)
	fmt.Fprintln(out, "CARD_URL:", resp.Links.CardURL)
	if resp.BlockCID != "" {
		fmt.Fprintln(out, "STORED:", resp.BlockCID)
	}
	if *outDir == "" {
		return 0
	}

	outCID, err := svc.Hasher.Path(*output)
	if err != nil {
		fmt.Fprintf(errOut, "%s: %v\n", cidutil.KindOf(err), err)
		return 1
	}
	card, err := svc.DraftCard(resp, certify.Draft{Decision: *decision, OutputCID: outCID, PoI: *poi})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := writeIndented(filepath.Join(*outDir, manifestFile), resp.Manifest); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := writeIndented(filepath.Join(*outDir, cardFile), card); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, "CARD:", filepath.Join(*outDir, cardFile))
	if b, _ := req.Options["offline_bundle"].(bool); b {
		path := filepath.Join(*outDir, bundleFile)
		if err := writeBundle(path, resp, card); err != nil {
			fmt.Fprintf(errOut, "bundle: %v\n", err)
			return 1
		}
		fmt.Fprintln(out, "BUNDLE:", path)
	}
	if svc.Signer == nil {
		fmt.Fprintln(errOut, "warning: card is not sealed (no signer configured)")
		return 0
	}
	v := verify.VerifyCard(card, nil)
	return summarize(errOut, "draft card", v, !v.Failed())
}
