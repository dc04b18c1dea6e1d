package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"tdln.foundry/receipts/compliance"
	"tdln.foundry/receipts/receipt"
	"tdln.foundry/receipts/verify"
)

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: tdln verify <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: card, log, sirp, runtime-cert")
		return 2
	}
	switch args[0] {
	case "card":
		return cmdVerifyCard(args[1:], out, errOut)
	case "log":
		return cmdVerifyLog(args[1:], out, errOut)
	case "sirp":
		return cmdVerifySIRP(args[1:], out, errOut)
	case "runtime-cert":
		return cmdVerifyRuntimeCert(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown verify subcommand: %s\n", args[0])
		return 2
	}
}

type profileFlags struct {
	name  string
	table string
}

func (p *profileFlags) add(fs *flag.FlagSet) {
	fs.StringVar(&p.name, "profile", "", "Profile name (default: the built-in profile)")
	fs.StringVar(&p.table, "profiles", "", "YAML profile table merged over the built-in profiles")
}

func (p *profileFlags) load() (*verify.Profiles, error) {
	if p.table == "" {
		return verify.DefaultProfiles(), nil
	}
	return verify.LoadProfiles(p.table)
}

// verifyRecord is the audit line appended by --record.
type verifyRecord struct {
	verify.Verdict
	Card     string `json:"card"`
	Profile  string `json:"profile"`
	Mode     string `json:"mode"`
	Accepted bool   `json:"accepted"`
	At       string `json:"at"`
}

func cmdVerifyCard(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify card", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var pf profileFlags
	pf.add(fs)
	modeFlag := fs.String("mode", "permissive", "Compliance mode: permissive accepts WARN, strict rejects it")
	record := fs.String("record", "", "Append the verdict to this NDJSON file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tdln verify card [--profile <name>] [--profiles <yaml>] [--mode permissive|strict] <card.json>")
		return 2
	}
	mode, err := compliance.ParseMode(*modeFlag)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	profiles, err := pf.load()
	if err != nil {
		fmt.Fprintf(errOut, "profiles: %v\n", err)
		return 2
	}
	p, ok := profiles.Card(pf.name)
	if !ok {
		fmt.Fprintf(errOut, "unknown card profile %q\n", pf.name)
		return 2
	}

	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read card: %v\n", err)
		return 1
	}
	v, err := verify.VerifyCardJSON(b, p)
	if err != nil {
		fmt.Fprintf(errOut, "invalid card: %v\n", err)
		return 1
	}
	accepted := compliance.Accept(v, mode)
	_ = writeJSON(out, v)
	if *record != "" {
		rec := verifyRecord{
			Verdict:  v,
			Card:     fs.Arg(0),
			Profile:  p.Name,
			Mode:     mode.String(),
			Accepted: accepted,
			At:       time.Now().UTC().Format(time.RFC3339),
		}
		if err := receipt.Append(*record, rec); err != nil {
			fmt.Fprintf(errOut, "record: %v\n", err)
			return 1
		}
	}
	return summarize(errOut, p.Name, v, accepted)
}

func cmdVerifyLog(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify log", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var pf profileFlags
	pf.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tdln verify log [--profile <name>] [--profiles <yaml>] <receipts.jsonl>")
		return 2
	}
	profiles, err := pf.load()
	if err != nil {
		fmt.Fprintf(errOut, "profiles: %v\n", err)
		return 2
	}
	p, ok := profiles.Log(pf.name)
	if !ok {
		fmt.Fprintf(errOut, "unknown log profile %q\n", pf.name)
		return 2
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read log: %v\n", err)
		return 1
	}
	defer f.Close()
	rep, err := verify.VerifyLog(f, p)
	if err != nil {
		fmt.Fprintf(errOut, "invalid log: %v\n", err)
		return 1
	}
	_ = writeJSON(out, rep)
	if rep.Skipped > 0 {
		fmt.Fprintf(errOut, "skipped %d malformed line(s) after line %d\n", rep.Skipped, rep.Line)
	}
	return summarize(errOut, p.Name, rep.Verdict, !rep.Failed())
}

func cmdVerifySIRP(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify sirp", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var pf profileFlags
	pf.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tdln verify sirp [--profile <name>] [--profiles <yaml>] <card.json>")
		return 2
	}
	profiles, err := pf.load()
	if err != nil {
		fmt.Fprintf(errOut, "profiles: %v\n", err)
		return 2
	}
	p, ok := profiles.SIRP(pf.name)
	if !ok {
		fmt.Fprintf(errOut, "unknown sirp profile %q\n", pf.name)
		return 2
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read card: %v\n", err)
		return 1
	}
	c, err := receipt.DecodeCard(b)
	if err != nil {
		fmt.Fprintf(errOut, "invalid card: %v\n", err)
		return 1
	}
	v := verify.VerifySIRP(c, p)
	_ = writeJSON(out, v)
	return summarize(errOut, p.Name, v, !v.Failed())
}

func cmdVerifyRuntimeCert(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify runtime-cert", flag.ContinueOnError)
	fs.SetOutput(errOut)
	nowFlag := fs.String("now", "", "Evaluate expiry at this RFC3339 time (default: current time)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tdln verify runtime-cert [--now <RFC3339>] <cert.json>")
		return 2
	}
	now := time.Now()
	if *nowFlag != "" {
		t, err := time.Parse(time.RFC3339, *nowFlag)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --now (expected RFC3339): %v\n", err)
			return 2
		}
		now = t
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read cert: %v\n", err)
		return 1
	}
	c, err := receipt.DecodeRuntimeCert(b)
	if err != nil {
		fmt.Fprintf(errOut, "invalid cert: %v\n", err)
		return 1
	}
	v := verify.VerifyRuntimeCert(c, now)
	_ = writeJSON(out, v)
	return summarize(errOut, receipt.RuntimeCertKind, v, !v.Failed())
}
