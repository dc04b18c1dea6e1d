package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"tdln.foundry/receipts/verify"
)

var (
	passColor = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

// summarize writes a one-line verdict summary and returns the exit status.
func summarize(w io.Writer, what string, v verify.Verdict, accepted bool) int {
	c := passColor
	switch v.Result {
	case verify.Warn:
		c = warnColor
	case verify.Fail:
		c = failColor
	}
	_, _ = c.Fprint(w, v.Result)
	line := " " + what
	if v.Code != "" {
		line += " " + v.Code
	}
	if v.Msg != "" && v.Result != verify.Pass {
		line += ": " + v.Msg
	}
	if v.Result == verify.Warn && !accepted {
		line += " (rejected in strict mode)"
	}
	fmt.Fprintln(w, line)
	if accepted {
		return 0
	}
	return 1
}
