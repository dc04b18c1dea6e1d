package compliance

import (
	"fmt"
	"strings"

	"tdln.foundry/receipts/verify"
)

// Mode selects how a caller treats non-fatal findings.
//
// Strict mode prefers explicit rejection over silent acceptance: a WARN
// verdict is rejected. Permissive mode accepts WARN and surfaces its codes.
// FAIL is rejected in both modes.
type Mode int

const (
	Permissive Mode = iota
	Strict
)

func (m Mode) String() string {
	switch m {
	case Permissive:
		return "permissive"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "permissive" and "strict" (case-insensitive); "" is
// permissive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "permissive":
		return Permissive, nil
	case "strict":
		return Strict, nil
	default:
		return Permissive, fmt.Errorf("compliance: unknown mode %q (want permissive|strict)", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Accept reports whether v is acceptable under mode m.
func Accept(v verify.Verdict, m Mode) bool {
	switch v.Result {
	case verify.Pass:
		return true
	case verify.Warn:
		return m == Permissive
	default:
		return false
	}
}
