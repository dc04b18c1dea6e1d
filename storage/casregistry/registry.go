// Package casregistry links object store backends into binaries.
//
// Backends register themselves in init():
//
//	casregistry.MustRegister(casregistry.Backend{ ... })
//
// and a binary enables a backend by importing its package, usually as a
// blank import.
package casregistry

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tdln.foundry/receipts/storage"
)

// OpenFunc opens a backend from option values already bound to a FlagSet.
// The returned close function may be nil.
type OpenFunc func(ctx context.Context) (storage.CAS, func() error, error)

type Backend struct {
	Name        string
	Description string
	Usage       Usage

	// Flags binds backend options to fs and returns the opener that reads
	// them once fs has been parsed.
	Flags func(fs *flag.FlagSet) OpenFunc
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("casregistry: backend name is required")
	}
	if b.Flags == nil {
		return fmt.Errorf("casregistry: backend %q missing Flags", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("casregistry: backend %q missing Usage", b.Name)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("casregistry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

func lookup(name string, usage Usage) (Backend, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("unknown backend %q (have %s)", name, strings.Join(Names(usage), ", "))
	}
	if !b.Usage.allows(usage) {
		return Backend{}, fmt.Errorf("backend %q not supported in this binary", name)
	}
	return b, nil
}

// Openers holds the openers bound to one FlagSet.
type Openers struct {
	usage Usage
	open  map[string]OpenFunc
}

// RegisterFlags binds the flags of every backend matching usage to fs, so a
// single parse covers all of them.
func RegisterFlags(fs *flag.FlagSet, usage Usage) *Openers {
	o := &Openers{usage: usage, open: map[string]OpenFunc{}}
	for _, b := range List(usage) {
		o.open[b.Name] = b.Flags(fs)
	}
	return o
}

// Open opens the named backend with the parsed flag values.
func (o *Openers) Open(ctx context.Context, name string) (storage.CAS, func() error, error) {
	if _, err := lookup(name, o.usage); err != nil {
		return nil, nil, err
	}
	open, ok := o.open[name]
	if !ok {
		return nil, nil, fmt.Errorf("backend %q has no bound flags", name)
	}
	return open(ctx)
}

// OpenWithConfig opens the named backend with options given as a map of
// flag names (without dashes) to values.
func OpenWithConfig(ctx context.Context, name string, usage Usage, cfg map[string]string) (storage.CAS, func() error, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return nil, nil, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	open := b.Flags(fs)
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if fs.Lookup(k) == nil {
			return nil, nil, fmt.Errorf("backend %q: unknown option %q", name, k)
		}
		if err := fs.Set(k, cfg[k]); err != nil {
			return nil, nil, fmt.Errorf("backend %q: option %q: %w", name, k, err)
		}
	}
	return open(ctx)
}
