package ipfs

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"

	"tdln.foundry/receipts/storage"
	"tdln.foundry/receipts/storage/casregistry"
	"tdln.foundry/receipts/storage/testkit"
)

func TestIPFS_Conformance(t *testing.T) {
	bin, err := exec.LookPath("ipfs")
	if err != nil {
		t.Skip("ipfs binary not on PATH")
	}
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		repo := t.TempDir()
		env := []string{"IPFS_PATH=" + repo, "HOME=" + repo}
		cmd := exec.Command(bin, "init", "--profile=test")
		cmd.Env = env
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("ipfs init: %v: %s", err, out)
		}
		return New(Options{Bin: bin, Env: env})
	})
}

func TestIPFS_MissingBinary(t *testing.T) {
	cas := New(Options{Bin: filepath.Join(t.TempDir(), "no-such-ipfs")})
	if _, err := cas.Put(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected exec error")
	}
	if _, err := cas.Get(context.Background(), mustKey(t, "x")); err == nil || errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("exec failure must not read as not found: %v", err)
	}
}

func TestIsLikelyNotFound(t *testing.T) {
	for _, tc := range []struct {
		msg  string
		want bool
	}{
		{"ipfs: block was not found locally (offline): ipld: could not find bafk", true},
		{"ipfs: Error: blockstore: block not found", true},
		{"ipfs: repo lock held", false},
	} {
		if got := isLikelyNotFound(errors.New(tc.msg)); got != tc.want {
			t.Fatalf("isLikelyNotFound(%q) = %v", tc.msg, got)
		}
	}
}

func TestRegistered(t *testing.T) {
	found := false
	for _, n := range casregistry.Names(casregistry.UsageDaemon) {
		if n == "ipfs" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ipfs backend not registered")
	}
}

func mustKey(t *testing.T, s string) cid.Cid {
	t.Helper()
	id, err := storage.Key([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return id
}
