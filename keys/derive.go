package keys

import (
	"fmt"

	"lukechampine.com/blake3"
)

// roleContext is the BLAKE3 key-derivation context for role seeds. It must
// never change: doing so changes every derived key.
const roleContext = "tdln.foundry receipts kms-lite 2025 role seed v1"

// DeriveRoleSeed derives a role-specific seed from a root seed.
func DeriveRoleSeed(root []byte, role string) ([]byte, error) {
	if len(root) != SeedSize {
		return nil, fmt.Errorf("keys: root seed must be %d bytes", SeedSize)
	}
	if err := CheckName("role", role); err != nil {
		return nil, err
	}
	material := make([]byte, 0, len(root)+len(role)+6)
	material = append(material, root...)
	material = append(material, 0)
	material = append(material, "role:"...)
	material = append(material, role...)

	out := make([]byte, SeedSize)
	blake3.DeriveKey(out, roleContext, material)
	return out, nil
}
