// Package keys is a local-first key store for seal signing seeds.
//
// Seeds are 32-byte values stored hex-encoded under a directory (default
// ~/.tdln/keys):
//
//	<dir>/<name>/root.key
//	<dir>/<name>/roles/<role>.key
//
// Role seeds are derived deterministically from the root seed, so a root
// seed backup is enough to recover every role key. The same seed drives both
// ed25519 and dilithium3 keys; public keys are exported as "<alg>:<base64>".
package keys
