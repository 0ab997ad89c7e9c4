// Package embedded carries the build-time artifacts compiled into the
// tool, chiefly the trusted signer's public key.
package embedded

import (
	_ "embed"
)

//go:embed boot_pubkey.bin
var bootPublicKey []byte

// BootPublicKey returns the 32-byte Ed25519 public key the loader
// verifies firmware against.
func BootPublicKey() [32]byte {
	var key [32]byte
	copy(key[:], bootPublicKey)
	return key
}
