package ed25519

import "github.com/depbit/zeroboot/internal/sha2"

// PublicKeySize is the size of a compressed public key in bytes.
const PublicKeySize = 32

// SignatureSize is the size of a signature (R || s) in bytes.
const SignatureSize = 64

// verify32 is a constant-time 32-byte comparison. It reports 1 when the
// slices are equal.
func verify32(a, b *[32]byte) int {
	var diff byte
	for i := 0; i < 32; i++ {
		diff |= a[i] ^ b[i]
	}
	return int((uint32(diff) - 1) >> 31)
}

// Verify reports whether sig is a valid Ed25519 signature on message by
// publicKey. It returns false for inputs of the wrong length, for
// non-canonical s components (s >= L), and for public keys or R values
// that do not decode to curve points.
//
// The bootloader calls this with the 32-byte SHA-256 image digest as the
// message; the function itself accepts messages of any length.
func Verify(publicKey, message, sig []byte) bool {
	if len(publicKey) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}

	var sScalar [32]byte
	copy(sScalar[:], sig[32:])
	if scCheck(&sScalar) {
		return false
	}

	var keyBytes [32]byte
	copy(keyBytes[:], publicKey)
	var a extPoint
	if !a.setBytes(&keyBytes) {
		return false
	}

	var b extPoint
	if !b.setBytes(&basepointCompressed) {
		return false
	}

	// k = SHA-512(R || A || message), reduced mod L.
	h := sha2.New512()
	h.Write(sig[:32])
	h.Write(publicKey)
	h.Write(message)
	var k [64]byte
	h.Sum(k[:0])
	scReduce(&k)
	var kScalar [32]byte
	copy(kScalar[:], k[:32])

	// P = s*B + (-k)*A; valid iff P compresses to R.
	var sB, kA extPoint
	sB.scalarMult(&b, &sScalar)
	kA.scalarMult(&a, &kScalar)
	kA.neg()

	var p extPoint
	p.add(&sB, &kA)

	var rCheck [32]byte
	p.bytes(&rCheck)

	var rBytes [32]byte
	copy(rBytes[:], sig[:32])
	return verify32(&rCheck, &rBytes) == 1
}
