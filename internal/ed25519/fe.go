// Package ed25519 implements Ed25519 signature verification for the
// bootloader. It is self-contained: field and scalar arithmetic are
// written out here rather than pulled from a big-integer library, and
// nothing allocates after the package is loaded.
//
// Only verification is provided. The scalar multiplication is
// variable-time, which is acceptable because every input to the verifier
// (public key, signature, message) is public; do not reuse this code
// with secret scalars. The final 32-byte comparison is constant-time.
package ed25519

import "math/bits"

// fieldElement is an element of GF(2^255 - 19) in five 51-bit limbs
// (radix 2^51, little-endian limb order).
type fieldElement struct {
	v [5]uint64
}

const feMask = (1 << 51) - 1

// uint128 holds the 128-bit intermediates of the schoolbook multiply.
type uint128 struct {
	lo, hi uint64
}

func mul64(a, b uint64) uint128 {
	hi, lo := bits.Mul64(a, b)
	return uint128{lo, hi}
}

func (x uint128) add(y uint128) uint128 {
	lo, c := bits.Add64(x.lo, y.lo, 0)
	hi, _ := bits.Add64(x.hi, y.hi, c)
	return uint128{lo, hi}
}

func (x uint128) addLo(v uint64) uint128 {
	lo, c := bits.Add64(x.lo, v, 0)
	return uint128{lo, x.hi + c}
}

// shr51 returns the value shifted right by 51 bits, truncated to 64 bits.
func (x uint128) shr51() uint64 {
	return (x.lo >> 51) | (x.hi << 13)
}

func (f *fieldElement) zero() {
	f.v = [5]uint64{}
}

func (f *fieldElement) one() {
	f.v = [5]uint64{1, 0, 0, 0, 0}
}

// reduce folds limb carries, wrapping the top limb back into the bottom
// one multiplied by 19.
func (f *fieldElement) reduce() {
	c := f.v[0] >> 51
	f.v[0] &= feMask
	f.v[1] += c
	c = f.v[1] >> 51
	f.v[1] &= feMask
	f.v[2] += c
	c = f.v[2] >> 51
	f.v[2] &= feMask
	f.v[3] += c
	c = f.v[3] >> 51
	f.v[3] &= feMask
	f.v[4] += c
	c = f.v[4] >> 51
	f.v[4] &= feMask
	f.v[0] += c * 19
	c = f.v[0] >> 51
	f.v[0] &= feMask
	f.v[1] += c
	// v[1] may sit just above 2^51; every consumer tolerates the loose
	// bound and bytes() finishes the normalization.
}

func load64le(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

func store64le(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}

// setBytes decodes a 32-byte little-endian encoding. The caller strips
// the sign bit beforehand.
func (f *fieldElement) setBytes(s *[32]byte) {
	f.v[0] = load64le(s[0:]) & feMask
	f.v[1] = (load64le(s[6:]) >> 3) & feMask
	f.v[2] = (load64le(s[12:]) >> 6) & feMask
	f.v[3] = (load64le(s[19:]) >> 1) & feMask
	f.v[4] = (load64le(s[24:]) >> 12) & feMask
}

// bytes writes the canonical 32-byte little-endian encoding into s.
// The reduction mod p is branch-free: adding 19 and then 2^255 - 19
// limb-wise and discarding bit 255 subtracts p exactly when the value
// was >= p.
func (f *fieldElement) bytes(s *[32]byte) {
	t := *f
	t.reduce()
	t.reduce()

	t.v[0] += 19
	c := t.v[0] >> 51
	t.v[0] &= feMask
	t.v[1] += c
	c = t.v[1] >> 51
	t.v[1] &= feMask
	t.v[2] += c
	c = t.v[2] >> 51
	t.v[2] &= feMask
	t.v[3] += c
	c = t.v[3] >> 51
	t.v[3] &= feMask
	t.v[4] += c
	c = t.v[4] >> 51
	t.v[4] &= feMask
	t.v[0] += c * 19

	t.v[0] += feMask - 18
	t.v[1] += feMask
	t.v[2] += feMask
	t.v[3] += feMask
	t.v[4] += feMask

	t.v[1] += t.v[0] >> 51
	t.v[0] &= feMask
	t.v[2] += t.v[1] >> 51
	t.v[1] &= feMask
	t.v[3] += t.v[2] >> 51
	t.v[2] &= feMask
	t.v[4] += t.v[3] >> 51
	t.v[3] &= feMask
	t.v[4] &= feMask

	t0 := t.v[0] | t.v[1]<<51
	t1 := t.v[1]>>13 | t.v[2]<<38
	t2 := t.v[2]>>26 | t.v[3]<<25
	t3 := t.v[3]>>39 | t.v[4]<<12

	store64le(s[0:], t0)
	store64le(s[8:], t1)
	store64le(s[16:], t2)
	store64le(s[24:], t3)
}

func (f *fieldElement) add(a, b *fieldElement) {
	for i := 0; i < 5; i++ {
		f.v[i] = a.v[i] + b.v[i]
	}
}

// twoP is 2*(2^255-19) limb-wise, added before subtraction to keep the
// limbs non-negative.
var twoP = [5]uint64{
	0xFFFFFFFFFFFDA, 0xFFFFFFFFFFFFE, 0xFFFFFFFFFFFFE,
	0xFFFFFFFFFFFFE, 0xFFFFFFFFFFFFE,
}

func (f *fieldElement) sub(a, b *fieldElement) {
	for i := 0; i < 5; i++ {
		f.v[i] = a.v[i] + twoP[i] - b.v[i]
	}
	f.reduce()
}

func (f *fieldElement) neg(a *fieldElement) {
	for i := 0; i < 5; i++ {
		f.v[i] = twoP[i] - a.v[i]
	}
	f.reduce()
}

// cmov sets f = a when flag is 1, leaves f unchanged when flag is 0.
func (f *fieldElement) cmov(a *fieldElement, flag int) {
	mask := uint64(0) - uint64(flag)
	for i := 0; i < 5; i++ {
		f.v[i] ^= mask & (f.v[i] ^ a.v[i])
	}
}

func (f *fieldElement) mul(a, b *fieldElement) {
	a1_19 := a.v[1] * 19
	a2_19 := a.v[2] * 19
	a3_19 := a.v[3] * 19
	a4_19 := a.v[4] * 19

	t0 := mul64(a.v[0], b.v[0])
	t0 = t0.add(mul64(a1_19, b.v[4]))
	t0 = t0.add(mul64(a2_19, b.v[3]))
	t0 = t0.add(mul64(a3_19, b.v[2]))
	t0 = t0.add(mul64(a4_19, b.v[1]))

	t1 := mul64(a.v[0], b.v[1])
	t1 = t1.add(mul64(a.v[1], b.v[0]))
	t1 = t1.add(mul64(a2_19, b.v[4]))
	t1 = t1.add(mul64(a3_19, b.v[3]))
	t1 = t1.add(mul64(a4_19, b.v[2]))

	t2 := mul64(a.v[0], b.v[2])
	t2 = t2.add(mul64(a.v[1], b.v[1]))
	t2 = t2.add(mul64(a.v[2], b.v[0]))
	t2 = t2.add(mul64(a3_19, b.v[4]))
	t2 = t2.add(mul64(a4_19, b.v[3]))

	t3 := mul64(a.v[0], b.v[3])
	t3 = t3.add(mul64(a.v[1], b.v[2]))
	t3 = t3.add(mul64(a.v[2], b.v[1]))
	t3 = t3.add(mul64(a.v[3], b.v[0]))
	t3 = t3.add(mul64(a4_19, b.v[4]))

	t4 := mul64(a.v[0], b.v[4])
	t4 = t4.add(mul64(a.v[1], b.v[3]))
	t4 = t4.add(mul64(a.v[2], b.v[2]))
	t4 = t4.add(mul64(a.v[3], b.v[1]))
	t4 = t4.add(mul64(a.v[4], b.v[0]))

	f.v[0] = t0.lo & feMask
	t1 = t1.addLo(t0.shr51())
	f.v[1] = t1.lo & feMask
	t2 = t2.addLo(t1.shr51())
	f.v[2] = t2.lo & feMask
	t3 = t3.addLo(t2.shr51())
	f.v[3] = t3.lo & feMask
	t4 = t4.addLo(t3.shr51())
	f.v[4] = t4.lo & feMask
	f.v[0] += t4.shr51() * 19
	f.reduce()
}

func (f *fieldElement) square(a *fieldElement) {
	f.mul(a, a)
}

// pow22523 computes z^((p-5)/8) = z^(2^252 - 3), the exponent used by
// square-root extraction during decompression.
func (f *fieldElement) pow22523(z *fieldElement) {
	var t0, t1, t2 fieldElement
	t0.square(z)     // 2
	t1.square(&t0)   // 4
	t1.square(&t1)   // 8
	t1.mul(z, &t1)   // 9
	t0.mul(&t0, &t1) // 11
	t0.square(&t0)   // 22
	t0.mul(&t1, &t0) // 31 = 2^5 - 1
	t1.square(&t0)
	for i := 1; i < 5; i++ {
		t1.square(&t1)
	}
	t0.mul(&t1, &t0) // 2^10 - 1
	t1.square(&t0)
	for i := 1; i < 10; i++ {
		t1.square(&t1)
	}
	t1.mul(&t1, &t0) // 2^20 - 1
	t2.square(&t1)
	for i := 1; i < 20; i++ {
		t2.square(&t2)
	}
	t1.mul(&t2, &t1) // 2^40 - 1
	t1.square(&t1)
	for i := 1; i < 10; i++ {
		t1.square(&t1)
	}
	t0.mul(&t1, &t0) // 2^50 - 1
	t1.square(&t0)
	for i := 1; i < 50; i++ {
		t1.square(&t1)
	}
	t1.mul(&t1, &t0) // 2^100 - 1
	t2.square(&t1)
	for i := 1; i < 100; i++ {
		t2.square(&t2)
	}
	t1.mul(&t2, &t1) // 2^200 - 1
	t1.square(&t1)
	for i := 1; i < 50; i++ {
		t1.square(&t1)
	}
	t0.mul(&t1, &t0) // 2^250 - 1
	t0.square(&t0)
	t0.square(&t0) // 2^252 - 4
	f.mul(&t0, z)  // 2^252 - 3
}

// invert computes z^(p-2) = z^(2^255 - 21).
func (f *fieldElement) invert(z *fieldElement) {
	var t0, t1, t2, t3 fieldElement
	t0.square(z)     // 2
	t1.square(&t0)   // 4
	t1.square(&t1)   // 8
	t1.mul(z, &t1)   // 9
	t0.mul(&t0, &t1) // 11
	t2.square(&t0)   // 22
	t1.mul(&t1, &t2) // 31 = 2^5 - 1
	t2.square(&t1)
	for i := 1; i < 5; i++ {
		t2.square(&t2)
	}
	t1.mul(&t2, &t1) // 2^10 - 1
	t2.square(&t1)
	for i := 1; i < 10; i++ {
		t2.square(&t2)
	}
	t2.mul(&t2, &t1) // 2^20 - 1
	t3.square(&t2)
	for i := 1; i < 20; i++ {
		t3.square(&t3)
	}
	t2.mul(&t3, &t2) // 2^40 - 1
	t2.square(&t2)
	for i := 1; i < 10; i++ {
		t2.square(&t2)
	}
	t1.mul(&t2, &t1) // 2^50 - 1
	t2.square(&t1)
	for i := 1; i < 50; i++ {
		t2.square(&t2)
	}
	t2.mul(&t2, &t1) // 2^100 - 1
	t3.square(&t2)
	for i := 1; i < 100; i++ {
		t3.square(&t3)
	}
	t2.mul(&t3, &t2) // 2^200 - 1
	t2.square(&t2)
	for i := 1; i < 50; i++ {
		t2.square(&t2)
	}
	t1.mul(&t2, &t1) // 2^250 - 1
	t1.square(&t1)
	for i := 1; i < 5; i++ {
		t1.square(&t1)
	}
	f.mul(&t1, &t0) // 2^255 - 21
}

// isNegative reports whether the canonical encoding of f has its low
// bit set.
func (f *fieldElement) isNegative() int {
	var s [32]byte
	f.bytes(&s)
	return int(s[0] & 1)
}

func (f *fieldElement) isNonzero() int {
	var s [32]byte
	f.bytes(&s)
	var acc byte
	for _, b := range s {
		acc |= b
	}
	if acc != 0 {
		return 1
	}
	return 0
}
