package ed25519

// extPoint is a curve point in extended coordinates (X, Y, Z, T) with
// T = XY/Z, which makes the addition law unified: no branches on the
// inputs.
type extPoint struct {
	x, y, z, t fieldElement
}

// d = -121665/121666 mod p.
var edwardsD = fieldElement{[5]uint64{
	929955233495203, 466365720129213, 1662059464998953,
	2033849074728123, 1442794654840575,
}}

// sqrt(-1) mod p, applied when the first square-root candidate fails.
var sqrtM1 = fieldElement{[5]uint64{
	1718705420411056, 234908883556509, 2233514472574048,
	2117202627021982, 765476049583133,
}}

// basepointCompressed is the canonical 32-byte encoding of the Ed25519
// generator; the verifier decompresses it instead of carrying the large
// precomputed tables of table-driven implementations.
var basepointCompressed = [32]byte{
	0x58, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
	0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
	0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
	0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
}

func (p *extPoint) identity() {
	p.x.zero()
	p.y.one()
	p.z.one()
	p.t.zero()
}

// add computes r = p + q using the unified extended-coordinate formulas.
func (r *extPoint) add(p, q *extPoint) {
	var yPlusX1, yMinusX1, yPlusX2, yMinusX2 fieldElement
	var a, b, c, d, e, f, g, h fieldElement
	var tmp extPoint

	yPlusX1.add(&p.y, &p.x)
	yMinusX1.sub(&p.y, &p.x)
	yPlusX2.add(&q.y, &q.x)
	yMinusX2.sub(&q.y, &q.x)

	a.mul(&yMinusX1, &yMinusX2)
	b.mul(&yPlusX1, &yPlusX2)
	c.mul(&p.t, &q.t)
	c.mul(&c, &edwardsD)
	c.add(&c, &c)
	d.mul(&p.z, &q.z)
	d.add(&d, &d)

	e.sub(&b, &a)
	f.sub(&d, &c)
	g.add(&d, &c)
	h.add(&b, &a)

	tmp.x.mul(&e, &f)
	tmp.y.mul(&g, &h)
	tmp.z.mul(&f, &g)
	tmp.t.mul(&e, &h)

	*r = tmp
}

// double computes r = 2p.
func (r *extPoint) double(p *extPoint) {
	var a, b, c, d, e, f, g, h fieldElement
	var tmp extPoint

	a.square(&p.x)
	b.square(&p.y)
	c.square(&p.z)
	c.add(&c, &c)
	d.neg(&a)
	e.add(&p.x, &p.y)
	e.square(&e)
	e.sub(&e, &a)
	e.sub(&e, &b)
	g.add(&d, &b)
	f.sub(&g, &c)
	h.sub(&d, &b)

	tmp.x.mul(&e, &f)
	tmp.y.mul(&g, &h)
	tmp.z.mul(&f, &g)
	tmp.t.mul(&e, &h)

	*r = tmp
}

// setBytes decompresses a 32-byte encoding: the field element y with the
// x sign bit stored in the top bit. It reports false for encodings whose
// x^2 has no square root (including the sqrt(-1) fallback).
func (p *extPoint) setBytes(s *[32]byte) bool {
	buf := *s
	sign := int(buf[31] >> 7)
	buf[31] &= 0x7f

	p.y.setBytes(&buf)
	p.z.one()

	// Recover x from y: x^2 = (y^2 - 1) / (d*y^2 + 1).
	var ySq, u, v fieldElement
	var one fieldElement
	one.one()
	ySq.square(&p.y)
	u.sub(&ySq, &one)
	v.mul(&ySq, &edwardsD)
	v.add(&v, &one)

	// Candidate x = u * v^3 * (u * v^7)^((p-5)/8).
	var vSq, vCube, v7, x fieldElement
	vSq.square(&v)
	vCube.mul(&vSq, &v)
	v7.square(&vCube)
	v7.mul(&v7, &v)
	x.mul(&v7, &u)
	x.pow22523(&x)
	x.mul(&x, &vCube)
	x.mul(&x, &u)

	var xSq, check fieldElement
	xSq.square(&x)
	check.mul(&xSq, &v)
	check.sub(&check, &u)
	if check.isNonzero() != 0 {
		x.mul(&x, &sqrtM1)
		xSq.square(&x)
		check.mul(&xSq, &v)
		check.sub(&check, &u)
		if check.isNonzero() != 0 {
			return false
		}
	}

	if x.isNegative() != sign {
		x.neg(&x)
	}

	p.x = x
	p.t.mul(&p.x, &p.y)
	return true
}

// bytes compresses the point: affine y with the x sign in the top bit.
func (p *extPoint) bytes(s *[32]byte) {
	var zInv, x, y fieldElement
	zInv.invert(&p.z)
	x.mul(&p.x, &zInv)
	y.mul(&p.y, &zInv)

	y.bytes(s)
	var xBytes [32]byte
	x.bytes(&xBytes)
	s[31] ^= (xBytes[0] & 1) << 7
}

// neg negates the point in place: coordinate-wise negation of X and T.
func (p *extPoint) neg() {
	p.x.neg(&p.x)
	p.t.neg(&p.t)
}

// scalarMult computes r = k*p with a variable-time double-and-add
// ladder. k is a 32-byte little-endian scalar; all inputs are public.
func (r *extPoint) scalarMult(p *extPoint, k *[32]byte) {
	var acc extPoint
	acc.identity()

	for i := 255; i >= 0; i-- {
		acc.double(&acc)
		if (k[i>>3]>>(uint(i)&7))&1 == 1 {
			var tmp extPoint
			tmp.add(&acc, p)
			acc = tmp
		}
	}

	*r = acc
}
