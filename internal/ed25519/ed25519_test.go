package ed25519

import (
	"bytes"
	stded "crypto/ed25519"
	"encoding/hex"
	"math/rand"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex in test vector: %v", err)
	}
	return b
}

// RFC 8032 section 7.1 test vectors.
var rfc8032Vectors = []struct {
	name    string
	public  string
	message string
	sig     string
}{
	{
		name:    "TEST 1",
		public:  "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a",
		message: "",
		sig: "e5564300c360ac729086e2cc806e828a84877f1eb8e5d974d873e065224901555fb882" +
			"1590a33bacc61e39701cf9b46bd25bf5f0595bbe24655141438e7a100b",
	},
	{
		name:    "TEST 2",
		public:  "3d4017c3e843895a92b70aa74d1b7ebc9c982ccf2ec4968cc0cd55f12af4660c",
		message: "72",
		sig: "92a009a9f0d4cab8720e820b5f642540a2b27b5416503f8fb3762223ebdb69da085ac1" +
			"e43e15996e458f3613d0f11d8c387b2eaeb4302aeeb00d291612bb0c00",
	},
	{
		name:    "TEST 3",
		public:  "fc51cd8e6218a1a38da47ed00230f0580816ed13ba3303ac5deb911548908025",
		message: "af82",
		sig: "6291d657deec24024827e69c3abe01a30ce548a284743a445e3680d7db5ac3ac18ff9b" +
			"538d16f290ae67f760984dc6594a7c15e9716ed28dc027beceea1ec40a",
	},
	{
		name:   "TEST SHA(abc)",
		public: "ec172b93ad5e563bf4932c70e1245034c35467ef2efd4d64ebf819683467e2bf",
		message: "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a" +
			"2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f",
		sig: "dc2a4459e7369633a52b1bf277839a00201009a3efbf3ecb69bea2186c26b589093" +
			"51fc9ac90b3ecfdfbc7c66431e0303dca179c138ac17ad9bef1177331a704",
	},
}

func TestVerify_RFC8032(t *testing.T) {
	for _, tc := range rfc8032Vectors {
		pub := mustHex(t, tc.public)
		msg := mustHex(t, tc.message)
		sig := mustHex(t, tc.sig)
		if !Verify(pub, msg, sig) {
			t.Errorf("%s: valid signature rejected", tc.name)
		}
	}
}

func TestVerify_BitFlips(t *testing.T) {
	tc := rfc8032Vectors[2]
	pub := mustHex(t, tc.public)
	msg := mustHex(t, tc.message)
	sig := mustHex(t, tc.sig)

	// One flipped bit per byte of the signature.
	for i := range sig {
		bad := bytes.Clone(sig)
		bad[i] ^= 1 << uint(i%8)
		if Verify(pub, msg, bad) {
			t.Errorf("signature with bit flipped in byte %d accepted", i)
		}
	}

	// One flipped bit per byte of the public key.
	for i := range pub {
		bad := bytes.Clone(pub)
		bad[i] ^= 1 << uint(i%8)
		if Verify(bad, msg, sig) {
			t.Errorf("public key with bit flipped in byte %d accepted", i)
		}
	}

	// Every bit of the (short) message.
	for i := range msg {
		for bit := 0; bit < 8; bit++ {
			bad := bytes.Clone(msg)
			bad[i] ^= 1 << uint(bit)
			if Verify(pub, bad, sig) {
				t.Errorf("message with bit %d of byte %d flipped accepted", bit, i)
			}
		}
	}
}

// A signature whose s component has the group order added verifies
// under the unreduced equation but must be rejected as malleable.
func TestVerify_RejectsHighS(t *testing.T) {
	tc := rfc8032Vectors[0]
	pub := mustHex(t, tc.public)
	msg := mustHex(t, tc.message)
	sig := mustHex(t, tc.sig)

	mall := bytes.Clone(sig)
	carry := 0
	for i := 0; i < 32; i++ {
		v := int(mall[32+i]) + int(scOrder[i]) + carry
		mall[32+i] = byte(v)
		carry = v >> 8
	}
	if carry != 0 {
		t.Fatal("s + L overflowed 256 bits")
	}

	if Verify(pub, msg, mall) {
		t.Error("signature with s >= L accepted")
	}
}

func TestVerify_WrongLengths(t *testing.T) {
	tc := rfc8032Vectors[0]
	pub := mustHex(t, tc.public)
	msg := mustHex(t, tc.message)
	sig := mustHex(t, tc.sig)

	if Verify(pub[:31], msg, sig) {
		t.Error("short public key accepted")
	}
	if Verify(pub, msg, sig[:63]) {
		t.Error("short signature accepted")
	}
	if Verify(append(bytes.Clone(pub), 0), msg, sig) {
		t.Error("long public key accepted")
	}
}

// The verifier must agree with crypto/ed25519 on signatures it
// generates, including over 32-byte digests like the loader uses.
func TestVerify_AgainstStandardLibrary(t *testing.T) {
	rng := rand.New(rand.NewSource(99))

	for i := 0; i < 8; i++ {
		seed := make([]byte, stded.SeedSize)
		rng.Read(seed)
		priv := stded.NewKeyFromSeed(seed)
		pub := priv.Public().(stded.PublicKey)

		msg := make([]byte, 32)
		rng.Read(msg)
		sig := stded.Sign(priv, msg)

		if !Verify(pub, msg, sig) {
			t.Fatalf("iteration %d: stdlib signature rejected", i)
		}

		msg[0] ^= 0xFF
		if Verify(pub, msg, sig) {
			t.Fatalf("iteration %d: altered message accepted", i)
		}
	}
}

func TestScCheck(t *testing.T) {
	var s [32]byte

	s = scOrder
	if !scCheck(&s) {
		t.Error("scCheck(L) = false, want true")
	}

	s = scOrder
	s[0]-- // L - 1, no borrow: low byte of L is 0xED
	if scCheck(&s) {
		t.Error("scCheck(L-1) = true, want false")
	}

	s = scOrder
	s[31]++ // L + 2^248
	if !scCheck(&s) {
		t.Error("scCheck(L + 2^248) = false, want true")
	}

	s = [32]byte{}
	if scCheck(&s) {
		t.Error("scCheck(0) = true, want false")
	}
}

func TestFieldElement_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		var in [32]byte
		rng.Read(in[:])
		in[31] &= 0x7F // below 2^255

		var fe fieldElement
		fe.setBytes(&in)
		var out [32]byte
		fe.bytes(&out)

		// Values in [p, 2^255) re-encode canonically, everything else
		// must round-trip exactly. Random 255-bit values are below p
		// with overwhelming probability.
		if out != in {
			belowP := in[31] != 0x7F || in[0] < 0xED
			for _, b := range in[1:31] {
				belowP = belowP || b != 0xFF
			}
			if belowP {
				t.Fatalf("value below p did not round-trip: %x -> %x", in, out)
			}
			var again fieldElement
			again.setBytes(&out)
			var out2 [32]byte
			again.bytes(&out2)
			if out2 != out {
				t.Fatalf("encode not stable: %x -> %x -> %x", in, out, out2)
			}
		}
	}
}

func TestFieldElement_Invert(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	var one fieldElement
	one.one()
	var oneBytes [32]byte
	one.bytes(&oneBytes)

	for i := 0; i < 10; i++ {
		var in [32]byte
		rng.Read(in[:])
		in[31] &= 0x7F

		var x, xInv, prod fieldElement
		x.setBytes(&in)
		if x.isNonzero() == 0 {
			continue
		}
		xInv.invert(&x)
		prod.mul(&x, &xInv)

		var got [32]byte
		prod.bytes(&got)
		if got != oneBytes {
			t.Fatalf("x * x^-1 != 1 for %x", in)
		}
	}
}

// The compressed basepoint must survive decompress/compress, which
// exercises the square root, sign selection, and inversion paths.
func TestBasepoint_RoundTrip(t *testing.T) {
	var p extPoint
	if !p.setBytes(&basepointCompressed) {
		t.Fatal("basepoint failed to decompress")
	}
	var out [32]byte
	p.bytes(&out)
	if out != basepointCompressed {
		t.Fatalf("basepoint round trip = %x, want %x", out, basepointCompressed)
	}
}

// B + B must equal 2B whichever formula produced it.
func TestPoint_AddMatchesDouble(t *testing.T) {
	var b extPoint
	if !b.setBytes(&basepointCompressed) {
		t.Fatal("basepoint failed to decompress")
	}

	var sum, dbl extPoint
	sum.add(&b, &b)
	dbl.double(&b)

	var sumBytes, dblBytes [32]byte
	sum.bytes(&sumBytes)
	dbl.bytes(&dblBytes)
	if sumBytes != dblBytes {
		t.Fatalf("B+B = %x, 2B = %x", sumBytes, dblBytes)
	}
}

func TestScalarMult_Small(t *testing.T) {
	var b extPoint
	if !b.setBytes(&basepointCompressed) {
		t.Fatal("basepoint failed to decompress")
	}

	// 4B via scalar must equal double(double(B)).
	var four [32]byte
	four[0] = 4
	var viaScalar, viaDouble extPoint
	viaScalar.scalarMult(&b, &four)
	viaDouble.double(&b)
	viaDouble.double(&viaDouble)

	var a, c [32]byte
	viaScalar.bytes(&a)
	viaDouble.bytes(&c)
	if a != c {
		t.Fatalf("4B mismatch: %x vs %x", a, c)
	}

	// 0B is the identity, which compresses to y=1.
	var zero [32]byte
	var id extPoint
	id.scalarMult(&b, &zero)
	var idBytes [32]byte
	id.bytes(&idBytes)
	var wantID [32]byte
	wantID[0] = 1
	if idBytes != wantID {
		t.Fatalf("0B = %x, want %x", idBytes, wantID)
	}
}
