package protocol

import (
	"hash/crc32"
	"math/rand"
	"testing"
)

func crcOver(data []byte) uint32 {
	crc := uint32(crcInit)
	for _, b := range data {
		crc = crc32Update(crc, b)
	}
	return crc32Finalize(crc)
}

func TestCRC32_CheckValue(t *testing.T) {
	if got := crcOver([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("CRC32(\"123456789\") = 0x%08X, want 0xCBF43926", got)
	}
}

func TestCRC32_MatchesIEEE(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, n := range []int{0, 1, 7, 64, 300} {
		data := make([]byte, n)
		rng.Read(data)
		want := crc32.ChecksumIEEE(data)
		if got := crcOver(data); got != want {
			t.Errorf("length %d: CRC 0x%08X, want 0x%08X", n, got, want)
		}
	}
}

func TestParseUint32(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"0", 0, true},
		{"42", 42, true},
		{"0x2000", 0x2000, true},
		{"0X2000", 0x2000, true},
		{"0xDEADBEEF", 0xDEADBEEF, true},
		{"0xdeadbeef", 0xDEADBEEF, true},
		{"017", 15, true},
		{"+8", 8, true},
		{"-1", 0xFFFFFFFF, true},
		{"4294967295", 0xFFFFFFFF, true},
		{"12junk", 12, true}, // stops at the first non-digit
		{"0x10Q", 0x10, true},
		{"08", 0, true}, // octal parse stops at '8' after consuming the 0
		{"", 0, false},
		{"x", 0, false},
		{"-", 0, false},
		{"junk", 0, false},
	}

	for _, tc := range tests {
		got, ok := parseUint32(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parseUint32(%q) = (0x%X, %v), want (0x%X, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
