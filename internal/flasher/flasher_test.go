package flasher

import (
	"bytes"
	stded "crypto/ed25519"
	"crypto/sha256"
	"errors"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/depbit/zeroboot/internal/device"
	"github.com/depbit/zeroboot/internal/flash"
)

// startDevice wires an emulated loader to one end of a pipe and returns
// the host end.
func startDevice(t *testing.T, pub [32]byte) (*device.Device, net.Conn) {
	t.Helper()
	d := device.New(device.Config{PublicKey: pub})
	host, devEnd := net.Pipe()
	go func() {
		d.Serve(devEnd)
		devEnd.Close()
	}()
	host.SetDeadline(time.Now().Add(10 * time.Second))
	t.Cleanup(func() { host.Close() })
	return d, host
}

func testKey(t *testing.T, seed int64) ([32]byte, stded.PrivateKey) {
	t.Helper()
	pub, priv, err := stded.GenerateKey(rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatal(err)
	}
	var pubKey [32]byte
	copy(pubKey[:], pub)
	return pubKey, priv
}

func TestHello(t *testing.T) {
	pub, _ := testKey(t, 1)
	_, host := startDevice(t, pub)

	f := New(host)
	version, err := f.Hello()
	if err != nil {
		t.Fatal(err)
	}
	if version != "1.0" {
		t.Errorf("version = %q, want %q", version, "1.0")
	}
}

func TestFullSession(t *testing.T) {
	pub, priv := testKey(t, 2)
	dev, host := startDevice(t, pub)

	firmware := make([]byte, 3000)
	rand.New(rand.NewSource(3)).Read(firmware)

	f := New(host)
	if _, err := f.Hello(); err != nil {
		t.Fatal(err)
	}
	if err := f.EraseApp(); err != nil {
		t.Fatal(err)
	}

	var progressCalls int
	f.SetProgressCallback(func(current, total int) {
		progressCalls++
		if total != 3 {
			t.Errorf("progress total = %d, want 3", total)
		}
	})

	if err := f.FlashImage(firmware, flash.DefaultAppStart); err != nil {
		t.Fatal(err)
	}
	if progressCalls != 3 {
		t.Errorf("progress callback fired %d times, want 3", progressCalls)
	}

	digest := sha256.Sum256(firmware)
	sig := stded.Sign(priv, digest[:])
	if err := f.Done(sig); err != nil {
		t.Fatal(err)
	}

	if got := dev.Flash().Bytes(flash.DefaultAppStart, len(firmware)); !bytes.Equal(got, firmware) {
		t.Error("device flash does not hold the streamed firmware")
	}
	if _, jumped := dev.Jumped(); !jumped {
		t.Error("device did not start the application")
	}
}

func TestWriteBlock_RangeRejected(t *testing.T) {
	pub, _ := testKey(t, 4)
	_, host := startDevice(t, pub)

	f := New(host)
	err := f.WriteBlock(0x0000, []byte("data"))
	if !errors.Is(err, ErrRange) {
		t.Errorf("WriteBlock below app start: err = %v, want ErrRange", err)
	}
}

func TestDone_SignatureRejected(t *testing.T) {
	pub, priv := testKey(t, 5)
	dev, host := startDevice(t, pub)

	firmware := []byte("application image")

	f := New(host)
	if err := f.EraseApp(); err != nil {
		t.Fatal(err)
	}
	if err := f.FlashImage(firmware, flash.DefaultAppStart); err != nil {
		t.Fatal(err)
	}

	digest := sha256.Sum256(firmware)
	sig := stded.Sign(priv, digest[:])
	sig[0] ^= 0x01

	if err := f.Done(sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered signature: err = %v, want ErrBadSignature", err)
	}
	if dev.Flash().AppValid() {
		t.Error("marker set despite rejected signature")
	}

	// The loader stays resident; the corrected signature goes through.
	sig[0] ^= 0x01
	if err := f.Done(sig); err != nil {
		t.Fatalf("retried Done: %v", err)
	}
}

func TestDone_LengthChecked(t *testing.T) {
	pub, _ := testKey(t, 6)
	_, host := startDevice(t, pub)

	f := New(host)
	if err := f.Done(make([]byte, 63)); err == nil {
		t.Error("Done accepted a 63-byte signature")
	}
}
