// Package device assembles the loader out of its parts (flash
// controller, protocol machine, RX/TX rings) behind an io.ReadWriter,
// so the host-side flasher (and the tests) can talk to a bootloader
// without hardware. The pump mirrors the device main loop: service the
// transport, pull at most one byte per iteration from the RX ring, feed
// it to the state machine.
package device

import (
	"fmt"
	"io"

	"github.com/depbit/zeroboot/internal/flash"
	"github.com/depbit/zeroboot/internal/protocol"
	"github.com/depbit/zeroboot/internal/ring"
)

// TouchBaud is the line-coding rate a host uses to force the loader to
// stay resident.
const TouchBaud = 1200

// ringSize holds a full host write burst (one WRITE header plus its
// block) so nothing is dropped inside a single exchange; the host waits
// for a reply between bursts.
const ringSize = 2048

// Config parameterizes the emulated device.
type Config struct {
	// AppStart is the first application address; zero selects
	// flash.DefaultAppStart.
	AppStart uint32
	// PublicKey is the compiled-in verification key.
	PublicKey [32]byte
}

// Device is an emulated ZeroBoot loader.
type Device struct {
	flash *flash.Controller
	mach  *protocol.Machine
	rx    *ring.Ring
	tx    *ring.Ring

	// Set by the launcher when control transfers to the application.
	jumped      bool
	vectorTable uint32
	stackTop    uint32
	entryPoint  uint32
}

// New returns a device with erased flash and an initialized controller.
func New(cfg Config) *Device {
	d := &Device{
		flash: flash.NewController(cfg.AppStart),
		rx:    ring.New(ringSize),
		tx:    ring.New(ringSize),
	}
	d.flash.Init()
	d.mach = protocol.NewMachine(protocol.Config{
		AppStart:  d.flash.AppStart(),
		PublicKey: cfg.PublicKey,
		Jump:      d.jump,
	}, d.flash, txWriter{d})
	return d
}

// Flash exposes the simulated array for inspection.
func (d *Device) Flash() *flash.Controller { return d.flash }

// StayResident is the bootloader entry predicate: remain in the loader
// when the host touched the port at 1200 baud or when no authenticated
// application is installed.
func (d *Device) StayResident(lineBaud uint32) bool {
	if lineBaud == TouchBaud {
		return true
	}
	return !d.flash.AppValid()
}

// jump models the launcher: interrupts off, vector table moved to the
// application, SP and PC loaded from its first two words.
func (d *Device) jump(appStart uint32) {
	d.vectorTable = appStart
	d.stackTop = d.flash.ReadWord(appStart)
	d.entryPoint = d.flash.ReadWord(appStart + 4)
	d.jumped = true
}

// Jumped reports whether control transferred, and to which entry point.
func (d *Device) Jumped() (entry uint32, ok bool) {
	return d.entryPoint, d.jumped
}

// txWriter feeds machine replies into the TX ring, spilling to nothing:
// the pump drains the ring after every processed byte, so the ring can
// only fill when a single reply exceeds its size, which no reply does.
type txWriter struct {
	d *Device
}

func (w txWriter) Write(p []byte) (int, error) {
	for i, b := range p {
		if !w.d.tx.Put(b) {
			return i, fmt.Errorf("device: tx ring overflow")
		}
	}
	return len(p), nil
}

func (d *Device) drainTX(w io.Writer) error {
	var buf [ringSize]byte
	n := 0
	for {
		b, ok := d.tx.Get()
		if !ok {
			break
		}
		buf[n] = b
		n++
	}
	if n == 0 {
		return nil
	}
	_, err := w.Write(buf[:n])
	return err
}

// Serve runs the loader main loop over rw until the launcher fires or
// the host side closes. Bytes are processed in strict arrival order.
func (d *Device) Serve(rw io.ReadWriter) error {
	readErr := make(chan error, 1)
	avail := make(chan struct{}, 1)

	go func() {
		var buf [64]byte
		for {
			n, err := rw.Read(buf[:])
			for _, b := range buf[:n] {
				// A full RX ring drops bytes, like the CDC endpoint
				// handler; the block CRC surfaces the loss.
				d.rx.Put(b)
			}
			if n > 0 {
				select {
				case avail <- struct{}{}:
				default:
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		b, ok := d.rx.Get()
		if !ok {
			select {
			case err := <-readErr:
				// Consume anything queued between the last Get and
				// the reader going away before reporting the close.
				for {
					b, ok := d.rx.Get()
					if !ok {
						break
					}
					if perr := d.mach.Process(b); perr != nil {
						return perr
					}
					if perr := d.drainTX(rw); perr != nil {
						return perr
					}
					if d.jumped {
						return nil
					}
				}
				if err == io.EOF {
					return nil
				}
				return err
			case <-avail:
			}
			continue
		}
		if err := d.mach.Process(b); err != nil {
			return err
		}
		if err := d.drainTX(rw); err != nil {
			return err
		}
		if d.jumped {
			return nil
		}
	}
}
