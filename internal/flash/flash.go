// Package flash simulates the on-chip NVM controller the bootloader
// programs: a 256 KiB flash organised in 64-byte pages and 256-byte
// rows. Writes happen a page at a time through a staging buffer, erases
// a row at a time, and programming can only clear bits, exactly as the
// hardware behaves when a page was not erased first.
package flash

import (
	"encoding/binary"
	"fmt"
)

const (
	// PageSize is the program granule in bytes.
	PageSize = 64
	// RowSize is the erase granule: four pages.
	RowSize = 4 * PageSize
	// Size is the total flash size in bytes.
	Size = 256 * 1024

	// AppValidMagic marks an authenticated application image. It is
	// stored in the word immediately before the application start.
	AppValidMagic = 0x55AA13F0

	// DefaultAppStart reserves 16 KiB for the bootloader.
	DefaultAppStart = 0x4000
)

// Controller models the NVM controller plus its flash array.
type Controller struct {
	mem      [Size]byte
	appStart uint32

	// Controller configuration set by Init: explicit write commands
	// instead of write-on-buffer-full, and read wait states for the
	// CPU clock.
	manualWrite bool
	waitStates  uint8
}

// NewController returns a controller whose array reads fully erased.
// appStart must be row-aligned; zero selects DefaultAppStart.
func NewController(appStart uint32) *Controller {
	if appStart == 0 {
		appStart = DefaultAppStart
	}
	c := &Controller{appStart: appStart}
	for i := range c.mem {
		c.mem[i] = 0xFF
	}
	return c
}

// AppStart returns the first address of the application region.
func (c *Controller) AppStart() uint32 { return c.appStart }

// Init configures manual write mode and read wait states.
func (c *Controller) Init() {
	c.manualWrite = true
	c.waitStates = 1
}

// EraseRange erases every row overlapping [addr, addr+n). addr is
// aligned down to a row boundary and the upper bound is clamped at the
// end of flash. n == 0 is a no-op.
func (c *Controller) EraseRange(addr uint32, n int) {
	if n <= 0 {
		return
	}
	row := addr &^ (RowSize - 1)
	end := uint64(addr) + uint64(n)
	if end > Size {
		end = Size
	}
	for uint64(row) < end {
		c.eraseRow(row)
		row += RowSize
	}
}

func (c *Controller) eraseRow(addr uint32) {
	for i := uint32(0); i < RowSize; i++ {
		c.mem[addr+i] = 0xFF
	}
}

// EraseApplication erases every row from the application start to the
// end of flash. No byte below the application start is touched.
func (c *Controller) EraseApplication() {
	for addr := c.appStart; addr < Size; addr += RowSize {
		c.eraseRow(addr)
	}
}

// Program writes data starting at the page-aligned address addr. Each
// page-sized chunk is staged into a 64-byte buffer with an 0xFF-filled
// tail and committed as a whole page. Bits are ANDed into the array:
// programming a page that was not erased first leaves the intersection,
// as the hardware does.
func (c *Controller) Program(addr uint32, data []byte) error {
	if addr%PageSize != 0 {
		return fmt.Errorf("flash: program address 0x%X not page aligned", addr)
	}
	if uint64(addr)+uint64(len(data)) > Size {
		return fmt.Errorf("flash: program of %d bytes at 0x%X exceeds flash size", len(data), addr)
	}
	if !c.manualWrite {
		return fmt.Errorf("flash: controller not initialized")
	}

	for len(data) > 0 {
		chunk := len(data)
		if chunk > PageSize {
			chunk = PageSize
		}

		var page [PageSize]byte
		for i := range page {
			page[i] = 0xFF
		}
		copy(page[:], data[:chunk])

		for i := uint32(0); i < PageSize; i++ {
			c.mem[addr+i] &= page[i]
		}

		addr += PageSize
		data = data[chunk:]
	}
	return nil
}

// SetAppValid writes the validity magic into the word immediately
// before the application start. Programming granularity is a page, so
// the containing page is staged with an 0xFF fill and the magic placed
// at its offset. Bits are ANDed in as with Program, so the marker only
// reads back correctly if its row was erased; EraseApplication does not
// erase that row, because the marker lies below the application start.
func (c *Controller) SetAppValid() error {
	flagAddr := c.appStart - 4
	pageAddr := flagAddr &^ (PageSize - 1)

	var page [PageSize]byte
	for i := range page {
		page[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(page[flagAddr-pageAddr:], AppValidMagic)

	return c.Program(pageAddr, page[:])
}

// AppValid reports whether the validity marker holds the magic.
func (c *Controller) AppValid() bool {
	return c.ReadWord(c.appStart-4) == AppValidMagic
}

// ReadWord returns the little-endian 32-bit word at addr.
func (c *Controller) ReadWord(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(c.mem[addr:])
}

// Bytes returns a copy of [addr, addr+n).
func (c *Controller) Bytes(addr uint32, n int) []byte {
	out := make([]byte, n)
	copy(out, c.mem[addr:int(addr)+n])
	return out
}
