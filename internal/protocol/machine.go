package protocol

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/depbit/zeroboot/internal/ed25519"
	"github.com/depbit/zeroboot/internal/flash"
	"github.com/depbit/zeroboot/internal/sha2"
)

// Flash is the programming surface the machine drives. The simulated
// controller in internal/flash satisfies it.
type Flash interface {
	EraseApplication()
	Program(addr uint32, data []byte) error
	SetAppValid() error
}

// Config carries the build-time constants of the loader.
type Config struct {
	// AppStart is the first address of the application window; zero
	// selects flash.DefaultAppStart.
	AppStart uint32
	// FlashSize is the exclusive upper bound of legal addresses; zero
	// selects flash.Size.
	FlashSize uint32
	// PublicKey is the compiled-in Ed25519 verification key.
	PublicKey [32]byte
	// Jump transfers control to the application after a successful
	// DONE. It may be nil (the machine then simply keeps running).
	Jump func(appStart uint32)
}

type state int

const (
	stateWaitCmd state = iota
	stateWriteData
)

// Machine is the resident protocol state machine. It consumes one byte
// at a time from the transport and drives the flash engine, the image
// hasher, and the signature verifier. All state is fixed-size; nothing
// is allocated per byte.
type Machine struct {
	cfg   Config
	out   io.Writer
	flash Flash

	state  state
	cmd    [cmdBufSize]byte
	cmdLen int

	image *sha2.Digest256

	// Write transaction, live only in stateWriteData.
	dstAddr  uint32
	expLen   uint32
	expCRC   uint32
	received uint32
	crc      uint32
	page     [flash.PageSize]byte
	pageFill int

	one [1]byte
}

// NewMachine returns a machine in the wait-for-command state with a
// fresh image hash.
func NewMachine(cfg Config, f Flash, out io.Writer) *Machine {
	if cfg.AppStart == 0 {
		cfg.AppStart = flash.DefaultAppStart
	}
	if cfg.FlashSize == 0 {
		cfg.FlashSize = flash.Size
	}
	return &Machine{
		cfg:   cfg,
		out:   out,
		flash: f,
		image: sha2.New256(),
	}
}

func (m *Machine) reply(s string) error {
	_, err := io.WriteString(m.out, s)
	return err
}

// Process consumes one byte from the host. Protocol-level problems are
// answered on the wire; the returned error reports only transport or
// flash faults.
func (m *Machine) Process(c byte) error {
	if m.state == stateWriteData {
		return m.processData(c)
	}

	if c == '\n' {
		line := string(m.cmd[:m.cmdLen])
		m.cmdLen = 0
		return m.dispatch(line)
	}
	if c == '\r' {
		return nil
	}
	if m.cmdLen < cmdBufSize-1 {
		m.cmd[m.cmdLen] = c
		m.cmdLen++
	} else {
		// Overflow: drop the line silently and start over.
		m.cmdLen = 0
	}
	return nil
}

func (m *Machine) dispatch(line string) error {
	switch {
	case line == CmdHello:
		return m.reply(fmt.Sprintf(replyBootPattern, VersionMajor, VersionMinor))

	case line == CmdErase:
		m.flash.EraseApplication()
		// A new image begins with the erase.
		m.image.Reset()
		return m.reply(ReplyOKErase)

	case strings.HasPrefix(line, CmdWrite+" "):
		return m.handleWrite(line[len(CmdWrite)+1:])

	case strings.HasPrefix(line, CmdDone+" "):
		return m.handleDone(line[len(CmdDone)+1:])

	default:
		return m.reply(ReplyErrUnknown)
	}
}

func (m *Machine) handleWrite(args string) error {
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return m.reply(ReplyErrFormat)
	}
	addr, ok1 := parseUint32(fields[0])
	length, ok2 := parseUint32(fields[1])
	crc, ok3 := parseUint32(fields[2])
	if !ok1 || !ok2 || !ok3 {
		return m.reply(ReplyErrFormat)
	}

	// The block must lie inside the application window and start on a
	// page boundary; the flash engine programs whole pages only.
	if addr < m.cfg.AppStart || uint64(addr)+uint64(length) > uint64(m.cfg.FlashSize) ||
		addr%flash.PageSize != 0 {
		return m.reply(ReplyErrParam)
	}

	m.dstAddr = addr
	m.expLen = length
	m.expCRC = crc
	m.received = 0
	m.crc = crcInit
	m.pageFill = 0

	if length == 0 {
		// Nothing to receive; the empty block's CRC is checked at once.
		return m.finishBlock()
	}

	m.state = stateWriteData
	// No reply yet: it follows the data.
	return nil
}

func (m *Machine) processData(c byte) error {
	m.crc = crc32Update(m.crc, c)
	m.one[0] = c
	m.image.Write(m.one[:])

	m.page[m.pageFill] = c
	m.pageFill++
	m.received++

	if m.pageFill == flash.PageSize {
		if err := m.flushPage(); err != nil {
			return err
		}
	}

	if m.received == m.expLen {
		if m.pageFill > 0 {
			if err := m.flushPage(); err != nil {
				return err
			}
		}
		return m.finishBlock()
	}
	return nil
}

func (m *Machine) flushPage() error {
	if err := m.flash.Program(m.dstAddr, m.page[:m.pageFill]); err != nil {
		return err
	}
	m.dstAddr += uint32(m.pageFill)
	m.pageFill = 0
	return nil
}

// finishBlock checks the block CRC and returns to command mode. The
// bytes are already committed either way; a host that sees ERR CRC
// re-erases and resends.
func (m *Machine) finishBlock() error {
	m.state = stateWaitCmd
	if crc32Finalize(m.crc) == m.expCRC {
		return m.reply(ReplyOKWrite)
	}
	return m.reply(ReplyErrCRC)
}

func (m *Machine) handleDone(sigHex string) error {
	if len(sigHex) != 2*ed25519.SignatureSize {
		return m.reply(ReplyErrFormat)
	}
	var sig [ed25519.SignatureSize]byte
	if _, err := hex.Decode(sig[:], []byte(sigHex)); err != nil {
		return m.reply(ReplyErrFormat)
	}

	digest := m.image.Sum(nil)
	if !ed25519.Verify(m.cfg.PublicKey[:], digest, sig[:]) {
		// The host may retry with a corrected signature; the image
		// hash state is kept.
		return m.reply(ReplyErrSig)
	}

	if err := m.reply(ReplyOKDone); err != nil {
		return err
	}
	if err := m.flash.SetAppValid(); err != nil {
		return err
	}
	if m.cfg.Jump != nil {
		m.cfg.Jump(m.cfg.AppStart)
	}
	return nil
}
