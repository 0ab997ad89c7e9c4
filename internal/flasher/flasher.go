// Package flasher drives the ZeroBoot text protocol from the host
// side: HELLO handshake, application erase, CRC-checked block writes,
// and the signed DONE that seals the image.
package flasher

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/depbit/zeroboot/internal/protocol"
)

// BlockSize is the payload size of one WRITE transaction. Any multiple
// of the flash page size works; 1 KiB keeps the per-block CRC window
// small enough to localize transfer errors.
const BlockSize = 1024

// Errors distinguished by reply so callers can react (retry, re-sign).
var (
	ErrCRCMismatch  = errors.New("block CRC rejected by loader")
	ErrRange        = errors.New("write range rejected by loader")
	ErrBadSignature = errors.New("signature rejected by loader")
)

// ProgressCallback reports completed and total block counts.
type ProgressCallback func(current, total int)

// Flasher speaks the loader protocol over any byte transport.
type Flasher struct {
	rw       io.ReadWriter
	br       *bufio.Reader
	progress ProgressCallback
}

// New creates a Flasher for the given transport.
func New(rw io.ReadWriter) *Flasher {
	return &Flasher{rw: rw, br: bufio.NewReader(rw)}
}

// SetProgressCallback sets the progress callback function.
func (f *Flasher) SetProgressCallback(cb ProgressCallback) {
	f.progress = cb
}

func (f *Flasher) reportProgress(current, total int) {
	if f.progress != nil {
		f.progress(current, total)
	}
}

// readReply reads one LF-terminated reply line, without the terminator.
func (f *Flasher) readReply() (string, error) {
	line, err := f.br.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading reply: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (f *Flasher) send(s string) error {
	if _, err := io.WriteString(f.rw, s); err != nil {
		return fmt.Errorf("writing command: %w", err)
	}
	return nil
}

// Hello performs the handshake and returns the loader version string
// (for example "1.0").
func (f *Flasher) Hello() (string, error) {
	if err := f.send(protocol.CmdHello + "\n"); err != nil {
		return "", err
	}
	reply, err := f.readReply()
	if err != nil {
		return "", err
	}
	version, ok := strings.CutPrefix(reply, "OK BOOT v")
	if !ok {
		return "", fmt.Errorf("unexpected HELLO reply %q", reply)
	}
	return version, nil
}

// EraseApp erases the application region and resets the loader's image
// hash.
func (f *Flasher) EraseApp() error {
	if err := f.send(protocol.CmdErase + "\n"); err != nil {
		return err
	}
	reply, err := f.readReply()
	if err != nil {
		return err
	}
	if reply+"\n" != protocol.ReplyOKErase {
		return fmt.Errorf("erase failed: %q", reply)
	}
	return nil
}

// WriteBlock programs one block at addr and waits for the loader's CRC
// verdict.
func (f *Flasher) WriteBlock(addr uint32, data []byte) error {
	crc := crc32.ChecksumIEEE(data)
	header := fmt.Sprintf("%s 0x%X %d 0x%08X\n", protocol.CmdWrite, addr, len(data), crc)
	if err := f.send(header); err != nil {
		return err
	}
	if _, err := f.rw.Write(data); err != nil {
		return fmt.Errorf("writing block data: %w", err)
	}

	reply, err := f.readReply()
	if err != nil {
		return err
	}
	switch reply + "\n" {
	case protocol.ReplyOKWrite:
		return nil
	case protocol.ReplyErrCRC:
		return fmt.Errorf("block at 0x%X: %w", addr, ErrCRCMismatch)
	case protocol.ReplyErrParam:
		return fmt.Errorf("block at 0x%X: %w", addr, ErrRange)
	default:
		return fmt.Errorf("block at 0x%X: unexpected reply %q", addr, reply)
	}
}

// FlashImage streams an image to the loader block by block, reporting
// progress per block. The caller erases first.
func (f *Flasher) FlashImage(data []byte, addr uint32) error {
	total := (len(data) + BlockSize - 1) / BlockSize
	for i := 0; i < total; i++ {
		start := i * BlockSize
		end := start + BlockSize
		if end > len(data) {
			end = len(data)
		}
		if err := f.WriteBlock(addr+uint32(start), data[start:end]); err != nil {
			return fmt.Errorf("flash block %d/%d failed: %w", i+1, total, err)
		}
		f.reportProgress(i+1, total)
	}
	return nil
}

// Done uploads the 64-byte Ed25519 signature over the image's SHA-256.
// On success the loader marks the application valid and jumps to it.
func (f *Flasher) Done(sig []byte) error {
	if len(sig) != 64 {
		return fmt.Errorf("signature must be 64 bytes, have %d", len(sig))
	}
	if err := f.send(protocol.CmdDone + " " + hex.EncodeToString(sig) + "\n"); err != nil {
		return err
	}
	reply, err := f.readReply()
	if err != nil {
		return err
	}
	switch reply + "\n" {
	case protocol.ReplyOKDone:
		return nil
	case protocol.ReplyErrSig:
		return ErrBadSignature
	default:
		return fmt.Errorf("unexpected DONE reply %q", reply)
	}
}
