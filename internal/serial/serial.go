// Package serial wraps the CDC-ACM virtual serial port the loader
// enumerates as, including the 1200-baud touch used to hold the device
// in the bootloader.
package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the session rate for protocol traffic. The loader
// does not care about the CDC rate except for the 1200-baud touch, but
// hosts still need a concrete number to open the port with.
const DefaultBaudRate = 115200

// Port wraps a serial port with loader-specific functionality.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

// Open opens a serial port with the specified baud rate.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read reads data from the serial port.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// ReadWithTimeout reads data with a specific timeout.
func (p *Port) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	defer p.port.SetReadTimeout(100 * time.Millisecond)

	return p.port.Read(buf)
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// SetDTR sets the DTR signal.
func (p *Port) SetDTR(value bool) error {
	return p.port.SetDTR(value)
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// Touch1200 performs the 1200-baud touch on portName: open the port at
// 1200 baud with DTR asserted, then close it again. The loader samples
// the requested line coding and stays resident; on boards where the
// application handles the touch itself, this also reboots a running
// application into the loader. The port typically re-enumerates, so the
// caller should wait before reopening.
func Touch1200(portName string) error {
	mode := &serial.Mode{
		BaudRate: 1200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return fmt.Errorf("failed to open port %s for touch: %w", portName, err)
	}
	port.SetDTR(true)
	time.Sleep(100 * time.Millisecond)
	port.SetDTR(false)
	if err := port.Close(); err != nil {
		return fmt.Errorf("failed to close touch port: %w", err)
	}
	time.Sleep(500 * time.Millisecond)
	return nil
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
