// Package detect finds serial ports with a ZeroBoot loader behind them
// by attempting the HELLO handshake.
package detect

import (
	"fmt"
	"strings"
	"time"

	"github.com/depbit/zeroboot/internal/protocol"
	"github.com/depbit/zeroboot/internal/serial"
)

// Result represents a detected loader.
type Result struct {
	Port    string
	Version string
}

// DetectDevice tries every available port and returns the first loader
// that answers HELLO.
func DetectDevice(baudRate int) (*Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, portName := range ports {
		result, err := tryPort(portName, baudRate)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("no loader found (last error: %w)", lastErr)
	}
	return nil, fmt.Errorf("no loader found")
}

// DetectOnPort checks a specific port for a loader.
func DetectOnPort(portName string, baudRate int) (*Result, error) {
	return tryPort(portName, baudRate)
}

// ListDevices scans all ports and returns every loader that answered.
func ListDevices(baudRate int) ([]Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, portName := range ports {
		result, err := tryPort(portName, baudRate)
		if err == nil {
			results = append(results, *result)
		}
	}

	return results, nil
}

func tryPort(portName string, baudRate int) (*Result, error) {
	port, err := serial.Open(portName, baudRate)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	version, err := hello(port)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", portName, err)
	}

	return &Result{Port: portName, Version: version}, nil
}

// hello sends HELLO and parses the banner. A port with an application
// (or something else entirely) behind it stays silent or answers
// garbage; both count as "not a loader".
func hello(port *serial.Port) (string, error) {
	port.Flush()
	if _, err := port.Write([]byte(protocol.CmdHello + "\n")); err != nil {
		return "", err
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	var reply []byte
	for time.Now().Before(deadline) {
		var buf [64]byte
		n, err := port.ReadWithTimeout(buf[:], 100*time.Millisecond)
		if n > 0 {
			reply = append(reply, buf[:n]...)
			if idx := strings.IndexByte(string(reply), '\n'); idx >= 0 {
				line := strings.TrimRight(string(reply[:idx]), "\r")
				version, ok := strings.CutPrefix(line, "OK BOOT v")
				if !ok {
					return "", fmt.Errorf("unexpected banner %q", line)
				}
				return version, nil
			}
		}
		if err != nil && n == 0 {
			continue
		}
	}

	return "", fmt.Errorf("no HELLO response")
}
