package serial

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"github.com/cjeanneret/SmartStepper/internal/debug"
)

// Port is a byte stream to a UART device. Tests substitute an in-memory fake.
type Port interface {
	io.ReadWriteCloser

	// Flush discards or drains buffered data.
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate (SERVO42 boards ship at 38400)
	Baud int

	// ReadTimeout bounds a single Read call (0 = blocking)
	ReadTimeout time.Duration
}

// OpenFunc opens a port. Open is the production implementation.
type OpenFunc func(cfg Config) (Port, error)

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port *serial.Port
	cfg  Config
}

// Open opens a native serial port
func Open(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial: device path is empty")
	}
	if cfg.Baud <= 0 {
		return nil, fmt.Errorf("serial: invalid baud rate %d", cfg.Baud)
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	debug.Verbose("Serial: opened %s at %d baud", cfg.Device, cfg.Baud)

	return &NativePort{port: port, cfg: cfg}, nil
}

func (p *NativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *NativePort) Close() error {
	if p.port == nil {
		return nil
	}
	debug.Verbose("Serial: closing %s", p.cfg.Device)
	err := p.port.Close()
	p.port = nil
	return err
}

// Flush is a no-op: every Write on a tarm/serial port is already unbuffered.
func (p *NativePort) Flush() error {
	return nil
}
