// Package servo42 drives an MKS SERVO42-style closed-loop stepper over its
// UART command interface.
//
// Every frame is addr, function, data..., checksum where checksum is the low
// byte of the sum of all preceding bytes. Replies echo the address.
package servo42

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/cjeanneret/SmartStepper/internal/debug"
	"github.com/cjeanneret/SmartStepper/internal/hw/motor"
	"github.com/cjeanneret/SmartStepper/internal/hw/serial"
)

// Function codes.
const (
	FuncReadPulses = 0x33
	FuncMicrostep  = 0x84
	FuncEnable     = 0xF3
	FuncStop       = 0xF7
	FuncRun        = 0xFD
)

// Run replies.
const (
	runFailed   = 0x00
	runStarted  = 0x01
	runComplete = 0x02
)

const (
	maxGear = 0x7F
	// Full steps per revolution of the 1.8° motor the speed formula assumes.
	baseStepsPerRev = 200
	// rpm = gear * 30000 / (microsteps * 200)
	gearFactor = 30000
)

// ErrTimeout is returned when the board does not answer in time.
var ErrTimeout = errors.New("servo42: timeout waiting for reply")

// Config describes one board on the bus.
type Config struct {
	Address     byte
	Microsteps  int
	ReadTimeout time.Duration // per reply
}

// Servo implements motor.Driver.
type Servo struct {
	port        serial.Port
	cfg         Config
	rpm         float64
	initialized bool
	closed      bool
}

// New wraps an already opened port.
func New(port serial.Port, cfg Config) *Servo {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 200 * time.Millisecond
	}
	return &Servo{port: port, cfg: cfg}
}

// Factory returns a motor.Factory that opens the UART for each new handle.
// Pin assignments are ignored; the board is addressed over the bus.
func Factory(open serial.OpenFunc, sc serial.Config, address byte) motor.Factory {
	return func(p motor.Params) (motor.Driver, error) {
		port, err := open(sc)
		if err != nil {
			return nil, err
		}
		return New(port, Config{
			Address:     address,
			Microsteps:  p.Microsteps,
			ReadTimeout: sc.ReadTimeout,
		}), nil
	}
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Frame builds a command frame for function fn.
func Frame(addr, fn byte, data ...byte) []byte {
	f := make([]byte, 0, len(data)+3)
	f = append(f, addr, fn)
	f = append(f, data...)
	return append(f, checksum(f))
}

func (s *Servo) send(fn byte, data ...byte) error {
	if s.closed {
		return fmt.Errorf("servo42: port closed")
	}
	frame := Frame(s.cfg.Address, fn, data...)
	debug.Serial("tx", frame)
	if _, err := s.port.Write(frame); err != nil {
		return fmt.Errorf("servo42: write %#02x: %w", fn, err)
	}
	return s.port.Flush()
}

// readReply reads a reply carrying n payload bytes and returns the payload.
func (s *Servo) readReply(n int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, n+2)
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(buf) {
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		k, err := s.port.Read(buf[got:])
		got += k
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("servo42: read: %w", err)
		}
		if k == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	debug.Serial("rx", buf)

	if buf[0] != s.cfg.Address {
		return nil, fmt.Errorf("servo42: reply from address %#02x, want %#02x", buf[0], s.cfg.Address)
	}
	if want := checksum(buf[:n+1]); buf[n+1] != want {
		return nil, fmt.Errorf("servo42: bad checksum %#02x, want %#02x", buf[n+1], want)
	}
	return buf[1 : n+1], nil
}

// command sends fn and expects a one-byte status reply equal to 1.
func (s *Servo) command(fn byte, data ...byte) error {
	if err := s.send(fn, data...); err != nil {
		return err
	}
	reply, err := s.readReply(1, s.cfg.ReadTimeout)
	if err != nil {
		return err
	}
	if reply[0] != 1 {
		return fmt.Errorf("servo42: function %#02x rejected (status %d)", fn, reply[0])
	}
	return nil
}

func microstepByte(m int) (byte, error) {
	switch {
	case m == 256:
		return 0x00, nil
	case m >= 1 && m < 256:
		return byte(m), nil
	default:
		return 0, fmt.Errorf("servo42: microsteps %d out of range 1-256", m)
	}
}

// Initialize sets the subdivision and enables the motor.
func (s *Servo) Initialize() error {
	mstep, err := microstepByte(s.cfg.Microsteps)
	if err != nil {
		return err
	}
	if err := s.command(FuncMicrostep, mstep); err != nil {
		return fmt.Errorf("set microsteps: %w", err)
	}
	if err := s.command(FuncEnable, 0x01); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	s.initialized = true
	debug.Verbose("Servo42: initialized address=%#02x microsteps=%d", s.cfg.Address, s.cfg.Microsteps)
	return nil
}

// SetSpeed stores the speed used by the next run command.
func (s *Servo) SetSpeed(rpm float64) error {
	if math.IsNaN(rpm) || math.IsInf(rpm, 0) || rpm < 0 {
		return fmt.Errorf("servo42: invalid speed %v rpm", rpm)
	}
	s.rpm = rpm
	return nil
}

// Gear converts rpm to the board's 7-bit speed gear.
func Gear(rpm float64, microsteps int) byte {
	if rpm <= 0 {
		return 0
	}
	g := math.Round(rpm * float64(microsteps*baseStepsPerRev) / gearFactor)
	if g < 1 {
		return 1
	}
	if g > maxGear {
		return maxGear
	}
	return byte(g)
}

// MoveSteps issues a run-by-pulses command and waits for completion.
func (s *Servo) MoveSteps(steps int, forward bool) error {
	if !s.initialized {
		return motor.ErrNotInitialized
	}
	if steps < 0 || int64(steps) > math.MaxUint32 {
		return fmt.Errorf("servo42: step count %d out of range", steps)
	}
	if steps == 0 {
		return nil
	}
	gear := Gear(s.rpm, s.cfg.Microsteps)
	if gear == 0 {
		return fmt.Errorf("servo42: speed is 0 rpm")
	}

	val := gear
	if !forward {
		val |= 0x80
	}
	data := make([]byte, 5)
	data[0] = val
	binary.BigEndian.PutUint32(data[1:], uint32(steps))
	if err := s.send(FuncRun, data...); err != nil {
		return err
	}

	reply, err := s.readReply(1, s.cfg.ReadTimeout)
	if err != nil {
		return err
	}
	switch reply[0] {
	case runComplete:
		return nil
	case runStarted:
	default:
		return fmt.Errorf("servo42: run rejected (status %d)", reply[0])
	}

	reply, err = s.readReply(1, s.cfg.ReadTimeout+moveDuration(steps, gear))
	if err != nil {
		return fmt.Errorf("waiting for move completion: %w", err)
	}
	if reply[0] != runComplete {
		return fmt.Errorf("servo42: run did not complete (status %d)", reply[0])
	}
	return nil
}

// moveDuration estimates how long steps pulses take at gear, with 50% margin.
// The pulse rate only depends on the gear: gear * 30000 / 60 pulses/s.
func moveDuration(steps int, gear byte) time.Duration {
	pulsesPerSecond := float64(gear) * gearFactor / 60
	secs := float64(steps) / pulsesPerSecond * 1.5
	return time.Duration(secs * float64(time.Second))
}

// Position reads the board's pulse counter.
func (s *Servo) Position() (int, error) {
	if err := s.send(FuncReadPulses); err != nil {
		return 0, err
	}
	reply, err := s.readReply(4, s.cfg.ReadTimeout)
	if err != nil {
		return 0, err
	}
	return int(int32(binary.BigEndian.Uint32(reply))), nil
}

// Status queries the position from the board; speed is the last commanded speed.
func (s *Servo) Status() (motor.Status, error) {
	st := motor.Status{Speed: s.rpm, Initialized: s.initialized}
	if !s.initialized {
		return st, nil
	}
	pos, err := s.Position()
	if err != nil {
		return st, err
	}
	st.Position = pos
	return st, nil
}

// Shutdown stops and disables the motor, then closes the port. The port is
// closed even when the board does not answer.
func (s *Servo) Shutdown() error {
	if s.closed {
		return nil
	}
	var errs []error
	if s.initialized {
		if err := s.command(FuncStop); err != nil {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
		if err := s.command(FuncEnable, 0x00); err != nil {
			errs = append(errs, fmt.Errorf("disable: %w", err))
		}
	}
	s.initialized = false
	s.closed = true
	if err := s.port.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close port: %w", err))
	}
	return errors.Join(errs...)
}
