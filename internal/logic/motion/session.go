package motion

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cjeanneret/SmartStepper/internal/debug"
	"github.com/cjeanneret/SmartStepper/internal/hw/motor"
)

// State is the lifecycle state of the motor session.
//
//	Uninitialized -> Initialized  (Initialize ok)
//	Uninitialized -> Faulted      (Initialize failed)
//	Initialized   -> Initialized  (Initialize again: old handle torn down first)
//	Initialized   -> Faulted      (re-Initialize failed)
//	Initialized   -> Uninitialized (Stop)
//	Faulted       -> Initialized  (Initialize ok)
type State int

const (
	Uninitialized State = iota
	Initialized
	Faulted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrNotInitialized is returned by Move when no driver is live.
	ErrNotInitialized = errors.New("motor not initialized")
	// ErrInitFailed matches a *DriverError from Initialize.
	ErrInitFailed = errors.New("initialization failed")
	// ErrMoveFailed matches a *DriverError from Move.
	ErrMoveFailed = errors.New("move failed")
)

// DriverError wraps a failure reported by the motor driver.
type DriverError struct {
	Op  string // "create", "initialize", "set_speed", "move", "position", "status"
	Err error
}

func (e *DriverError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *DriverError) Unwrap() error { return e.Err }

// Is lets callers test the failure class with errors.Is.
func (e *DriverError) Is(target error) bool {
	switch target {
	case ErrInitFailed:
		return e.Op == "create" || e.Op == "initialize"
	case ErrMoveFailed:
		return e.Op == "set_speed" || e.Op == "move" || e.Op == "position"
	}
	return false
}

// InitRequest holds validated initialization parameters.
type InitRequest struct {
	Pins       motor.Pins
	Microsteps int
}

// MoveRequest holds a validated relative move.
type MoveRequest struct {
	Forward  bool
	SpeedRPM float64
	Steps    int
}

// InitReport describes a freshly initialized driver handle.
type InitReport struct {
	HandleID   string
	Pins       motor.Pins
	Microsteps int
	Replaced   bool // a previous handle was torn down
}

// MoveReport is the outcome of a successful move.
type MoveReport struct {
	Steps    int
	Forward  bool
	SpeedRPM float64
	Position int // read back from the driver
}

// StatusReport is a snapshot of the session. Driver is only meaningful when
// State is Initialized.
type StatusReport struct {
	State      State
	HandleID   string
	Pins       motor.Pins
	Microsteps int
	Driver     motor.Status
}

// Ready reports whether a driver handle is live.
func (r StatusReport) Ready() bool { return r.State == Initialized }

// Session owns the single motor driver handle of the process.
// All methods are safe for concurrent use.
type Session struct {
	mu         sync.Mutex
	newDriver  motor.Factory
	newID      func() string
	state      State
	driver     motor.Driver
	handleID   string
	pins       motor.Pins
	microsteps int
	speed      float64
	position   int
}

// Option configures a Session.
type Option func(*Session)

// WithIDGenerator replaces the uuid-based handle ID generator.
func WithIDGenerator(f func() string) Option {
	return func(s *Session) { s.newID = f }
}

// NewSession creates an Uninitialized session that builds drivers with f.
func NewSession(f motor.Factory, opts ...Option) *Session {
	s := &Session{
		newDriver: f,
		newID:     uuid.NewString,
		state:     Uninitialized,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize builds and initializes a new driver handle. A live handle is
// shut down first, so at most one handle exists at any time.
func (s *Session) Initialize(req InitRequest) (InitReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := s.driver != nil
	if replaced {
		debug.Info("Re-initializing motor: releasing handle %s", s.handleID)
		s.releaseLocked()
	}

	d, err := s.newDriver(motor.Params{Pins: req.Pins, Microsteps: req.Microsteps})
	if err != nil {
		s.state = Faulted
		return InitReport{}, &DriverError{Op: "create", Err: err}
	}
	if err := d.Initialize(); err != nil {
		// Release whatever the driver acquired before failing.
		if serr := d.Shutdown(); serr != nil {
			debug.Warn("shutdown after failed init: %v", serr)
		}
		s.state = Faulted
		return InitReport{}, &DriverError{Op: "initialize", Err: err}
	}

	s.driver = d
	s.handleID = s.newID()
	s.state = Initialized
	s.pins = req.Pins
	s.microsteps = req.Microsteps
	s.speed = 0
	s.position = 0

	if debug.IsEnabled(debug.LevelInfo) {
		debug.WithFields(debug.Fields{"handle": s.handleID, "pins": req.Pins.String(), "microsteps": req.Microsteps}).
			Info("motor initialized")
	}

	return InitReport{
		HandleID:   s.handleID,
		Pins:       req.Pins,
		Microsteps: req.Microsteps,
		Replaced:   replaced,
	}, nil
}

// Move sets the speed and performs a relative move. A driver failure leaves
// the session Initialized.
func (s *Session) Move(req MoveRequest) (MoveReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Initialized {
		return MoveReport{}, ErrNotInitialized
	}

	if err := s.driver.SetSpeed(req.SpeedRPM); err != nil {
		return MoveReport{}, &DriverError{Op: "set_speed", Err: err}
	}
	s.speed = req.SpeedRPM

	direction := "backward"
	if req.Forward {
		direction = "forward"
	}
	debug.Move(req.Steps, direction, req.SpeedRPM)

	moveErr := s.driver.MoveSteps(req.Steps, req.Forward)

	// The driver is the source of truth, even after a partial move.
	pos, posErr := s.driver.Position()
	if posErr == nil {
		s.position = pos
	}

	if moveErr != nil {
		return MoveReport{}, &DriverError{Op: "move", Err: moveErr}
	}
	if posErr != nil {
		return MoveReport{}, &DriverError{Op: "position", Err: posErr}
	}

	return MoveReport{
		Steps:    req.Steps,
		Forward:  req.Forward,
		SpeedRPM: req.SpeedRPM,
		Position: pos,
	}, nil
}

// Status reports the session state. The driver is only queried when a
// handle is live, and its answer is passed through verbatim.
func (s *Session) Status() (StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Initialized {
		return StatusReport{State: s.state}, nil
	}

	rep := StatusReport{
		State:      s.state,
		HandleID:   s.handleID,
		Pins:       s.pins,
		Microsteps: s.microsteps,
	}
	st, err := s.driver.Status()
	if err != nil {
		return rep, &DriverError{Op: "status", Err: err}
	}
	rep.Driver = st
	return rep, nil
}

// Stop shuts the driver down (best effort) and returns the session to
// Uninitialized. It reports whether a handle was live.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Initialized {
		return false
	}
	debug.Live("Stopping motor (handle %s)", s.handleID)
	s.releaseLocked()
	s.state = Uninitialized
	return true
}

// Close releases the driver at process shutdown.
func (s *Session) Close() error {
	s.Stop()
	return nil
}

// releaseLocked shuts down and drops the driver handle. Shutdown errors are
// logged and swallowed.
func (s *Session) releaseLocked() {
	if s.driver == nil {
		return
	}
	if err := s.driver.Shutdown(); err != nil {
		debug.Warn("motor shutdown (handle %s): %v", s.handleID, err)
	}
	s.driver = nil
	s.handleID = ""
	s.position = 0
	s.speed = 0
}
