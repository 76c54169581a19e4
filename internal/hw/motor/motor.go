// Package motor defines the contract between the motor session and the
// hardware drivers (GPIO stepper, UART servo).
package motor

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned by drivers asked to move before Initialize.
var ErrNotInitialized = errors.New("driver not initialized")

// Pins is a STEP/DIR/ENABLE assignment (BCM numbering). Enable 0 = not wired.
type Pins struct {
	Step   int `json:"step_pin"`
	Dir    int `json:"dir_pin"`
	Enable int `json:"enable_pin"`
}

func (p Pins) String() string {
	return fmt.Sprintf("step=%d, dir=%d, enable=%d", p.Step, p.Dir, p.Enable)
}

// Params is what a driver is constructed with.
type Params struct {
	Pins       Pins
	Microsteps int
}

// Status is the driver's own view of the motor.
type Status struct {
	Position    int
	Speed       float64 // RPM
	Initialized bool
}

// Driver is a single addressable motor. Implementations need not be safe for
// concurrent use; the session serializes every call.
type Driver interface {
	// Initialize prepares the hardware. It is called exactly once per handle.
	Initialize() error
	// SetSpeed sets the speed used by subsequent moves, in RPM.
	SetSpeed(rpm float64) error
	// MoveSteps performs a relative move and blocks until it completes.
	MoveSteps(steps int, forward bool) error
	// Position returns the authoritative step position.
	Position() (int, error)
	Status() (Status, error)
	// Shutdown releases the hardware. The handle is unusable afterwards.
	Shutdown() error
}

// Factory builds an uninitialized driver for the given parameters.
type Factory func(p Params) (Driver, error)
