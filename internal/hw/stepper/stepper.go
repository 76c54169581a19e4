package stepper

import (
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/SmartStepper/internal/debug"
	"github.com/cjeanneret/SmartStepper/internal/hw/gpio"
	"github.com/cjeanneret/SmartStepper/internal/hw/motor"
)

// Config holds the hardware configuration for a stepper motor.
type Config struct {
	StepPin       int
	DirPin        int
	EnablePin     int // A4988 ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	StepsPerRev   int
	Microstepping int
	// Sleep waits between STEP edges. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Stepper drives an A4988/DRV8825 style STEP/DIR/ENABLE driver.
// It implements motor.Driver.
type Stepper struct {
	gpio        gpio.Driver
	cfg         Config
	sleep       func(time.Duration)
	rpm         float64
	position    int
	initialized bool
}

// NewStepper creates a stepper bound to g. Pins are not touched until Initialize.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Stepper{
		gpio:  g,
		cfg:   cfg,
		sleep: sleep,
	}
}

// Factory returns a motor.Factory building steppers on g.
// sleep may be nil.
func Factory(g gpio.Driver, stepsPerRev int, sleep func(time.Duration)) motor.Factory {
	return func(p motor.Params) (motor.Driver, error) {
		if g == nil {
			return nil, fmt.Errorf("stepper: no GPIO driver")
		}
		return NewStepper(g, Config{
			StepPin:       p.Pins.Step,
			DirPin:        p.Pins.Dir,
			EnablePin:     p.Pins.Enable,
			StepsPerRev:   stepsPerRev,
			Microstepping: p.Microsteps,
			Sleep:         sleep,
		}), nil
	}
}

func (s *Stepper) validate() error {
	c := s.cfg
	if c.StepPin == c.DirPin {
		return fmt.Errorf("stepper: step and dir pins must differ (both %d)", c.StepPin)
	}
	if c.EnablePin > 0 && (c.EnablePin == c.StepPin || c.EnablePin == c.DirPin) {
		return fmt.Errorf("stepper: enable pin %d collides with step/dir", c.EnablePin)
	}
	if c.StepsPerRev <= 0 {
		return fmt.Errorf("stepper: steps per revolution must be > 0, got %d", c.StepsPerRev)
	}
	if c.Microstepping < 1 {
		return fmt.Errorf("stepper: microstepping must be >= 1, got %d", c.Microstepping)
	}
	return nil
}

// Initialize configures the pins as outputs and enables the driver.
func (s *Stepper) Initialize() error {
	if err := s.validate(); err != nil {
		return err
	}
	if err := s.gpio.SetupPin(s.cfg.StepPin, gpio.Output); err != nil {
		return fmt.Errorf("setup step pin: %w", err)
	}
	if err := s.gpio.SetupPin(s.cfg.DirPin, gpio.Output); err != nil {
		return fmt.Errorf("setup dir pin: %w", err)
	}
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return fmt.Errorf("reset step pin: %w", err)
	}

	// A4988 ENABLE: active LOW. LOW = enabled, HIGH = disabled.
	if s.cfg.EnablePin > 0 {
		if err := s.gpio.SetupPin(s.cfg.EnablePin, gpio.Output); err != nil {
			return fmt.Errorf("setup enable pin: %w", err)
		}
	}
	if err := s.Enable(); err != nil {
		return fmt.Errorf("enable driver: %w", err)
	}

	s.position = 0
	s.initialized = true
	debug.Verbose("Stepper: initialized step=%d dir=%d enable=%d microsteps=%d",
		s.cfg.StepPin, s.cfg.DirPin, s.cfg.EnablePin, s.cfg.Microstepping)
	return nil
}

// SetSpeed sets the rotation speed in RPM.
func (s *Stepper) SetSpeed(rpm float64) error {
	if math.IsNaN(rpm) || math.IsInf(rpm, 0) || rpm < 0 {
		return fmt.Errorf("stepper: invalid speed %v rpm", rpm)
	}
	s.rpm = rpm
	return nil
}

// halfPeriod is the time STEP stays high (and then low) for one step.
func (s *Stepper) halfPeriod() time.Duration {
	stepsPerSecond := s.rpm * float64(s.cfg.StepsPerRev*s.cfg.Microstepping) / 60
	return time.Duration(float64(time.Second) / (2 * stepsPerSecond))
}

// MoveSteps emits steps pulses in the given direction. The position counts
// only pulses that were actually emitted, so a GPIO failure mid-move leaves
// it accurate.
func (s *Stepper) MoveSteps(steps int, forward bool) error {
	if !s.initialized {
		return motor.ErrNotInitialized
	}
	if steps < 0 {
		return fmt.Errorf("stepper: negative step count %d", steps)
	}
	if steps == 0 {
		return nil
	}
	if s.rpm == 0 {
		return fmt.Errorf("stepper: speed is 0 rpm")
	}

	dirLevel, delta, direction := gpio.Low, -1, "backward"
	if forward {
		dirLevel, delta, direction = gpio.High, 1, "forward"
	}

	debug.Printf("Stepper: moving %d steps (%s) on pin %d", steps, direction, s.cfg.StepPin)

	if err := s.gpio.WritePin(s.cfg.DirPin, dirLevel); err != nil {
		return err
	}

	half := s.halfPeriod()
	for i := 0; i < steps; i++ {
		if err := s.stepPulse(half); err != nil {
			return fmt.Errorf("step %d/%d: %w", i+1, steps, err)
		}
		s.position += delta
	}
	return nil
}

func (s *Stepper) stepPulse(half time.Duration) error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	s.sleep(half)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	s.sleep(half)
	return nil
}

// Position returns the step count since Initialize (forward positive).
func (s *Stepper) Position() (int, error) {
	return s.position, nil
}

// Status reports position, speed and initialization state.
func (s *Stepper) Status() (motor.Status, error) {
	return motor.Status{
		Position:    s.position,
		Speed:       s.rpm,
		Initialized: s.initialized,
	}, nil
}

// Shutdown disables the driver (motor freewheels) and leaves STEP low.
func (s *Stepper) Shutdown() error {
	if !s.initialized {
		return nil
	}
	s.initialized = false
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return fmt.Errorf("reset step pin: %w", err)
	}
	return s.Disable()
}

// Enable turns on the motor driver (A4988 ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (A4988 ENABLE=HIGH). Motors freewheel, no holding torque.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}
