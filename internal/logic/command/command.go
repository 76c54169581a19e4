// Package command turns raw request payloads into validated motor commands
// and session outcomes into API responses.
package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cjeanneret/SmartStepper/internal/config"
	"github.com/cjeanneret/SmartStepper/internal/hw/motor"
	"github.com/cjeanneret/SmartStepper/internal/logic/motion"
)

// Direction of a relative move.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

// Bool maps the direction to the driver's convention (forward = true).
func (d Direction) Bool() bool { return d == Forward }

// Payload field names.
const (
	FieldBody       = "body"
	FieldStepPin    = "step_pin"
	FieldDirPin     = "dir_pin"
	FieldEnablePin  = "enable_pin"
	FieldMicrosteps = "microsteps"
	FieldDirection  = "direction"
	FieldSpeed      = "speed"
	FieldSteps      = "steps"
)

// ValidationError reports a payload field that could not be used.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InitCommand initializes the motor.
type InitCommand struct {
	Pins       motor.Pins
	Microsteps int
}

// Request converts the command for the session.
func (c InitCommand) Request() motion.InitRequest {
	return motion.InitRequest{Pins: c.Pins, Microsteps: c.Microsteps}
}

// MoveCommand performs a relative move.
type MoveCommand struct {
	Direction Direction
	SpeedRPM  float64
	Steps     int
}

// Request converts the command for the session.
func (c MoveCommand) Request() motion.MoveRequest {
	return motion.MoveRequest{Forward: c.Direction.Bool(), SpeedRPM: c.SpeedRPM, Steps: c.Steps}
}

// StatusQuery asks for the session status.
type StatusQuery struct{}

// StopCommand releases the motor.
type StopCommand struct{}

// TranslateStatus returns the status query. Neither it nor TranslateStop
// reads a payload.
func TranslateStatus() StatusQuery { return StatusQuery{} }

// TranslateStop returns the stop command.
func TranslateStop() StopCommand { return StopCommand{} }

// Execute queries s and builds the status response.
func (StatusQuery) Execute(s *motion.Session) Response {
	return StatusResponse(s.Status())
}

// Execute stops s and builds the stop response.
func (StopCommand) Execute(s *motion.Session) Response {
	return StopResponse(s.Stop())
}

// fields is a decoded JSON object. JSON null values are dropped so they
// count as absent.
type fields map[string]interface{}

func decode(payload []byte) (fields, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return fields{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, invalid(FieldBody, "malformed JSON: %v", err)
	}
	if dec.More() {
		return nil, invalid(FieldBody, "unexpected data after JSON object")
	}
	if raw == nil {
		return fields{}, nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, invalid(FieldBody, "expected a JSON object")
	}
	f := make(fields, len(obj))
	for k, v := range obj {
		if v != nil {
			f[k] = v
		}
	}
	return f, nil
}

// intField returns the integer value of key, or def when it is absent.
// Integers may be sent as JSON numbers or numeric strings.
func (f fields) intField(key string, def int) (int, error) {
	v, ok := f[key]
	if !ok {
		return def, nil
	}
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return 0, invalid(key, "must be an integer, got %T", v)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// Accept integral floats such as 200.0.
		fv, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || fv != math.Trunc(fv) || math.Abs(fv) > math.MaxInt32 {
			return 0, invalid(key, "must be an integer, got %q", s)
		}
		n = int(fv)
	}
	return n, nil
}

// floatField returns the float value of key, or def when it is absent.
func (f fields) floatField(key string, def float64) (float64, error) {
	v, ok := f[key]
	if !ok {
		return def, nil
	}
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return 0, invalid(key, "must be a number, got %T", v)
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, invalid(key, "must be a number, got %q", s)
	}
	return x, nil
}

func (f fields) stringField(key, def string) (string, error) {
	v, ok := f[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid(key, "must be a string, got %T", v)
	}
	return s, nil
}

// TranslateInit builds an InitCommand, filling absent fields from the
// configured default pins and microsteps.
func TranslateInit(payload []byte, cfg *config.Config) (InitCommand, error) {
	f, err := decode(payload)
	if err != nil {
		return InitCommand{}, err
	}

	// Per-field defaults.
	pins := cfg.Motor.DefaultPins
	table := []struct {
		field string
		def   int
	}{
		{FieldStepPin, pins.StepPin},
		{FieldDirPin, pins.DirPin},
		{FieldEnablePin, pins.EnablePin},
		{FieldMicrosteps, cfg.Motor.DefaultSettings.Microsteps},
	}
	vals := make(map[string]int, len(table))
	for _, d := range table {
		v, err := f.intField(d.field, d.def)
		if err != nil {
			return InitCommand{}, err
		}
		vals[d.field] = v
	}

	cmd := InitCommand{
		Pins: motor.Pins{
			Step:   vals[FieldStepPin],
			Dir:    vals[FieldDirPin],
			Enable: vals[FieldEnablePin],
		},
		Microsteps: vals[FieldMicrosteps],
	}

	for _, p := range []struct {
		field string
		v     int
	}{
		{FieldStepPin, cmd.Pins.Step},
		{FieldDirPin, cmd.Pins.Dir},
		{FieldEnablePin, cmd.Pins.Enable},
	} {
		if p.v < 0 {
			return InitCommand{}, invalid(p.field, "must be >= 0, got %d", p.v)
		}
	}
	if cmd.Microsteps < 1 {
		return InitCommand{}, invalid(FieldMicrosteps, "must be >= 1, got %d", cmd.Microsteps)
	}
	return cmd, nil
}

// ParseDirection maps a direction string. "forward" in any case is Forward.
// Other strings are Backward unless strict is set, in which case only
// "backward" is accepted.
func ParseDirection(s string, strict bool) (Direction, error) {
	switch strings.ToLower(s) {
	case "forward":
		return Forward, nil
	case "backward":
		return Backward, nil
	}
	if strict {
		return Backward, invalid(FieldDirection, "must be \"forward\" or \"backward\", got %q", s)
	}
	return Backward, nil
}

// TranslateMove builds a MoveCommand, filling absent fields from the
// configured defaults and enforcing the advertised speed and step ranges.
func TranslateMove(payload []byte, cfg *config.Config) (MoveCommand, error) {
	f, err := decode(payload)
	if err != nil {
		return MoveCommand{}, err
	}

	dirStr, err := f.stringField(FieldDirection, Forward.String())
	if err != nil {
		return MoveCommand{}, err
	}
	dir, err := ParseDirection(dirStr, cfg.Motor.StrictDirection)
	if err != nil {
		return MoveCommand{}, err
	}

	speed, err := f.floatField(FieldSpeed, cfg.Motor.DefaultSettings.DefaultSpeed)
	if err != nil {
		return MoveCommand{}, err
	}
	if speed < 0 {
		return MoveCommand{}, invalid(FieldSpeed, "must be >= 0, got %g", speed)
	}
	if r := cfg.WebInterface.SpeedRange; !r.Contains(speed) {
		return MoveCommand{}, invalid(FieldSpeed, "%g is outside the allowed range [%g, %g]", speed, r.Min, r.Max)
	}

	steps, err := f.intField(FieldSteps, cfg.Motor.DefaultSettings.DefaultSteps)
	if err != nil {
		return MoveCommand{}, err
	}
	if steps < 0 {
		return MoveCommand{}, invalid(FieldSteps, "must be >= 0, got %d", steps)
	}
	if r := cfg.WebInterface.StepsRange; !r.Contains(steps) {
		return MoveCommand{}, invalid(FieldSteps, "%d is outside the allowed range [%d, %d]", steps, r.Min, r.Max)
	}

	return MoveCommand{Direction: dir, SpeedRPM: speed, Steps: steps}, nil
}
