package command

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/SmartStepper/internal/logic/motion"
)

// Response status values.
const (
	StatusSuccess        = "success"
	StatusError          = "error"
	StatusNotInitialized = "not_initialized"
	StatusInitialized    = "initialized"
)

// Fixed messages that existing web clients match on.
const (
	MsgNotInitializedMove = "Motor not initialized. Please initialize first."
	MsgNotInitialized     = "Motor not initialized"
	MsgReady              = "Motor is ready"
	MsgStopped            = "Motor stopped"
)

// Response is the JSON body returned by every control endpoint.
type Response struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	Position    *int     `json:"position,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	Initialized *bool    `json:"initialized,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
}

func errorResponse(format string, args ...interface{}) Response {
	return Response{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// InitResponse reports the outcome of an init request. err may come from
// TranslateInit or from the session.
func InitResponse(rep motion.InitReport, err error) Response {
	var ve *ValidationError
	switch {
	case err == nil:
		return Response{
			Status:    StatusSuccess,
			Message:   "Stepper motor initialized successfully with pins: " + rep.Pins.String(),
			SessionID: rep.HandleID,
		}
	case errors.As(err, &ve):
		return errorResponse("Error initializing motor: %v", err)
	case errors.Is(err, motion.ErrInitFailed):
		return errorResponse("Failed to initialize stepper motor: %v", errors.Unwrap(err))
	default:
		return errorResponse("Error initializing motor: %v", err)
	}
}

// MoveResponse reports the outcome of a control request.
func MoveResponse(rep motion.MoveReport, err error) Response {
	var ve *ValidationError
	switch {
	case err == nil:
		dir := Backward
		if rep.Forward {
			dir = Forward
		}
		pos := rep.Position
		return Response{
			Status:   StatusSuccess,
			Message:  fmt.Sprintf("Motor moved %d steps %s at %g RPM", rep.Steps, dir, rep.SpeedRPM),
			Position: &pos,
		}
	case errors.As(err, &ve):
		return errorResponse("Error controlling motor: %v", err)
	case errors.Is(err, motion.ErrNotInitialized):
		return Response{Status: StatusError, Message: MsgNotInitializedMove}
	case errors.Is(err, motion.ErrMoveFailed):
		return errorResponse("Failed to move motor: %v", errors.Unwrap(err))
	default:
		return errorResponse("Error controlling motor: %v", err)
	}
}

// StatusResponse reports the session status. Driver values are passed through.
func StatusResponse(rep motion.StatusReport, err error) Response {
	if !rep.Ready() {
		return Response{Status: StatusNotInitialized, Message: MsgNotInitialized}
	}
	if err != nil {
		return errorResponse("Error reading motor status: %v", err)
	}
	pos, speed, up := rep.Driver.Position, rep.Driver.Speed, rep.Driver.Initialized
	return Response{
		Status:      StatusInitialized,
		Message:     MsgReady,
		Position:    &pos,
		Speed:       &speed,
		Initialized: &up,
		SessionID:   rep.HandleID,
	}
}

// StopResponse reports whether a live motor was stopped.
func StopResponse(stopped bool) Response {
	if !stopped {
		return Response{Status: StatusNotInitialized, Message: MsgNotInitialized}
	}
	return Response{Status: StatusSuccess, Message: MsgStopped}
}
