package driver

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSampleRate = errors.New("invalid sample rate")
	ErrInvalidBurstSize  = errors.New("invalid burst size")
	ErrAlreadyStarted    = errors.New("session already started")
	ErrNotStarted        = errors.New("session not started")
	ErrSessionActive     = errors.New("not allowed while a session is active")
	ErrLocked            = errors.New("could not lock device")
)

// SettingsError is returned when the board answers a settings request with
// an error. The payload, if any, is returned alongside it.
type SettingsError struct {
	Direction string
	Request   string
	Message   string
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("%s settings %q failed: %s", e.Direction, e.Request, e.Message)
}
