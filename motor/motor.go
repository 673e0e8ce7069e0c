// Package motor keeps the state of the car's two motors and sends commands to
// their drivers.
//
// The car has a drive motor, moving it forward or backward, and a steer motor
// that turns the front wheels. Running the steer motor forward turns left,
// backward turns right, and a stopped steer motor lets the wheels center.
package motor

import (
	"fmt"

	rccar "github.com/edgeimpulse/rccar-go"
)

// Status is the direction a motor is running in.
type Status int

const (
	Off Status = iota
	Forward
	Backward
)

// String returns "off", "forward" or "backward".
func (s Status) String() string {
	switch s {
	case Off:
		return "off"
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SteerLabel translates the status of the steer motor to the direction the
// car is steering in: Forward is Left, Backward is Right, Off is Straight.
func SteerLabel(s Status) rccar.Label {
	switch s {
	case Forward:
		return rccar.Left
	case Backward:
		return rccar.Right
	}
	return rccar.Straight
}

// CarState is a snapshot of both motors.
type CarState struct {
	Drive Status      `json:"drive"`
	Steer rccar.Label `json:"steer"`
}

// String returns eg "forward/left".
func (s CarState) String() string {
	return s.Drive.String() + "/" + s.Steer.String()
}

// Driver runs a single physical motor. Speed is a fraction of full power in
// (0,1].
type Driver interface {
	Forward(speed float64) error
	Backward(speed float64) error
	Stop() error
}
