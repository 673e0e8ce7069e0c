package motor

import (
	"sync"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"

	"github.com/cyclopcam/logs"
)

// StraightenPulse is how long the steer motor runs the opposite way before
// stopping, when steering straight after a turn. Without it the steering
// rack stays stuck near the side it was turned to.
const StraightenPulse = 10 * time.Millisecond

// Axis is one motor with its last commanded status. Commands and the status
// read are serialized, so a status read always reflects a command that was
// fully sent to the driver.
type Axis struct {
	name   string
	driver Driver
	speed  float64
	log    logs.Log

	mu     sync.Mutex
	status Status
}

// NewAxis returns an axis for driver, running at speed in (0,1] for Forward
// and Backward. A speed of 0 means full speed.
func NewAxis(name string, driver Driver, speed float64, log logs.Log) *Axis {
	if speed <= 0 || speed > 1 {
		speed = 1
	}
	return &Axis{name: name, driver: driver, speed: speed, log: log}
}

// Forward runs the motor forward.
func (a *Axis) Forward() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(Forward)
}

// Backward runs the motor backward.
func (a *Axis) Backward() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(Backward)
}

// Stop stops the motor.
func (a *Axis) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(Off)
}

// Status returns the last commanded status.
func (a *Axis) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Speed returns the speed used for Forward and Backward.
func (a *Axis) Speed() float64 {
	return a.speed
}

// set must be called with mu held. Driver errors are logged, the status
// follows the command regardless: the car must keep reporting what it was
// told to do for recording labels to stay consistent.
func (a *Axis) set(s Status) {
	var err error
	switch s {
	case Forward:
		err = a.driver.Forward(a.speed)
	case Backward:
		err = a.driver.Backward(a.speed)
	default:
		err = a.driver.Stop()
	}
	if err != nil && a.log != nil {
		a.log.Errorf("motor: %s %s: %v", a.name, s, err)
	}
	a.status = s
}

// CarOpts has options for a new Car.
type CarOpts struct {
	// Fraction of full power for the drive motor, in (0,1]. Default 1.
	// Steering always runs at full power.
	Speed float64

	// If nil, driver errors are not logged.
	Log logs.Log
}

// Car combines a drive and a steer motor. All methods are safe for concurrent
// use; the two axes are locked independently.
type Car struct {
	drive *Axis
	steer *Axis
	log   logs.Log
}

// NewCar returns a car with both motors stopped. The drivers are not sent an
// initial command.
func NewCar(drive, steer Driver, opts *CarOpts) *Car {
	var o CarOpts
	if opts != nil {
		o = *opts
	}
	return &Car{
		drive: NewAxis("drive", drive, o.Speed, o.Log),
		steer: NewAxis("steer", steer, 1, o.Log),
		log:   o.Log,
	}
}

// DriveForward runs the drive motor forward.
func (c *Car) DriveForward() {
	c.drive.Forward()
}

// DriveBackward runs the drive motor backward.
func (c *Car) DriveBackward() {
	c.drive.Backward()
}

// DriveStop stops the drive motor.
func (c *Car) DriveStop() {
	c.drive.Stop()
}

// SteerLeft turns the wheels left.
func (c *Car) SteerLeft() {
	c.steer.Forward()
}

// SteerRight turns the wheels right.
func (c *Car) SteerRight() {
	c.steer.Backward()
}

// SteerStraight lets the wheels center. If the car was turning, the steer
// motor first runs the opposite way for StraightenPulse. The steer axis stays
// locked for the whole sequence, so Status reports the old direction until
// the motor is stopped, never the pulse.
func (c *Car) SteerStraight() {
	a := c.steer
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.status {
	case Forward:
		a.pulse(Backward)
	case Backward:
		a.pulse(Forward)
	}
	a.set(Off)
}

// pulse must be called with mu held. It runs the motor without recording the
// status.
func (a *Axis) pulse(s Status) {
	prev := a.status
	a.set(s)
	a.status = prev
	time.Sleep(StraightenPulse)
}

// Steer applies the steering command for label.
func (c *Car) Steer(l rccar.Label) {
	switch l {
	case rccar.Left:
		c.SteerLeft()
	case rccar.Right:
		c.SteerRight()
	default:
		c.SteerStraight()
	}
}

// Status returns the current drive status and steering direction.
func (c *Car) Status() CarState {
	return CarState{
		Drive: c.drive.Status(),
		Steer: SteerLabel(c.steer.Status()),
	}
}

// Speed returns the drive speed factor.
func (c *Car) Speed() float64 {
	return c.drive.Speed()
}

// Halt stops both motors, for shutdown.
func (c *Car) Halt() {
	c.drive.Stop()
	c.SteerStraight()
}
