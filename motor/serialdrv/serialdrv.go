// Package serialdrv drives motors through a PWM motor controller board
// attached over a serial line.
//
// The board takes one command per line: the channel number, F (forward),
// B (backward) or S (stop), and the duty cycle in percent. For example
// "0 F 80\n" runs the motor on channel 0 forward at 80% duty.
package serialdrv

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/edgeimpulse/rccar-go/motor"

	"github.com/cyclopcam/logs"
	"go.bug.st/serial"
)

// DefaultKick is how long a motor gets full power before settling at its
// requested speed. A motor at low duty may not start turning on its own.
const DefaultKick = 10 * time.Millisecond

// Board is a connection to a motor controller board. It is safe for
// concurrent use by the channels of the board.
type Board struct {
	log logs.Log

	mu sync.Mutex
	w  io.WriteCloser
}

// Open opens the serial port at path for a motor controller board.
func Open(path string, opts PortOptions, log logs.Log) (*Board, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %v", path, err)
	}
	return NewBoard(port, log), nil
}

// NewBoard returns a board that writes its commands to w.
func NewBoard(w io.WriteCloser, log logs.Log) *Board {
	return &Board{w: w, log: log}
}

func (b *Board) send(channel int, dir byte, duty int) error {
	line := fmt.Sprintf("%d %c %d\n", channel, dir, duty)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := io.WriteString(b.w, line); err != nil {
		return fmt.Errorf("writing motor command: %v", err)
	}
	return nil
}

// Close closes the port.
// Callers stop their motors first.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.w.Close()
}

// ChannelOpts has options for a board channel.
type ChannelOpts struct {
	// Time at full power before running at the requested speed. Zero disables
	// the kick; use DefaultKick for the drive motor.
	Kick time.Duration
}

// Channel is one motor output of a board.
type Channel struct {
	board *Board
	id    int
	opts  ChannelOpts
}

// Check that Channel implements interface motor.Driver.
var _ motor.Driver = (*Channel)(nil)

// Channel returns the motor output with number id.
func (b *Board) Channel(id int, opts *ChannelOpts) *Channel {
	c := &Channel{board: b, id: id}
	if opts != nil {
		c.opts = *opts
	}
	return c
}

// Duty converts a speed in (0,1] to a duty cycle percentage.
func Duty(speed float64) int {
	d := int(math.Round(speed * 100))
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}

func (c *Channel) run(dir byte, speed float64) error {
	duty := Duty(speed)
	if c.opts.Kick > 0 && duty < 100 {
		if err := c.board.send(c.id, dir, 100); err != nil {
			return err
		}
		time.Sleep(c.opts.Kick)
	}
	return c.board.send(c.id, dir, duty)
}

// Forward runs the motor forward.
func (c *Channel) Forward(speed float64) error {
	return c.run('F', speed)
}

// Backward runs the motor backward.
func (c *Channel) Backward(speed float64) error {
	return c.run('B', speed)
}

// Stop stops the motor.
func (c *Channel) Stop() error {
	return c.board.send(c.id, 'S', 0)
}
