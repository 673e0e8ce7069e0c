package motor

import (
	"fmt"
	"strings"
)

// Commands are the names accepted by Car.Command, in the order the remote
// shows them.
var Commands = []string{"forward", "backward", "stop", "left", "right", "straight"}

// Command runs a named command: forward, backward, stop, left, right or
// straight.
func (c *Car) Command(name string) error {
	switch strings.ToLower(name) {
	case "forward":
		c.DriveForward()
	case "backward":
		c.DriveBackward()
	case "stop":
		c.DriveStop()
	case "left":
		c.SteerLeft()
	case "right":
		c.SteerRight()
	case "straight":
		c.SteerStraight()
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}
