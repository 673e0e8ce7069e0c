package motor

import (
	"fmt"
	"sync"

	"github.com/cyclopcam/logs"
)

// LogDriver is a Driver without hardware. It keeps the commands it was given
// and logs them, for dry runs and tests.
type LogDriver struct {
	Name string
	Log  logs.Log // If nil, nothing is logged.

	mu       sync.Mutex
	commands []string
}

var _ Driver = (*LogDriver)(nil)

func (d *LogDriver) add(cmd string) error {
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	d.mu.Unlock()
	if d.Log != nil {
		d.Log.Debugf("motor: %s: %s", d.Name, cmd)
	}
	return nil
}

// Forward records "forward <speed>".
func (d *LogDriver) Forward(speed float64) error {
	return d.add(fmt.Sprintf("forward %.2f", speed))
}

// Backward records "backward <speed>".
func (d *LogDriver) Backward(speed float64) error {
	return d.add(fmt.Sprintf("backward %.2f", speed))
}

// Stop records "stop".
func (d *LogDriver) Stop() error {
	return d.add("stop")
}

// Commands returns the commands so far, oldest first.
func (d *LogDriver) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// Reset forgets the commands so far.
func (d *LogDriver) Reset() {
	d.mu.Lock()
	d.commands = nil
	d.mu.Unlock()
}
