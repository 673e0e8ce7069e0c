package camera

import (
	"fmt"
	"strings"
)

// DeviceCap describes a capability of a device.
type DeviceCap struct {
	Type      string // "video/x-raw", "image/jpeg" or "nvarguscamerasrc"
	Width     int
	Height    int
	Framerate int
}

// Device is a camera device capable of recording images.
type Device struct {
	Name string
	ID   string
	Caps []DeviceCap
}

// String returns the device ID and name, with capabilities if known.
func (d Device) String() string {
	if len(d.Caps) == 0 {
		return fmt.Sprintf("%s: %s", d.ID, d.Name)
	}
	l := []string{}
	for _, c := range d.Caps {
		l = append(l, fmt.Sprintf("%dx%d@%dfps", c.Width, c.Height, c.Framerate))
	}
	return fmt.Sprintf("%s: %s (caps: %s)", d.ID, d.Name, strings.Join(l, " "))
}
