package gstreamer

import (
	"strings"
	"testing"

	"github.com/edgeimpulse/rccar-go/camera"

	"github.com/stretchr/testify/require"
)

const monitorOutput = `Probing devices...


Device found:

	name  : USB2.0 PC CAMERA: USB2.0 PC CAM
	class : Video/Source
	caps  : video/x-raw, format=(string)YUY2, width=(int)640, height=(int)480, pixel-aspect-ratio=(fraction)1/1, framerate=(fraction)30/1;
	        video/x-raw, format=(string)YUY2, width=(int)160, height=(int)120, pixel-aspect-ratio=(fraction)1/1, framerate=(fraction)30/1;
	        image/jpeg, width=(int)640, height=(int)480, framerate=(fraction)30/1;
	properties:
		udev-probed = true
		device.bus_path = platform-3f980000.usb-usb-0:1.4:1.0
		device.path = /dev/video0
	gst-launch-1.0 v4l2src device=/dev/video0 ! ...


Device found:

	name  : Monitor of Built-in Audio
	class : Audio/Source
	caps  : audio/x-raw, format=(string){ S16LE }, layout=(string)interleaved, rate=(int)[ 1, 384000 ], channels=(int)[ 1, 32 ];
	properties:
		device.path = hw:0
`

func TestParseDevices(t *testing.T) {
	devs, err := parseDevices([]byte(monitorOutput))
	require.NoError(t, err)
	require.Len(t, devs, 1)
	require.Equal(t, "/dev/video0", devs[0].ID)
	require.Equal(t, "USB2.0 PC CAMERA: USB2.0 PC CAM", devs[0].Name)
	require.Equal(t, []camera.DeviceCap{
		{Type: "video/x-raw", Width: 640, Height: 480, Framerate: 30},
		{Type: "video/x-raw", Width: 160, Height: 120, Framerate: 30},
	}, devs[0].Caps)

	_, err = parseDevices([]byte("Probing devices...\n"))
	require.Error(t, err)
}

func TestPipeline(t *testing.T) {
	devs, err := parseDevices([]byte(monitorOutput))
	require.NoError(t, err)

	c := closestCap(devs[0].Caps, 64, 64)
	require.Equal(t, 160, c.Width)

	args := strings.Join(pipeline("/dev/video0", c, RecorderOpts{Width: 64, Height: 64, Framerate: 20}, "/tmp/x"), " ")
	require.Contains(t, args, "video/x-raw,width=160,height=120")
	require.Contains(t, args, "framerate=20/1")
	require.Contains(t, args, "format=GRAY8,width=64,height=64")
	require.Contains(t, args, "location=/tmp/x/frame%05d.jpg")
}
