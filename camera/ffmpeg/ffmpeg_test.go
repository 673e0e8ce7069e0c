package ffmpeg

import (
	"testing"

	"github.com/edgeimpulse/rccar-go/camera"

	"github.com/stretchr/testify/require"
)

func TestParseDevices(t *testing.T) {
	const s = `bcm2835-codec-decode (platform:bcm2835-codec):
	/dev/video10
	/dev/video11
	/dev/media2

USB2.0 PC CAMERA: USB2.0 PC CAM (usb-3f980000.usb-1.4):
	/dev/video0
	/dev/video1
	/dev/media3
`

	devs, err := parseDevices(s)
	require.NoError(t, err)
	require.Equal(t, []camera.Device{
		{ID: "/dev/video0", Name: "USB2.0 PC CAMERA: USB2.0 PC CAM (usb-3f980000.usb-1.4) (/dev/video0)"},
		{ID: "/dev/video1", Name: "USB2.0 PC CAMERA: USB2.0 PC CAM (usb-3f980000.usb-1.4) (/dev/video1)"},
	}, devs)

	_, err = parseDevices("bcm2835-isp (platform:bcm2835-isp):\n\t/dev/video13\n")
	require.Error(t, err)
}

func TestArgs(t *testing.T) {
	opts := RecorderOpts{DeviceID: "/dev/video0", Width: 64, Height: 48, Framerate: 30}
	args := opts.args()
	require.Contains(t, args, "64x48")
	require.Contains(t, args, "format=gray")
	require.Equal(t, "frame%d.jpg", args[len(args)-1])
}
