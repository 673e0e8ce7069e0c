// Package ffmpeg implements a camera recorder with ffmpeg and the v4l2 tools.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"
	"github.com/edgeimpulse/rccar-go/camera"

	"github.com/cyclopcam/logs"
	"github.com/fsnotify/fsnotify"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y ffmpeg v4l-utils")

// RecorderOpts has options for a new ffmpeg recorder.
type RecorderOpts struct {
	Log       logs.Log
	Verbose   bool   // Pass ffmpeg's output through to stdout/stderr.
	DeviceID  string // As retrieved from ListDevices. If empty, NewRecorder will use the first device returned by ListDevices.
	Width     int    // Default 64.
	Height    int    // Default 64.
	Framerate int    // Default 30.
}

// Recorder is a camera recorder using ffmpeg.
type Recorder struct {
	opts    RecorderOpts
	tempDir string
	cancel  context.CancelFunc
	watcher *camera.DirWatcher
}

// Check that Recorder implements interface Recorder.
var _ camera.Recorder = (*Recorder)(nil)

// Events returns a channel on which Events can be received. It is closed when
// ffmpeg exits.
func (r *Recorder) Events() chan camera.Event {
	return r.watcher.Events()
}

// ListDevices returns a list of devices that can be used for recording.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]camera.Device, error) {
	cmd := exec.Command("v4l2-ctl", "--list-devices")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices using v4l2-ctl: %v", err)
	}
	return parseDevices(string(buf))
}

func parseDevices(s string) ([]camera.Device, error) {
	var curDevice string
	devices := []camera.Device{}
	for _, line := range strings.Split(s, "\n") {
		if !strings.HasPrefix(line, "\t") {
			curDevice = strings.TrimSuffix(strings.TrimSpace(line), ":")
			continue
		}
		// The Raspberry Pi's codec and ISP devices show up as video devices too.
		if curDevice == "" || strings.HasPrefix(curDevice, "bcm2835-") {
			continue
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "/dev/video") {
			continue
		}
		devices = append(devices, camera.Device{
			Name: fmt.Sprintf("%s (%s)", curDevice, line),
			ID:   line,
		})
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	return devices, nil
}

func (o RecorderOpts) args() []string {
	return []string{
		"-loglevel", "error",
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", o.Framerate),
		"-video_size", fmt.Sprintf("%dx%d", o.Width, o.Height),
		"-i", o.DeviceID,
		"-vf", "format=gray",
		"-f", "image2",
		"-qscale:v", "2",
		"frame%d.jpg",
	}
}

// NewRecorder creates a new recorder using ffmpeg. Ffmpeg writes grayscale
// JPEGs to a temporary directory. These files are read and sent over the
// channel returned by Events.
//
// Callers must call Close to clean up.
func NewRecorder(opts RecorderOpts) (recorder *Recorder, rerr error) {
	r := &Recorder{opts: opts}
	if r.opts.Width == 0 {
		r.opts.Width = 64
	}
	if r.opts.Height == 0 {
		r.opts.Height = 64
	}
	if r.opts.Framerate == 0 {
		r.opts.Framerate = 30
	}

	if r.opts.DeviceID == "" {
		devs, err := ListDevices()
		if err != nil {
			return nil, fmt.Errorf("listing devices: %v", err)
		}
		r.opts.DeviceID = devs[0].ID
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			r.Close()
		}
	}()

	tempDir, err := rccar.TempDir()
	if err != nil {
		return nil, fmt.Errorf("making temp dir: %v", err)
	}
	r.tempDir = tempDir

	// Watch before starting, so the first frames are not missed.
	r.watcher, err = camera.WatchDir(r.tempDir, camera.WatchOpts{
		Interval: time.Second / time.Duration(r.opts.Framerate),
		Ops:      fsnotify.Write,
		Log:      r.opts.Log,
	})
	if err != nil {
		return nil, err
	}

	args := r.opts.args()
	if r.opts.Log != nil {
		r.opts.Log.Infof("camera: starting ffmpeg %s, writing to %s", strings.Join(args, " "), r.tempDir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Dir = r.tempDir
	if r.opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting command ffmpeg: %v", err)
	}
	go func() {
		err := cmd.Wait()
		if r.opts.Log != nil && ctx.Err() == nil {
			r.opts.Log.Errorf("camera: ffmpeg exited: %v", err)
		}
		r.watcher.Stop()
	}()

	return r, nil
}

// Close shuts down the recorder, stopping ffmpeg and removing the temporary directory.
func (r *Recorder) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.watcher != nil {
		r.watcher.Stop()
	}
	if r.tempDir != "" {
		os.RemoveAll(r.tempDir)
	}
	return nil
}
