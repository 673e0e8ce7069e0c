// Package imagesnap implements a camera recorder with the imagesnap command
// for macOS.
package imagesnap

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"os/exec"
	"strings"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"
	"github.com/edgeimpulse/rccar-go/camera"

	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
)

// ListDevices returns all image capturing devices available to imagesnap.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]camera.Device, error) {
	cmd := exec.Command("imagesnap", "-l")
	buf, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("listing devices with imagesnap -l: %v", err)
	}
	return parseDevices(string(buf))
}

func parseDevices(s string) ([]camera.Device, error) {
	devs := []camera.Device{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "=> ") {
			// Newer format, example: "=> FaceTime HD Camera (Built-in)"
			name := line[len("=> "):]
			devs = append(devs, camera.Device{Name: name, ID: name})
		} else if strings.HasPrefix(line, "<") {
			// Older format, example: "<AVCaptureDALDevice: 0x7fa2c7852fd0 [FaceTime HD Camera (Built-in)][0x8020000005ac8514]>"
			t := strings.Split(line, "[")
			if len(t) < 2 {
				continue
			}
			name := strings.Split(t[1], "]")[0]
			devs = append(devs, camera.Device{Name: name, ID: name})
		}
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	return devs, nil
}

// RecorderOpts has options for a new imagesnap recorder.
type RecorderOpts struct {
	Log      logs.Log
	Verbose  bool
	Interval time.Duration // How often to record an image. Default 1s, imagesnap is slow to start a capture.
	DeviceID string        // As returned by ListDevices. If empty, NewRecorder will use the first device returned by ListDevices.
	Width    int           // Default 64.
	Height   int           // Default 64.
}

// Recorder records images by starting imagesnap and configuring it to write
// images to temporary storage. imagesnap cannot scale or convert, so each
// image is reduced to a grayscale JPEG of the configured size before it is
// sent.
type Recorder struct {
	opts    RecorderOpts
	events  chan camera.Event
	tempDir string
	cancel  context.CancelFunc
	watcher *camera.DirWatcher
}

// Check that Recorder implements interface Recorder.
var _ camera.Recorder = (*Recorder)(nil)

// Events returns a channel on which Events can be received. It is closed when
// the recorder stops.
func (r *Recorder) Events() chan camera.Event {
	return r.events
}

// NewRecorder creates a new recorder by starting imagesnap, making it write
// images to a temporary directory. These images are read and sent on the
// channel returned by Events.
//
// Callers must call Close to clean up.
func NewRecorder(opts RecorderOpts) (recorder *Recorder, rerr error) {
	r := &Recorder{opts: opts}
	if r.opts.Interval == 0 {
		r.opts.Interval = time.Second
	}
	if r.opts.Width == 0 {
		r.opts.Width = 64
	}
	if r.opts.Height == 0 {
		r.opts.Height = 64
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

	r.watcher, err = camera.WatchDir(r.tempDir, camera.WatchOpts{
		Ops: fsnotify.Create | fsnotify.Write,
		Log: r.opts.Log,
	})
	if err != nil {
		return nil, err
	}
	r.events = make(chan camera.Event)
	go r.convert()

	args := []string{
		"-d", r.opts.DeviceID,
		"-t", fmt.Sprintf("%.2f", r.opts.Interval.Seconds()),
	}
	if r.opts.Log != nil {
		r.opts.Log.Infof("camera: starting imagesnap with args %s in %s", args, r.tempDir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "imagesnap", args...)
	cmd.Dir = r.tempDir
	if r.opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting imagesnap: %v", err)
	}
	go func() {
		err := cmd.Wait()
		if r.opts.Log != nil && ctx.Err() == nil {
			r.opts.Log.Errorf("camera: imagesnap exited: %v", err)
		}
		r.watcher.Stop()
	}()

	return r, nil
}

func (r *Recorder) convert() {
	defer close(r.events)
	for ev := range r.watcher.Events() {
		if ev.Err == nil {
			buf, err := grayJPEG(ev.Data, r.opts.Width, r.opts.Height)
			if err != nil {
				ev = camera.Event{Err: err}
			} else {
				ev.Data = buf
			}
		}
		r.events <- ev
	}
}

// grayJPEG scales a JPEG to width by height and encodes it again as grayscale.
func grayJPEG(data []byte, width, height int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding imagesnap jpeg: %v", err)
	}
	img = imaging.Grayscale(imaging.Resize(img, width, height, imaging.Linear))
	gray := camera.ToGray(img)
	var b bytes.Buffer
	if err := jpeg.Encode(&b, gray, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %v", err)
	}
	return b.Bytes(), nil
}

// Close shuts down the recorder, stopping the imagesnap process and removing
// the temporary directory.
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
