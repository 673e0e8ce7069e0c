// Package gstreamer implements a camera recorder with the gstreamer tools.
package gstreamer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"
	"github.com/edgeimpulse/rccar-go/camera"

	"github.com/cyclopcam/logs"
	"github.com/fsnotify/fsnotify"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y gstreamer1.0-tools gstreamer1.0-plugins-good gstreamer1.0-plugins-base gstreamer1.0-plugins-base-apps")

// RecorderOpts has options for a new gstreamer recorder.
type RecorderOpts struct {
	Log       logs.Log
	Verbose   bool   // Pass gst-launch's output through to stdout/stderr.
	DeviceID  string // As retrieved from ListDevices. If empty, NewRecorder will use the first device returned by ListDevices.
	Width     int    // Default 64.
	Height    int    // Default 64.
	Framerate int    // Default 30.
}

// Recorder is a camera recorder using gstreamer.
type Recorder struct {
	opts    RecorderOpts
	tempDir string
	cancel  context.CancelFunc
	watcher *camera.DirWatcher
}

// Check that Recorder implements interface Recorder.
var _ camera.Recorder = (*Recorder)(nil)

// Events returns a channel on which Events can be received. It is closed when
// gstreamer exits.
func (r *Recorder) Events() chan camera.Event {
	return r.watcher.Events()
}

type device struct {
	ID          string
	Name        string
	DeviceClass string
	RawCaps     []string
	inCapMode   bool
}

var widthRegexp = regexp.MustCompile("width=(?:\\(int\\))?([0-9]+)[^0-9]")
var heightRegexp = regexp.MustCompile("height=(?:\\(int\\))?([0-9]+)[^0-9]")
var framerateRegexp = regexp.MustCompile("framerate=(?:\\(fraction\\))?([0-9]+)[^0-9]")

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// ListDevices returns a list of devices that can be used for recording.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]camera.Device, error) {
	cmd := exec.Command("gst-device-monitor-1.0")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices using gst-device-monitor-1.0: %v", err)
	}
	return parseDevices(buf)
}

func parseDevices(buf []byte) ([]camera.Device, error) {
	var r []device
	var d *device
	b := bufio.NewScanner(bytes.NewReader(buf))
	for b.Scan() {
		s := strings.TrimSpace(b.Text())
		if s == "" {
			continue
		}
		if s == "Device found:" {
			if d != nil {
				r = append(r, *d)
			}
			d = &device{}
			continue
		}
		if d == nil {
			continue
		}

		switch {
		case strings.HasPrefix(s, "name  :"):
			d.Name = strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
		case strings.HasPrefix(s, "class :"):
			d.DeviceClass = strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
		case strings.HasPrefix(s, "caps  :"):
			d.RawCaps = append(d.RawCaps, strings.TrimSpace(strings.SplitN(s, ":", 2)[1]))
			d.inCapMode = true
		case strings.HasPrefix(s, "properties:"):
			d.inCapMode = false
		case d.inCapMode:
			d.RawCaps = append(d.RawCaps, s)
		case strings.HasPrefix(s, "device.path ="):
			d.ID = strings.TrimSpace(strings.SplitN(s, "=", 2)[1])
		}
	}
	if err := b.Err(); err != nil {
		return nil, err
	}
	if d != nil && d.ID != "" {
		r = append(r, *d)
	}

	var devs []camera.Device
	for _, d := range r {
		if d.DeviceClass != "Video/Source" || d.ID == "" {
			continue
		}
		var caps []camera.DeviceCap
		for _, rc := range d.RawCaps {
			if !strings.HasPrefix(rc, "video/x-raw") {
				continue
			}
			rc += " "
			mw := widthRegexp.FindStringSubmatch(rc)
			mh := heightRegexp.FindStringSubmatch(rc)
			mf := framerateRegexp.FindStringSubmatch(rc)
			if mw == nil || mh == nil || mf == nil {
				continue
			}
			width, werr := strconv.Atoi(mw[1])
			height, herr := strconv.Atoi(mh[1])
			framerate, ferr := strconv.Atoi(mf[1])
			if werr != nil || herr != nil || ferr != nil {
				continue
			}
			if width != 0 && height != 0 && framerate != 0 {
				caps = append(caps, camera.DeviceCap{
					Type:      "video/x-raw",
					Width:     width,
					Height:    height,
					Framerate: framerate,
				})
			}
		}
		if len(caps) == 0 {
			continue
		}
		devs = append(devs, camera.Device{
			ID:   d.ID,
			Name: d.Name,
			Caps: caps,
		})
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no devices found")
	}
	return devs, nil
}

// closestCap returns the capability nearest to the wanted size, so the least
// scaling is needed.
func closestCap(caps []camera.DeviceCap, width, height int) camera.DeviceCap {
	distance := func(a camera.DeviceCap) int {
		return abs(a.Width-width)*abs(a.Height-height) + abs(a.Width-width) + abs(a.Height-height)
	}
	l := append([]camera.DeviceCap{}, caps...)
	sort.SliceStable(l, func(i, j int) bool {
		return distance(l[i]) < distance(l[j])
	})
	return l[0]
}

func pipeline(devID string, c camera.DeviceCap, opts RecorderOpts, dir string) []string {
	return []string{
		"v4l2src", "device=" + devID,
		"!", fmt.Sprintf("video/x-raw,width=%d,height=%d", c.Width, c.Height),
		"!", "videorate",
		"!", fmt.Sprintf("video/x-raw,framerate=%d/1", opts.Framerate),
		"!", "videoscale",
		"!", "videoconvert",
		"!", fmt.Sprintf("video/x-raw,format=GRAY8,width=%d,height=%d", opts.Width, opts.Height),
		"!", "jpegenc",
		"!", "multifilesink", "location=" + dir + "/frame%05d.jpg",
	}
}

// NewRecorder creates a new recorder using gstreamer. Gstreamer writes
// grayscale JPEGs to a temporary directory. These files are read and sent over
// the channel returned by Events.
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

	devices, err := ListDevices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %v", err)
	}
	var dev camera.Device
	if r.opts.DeviceID == "" {
		dev = devices[0]
		r.opts.DeviceID = dev.ID
	} else {
		for _, d := range devices {
			if d.ID == r.opts.DeviceID {
				dev = d
				break
			}
		}
		if dev.ID == "" {
			return nil, fmt.Errorf("device %q not found", r.opts.DeviceID)
		}
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

	// multifilesink closes each file when done, a write is only the start.
	r.watcher, err = camera.WatchDir(r.tempDir, camera.WatchOpts{
		Interval: time.Second / time.Duration(r.opts.Framerate),
		Ops:      fsnotify.Write | fsnotify.Create,
		Log:      r.opts.Log,
	})
	if err != nil {
		return nil, err
	}

	args := pipeline(r.opts.DeviceID, closestCap(dev.Caps, r.opts.Width, r.opts.Height), r.opts, r.tempDir)
	if r.opts.Log != nil {
		r.opts.Log.Infof("camera: starting gst-launch-1.0 %s", strings.Join(args, " "))
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "gst-launch-1.0", args...)
	cmd.Dir = r.tempDir
	if r.opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting gstreamer with gst-launch-1.0: %v", err)
	}
	go func() {
		err := cmd.Wait()
		if r.opts.Log != nil && ctx.Err() == nil {
			r.opts.Log.Errorf("camera: gst-launch-1.0 exited: %v", err)
		}
		r.watcher.Stop()
	}()

	return r, nil
}

// Close shuts down the recorder, stopping gstreamer and removing the temporary
// directory.
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
