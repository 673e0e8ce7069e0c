// Package replay implements a camera recorder that plays back JPEG files from
// a directory, for running the car software without a camera.
package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edgeimpulse/rccar-go/camera"

	"github.com/cyclopcam/logs"
)

// RecorderOpts has options for a new replay recorder.
type RecorderOpts struct {
	Log       logs.Log
	Dir       string // Directory with .jpg files, played in name order.
	Framerate int    // Default 30.
	Loop      bool   // Start over after the last file instead of stopping.
}

// Recorder sends the JPEG files in a directory as events.
type Recorder struct {
	opts      RecorderOpts
	files     []string
	events    chan camera.Event
	stop      chan struct{}
	closeOnce sync.Once
}

// Check that Recorder implements interface Recorder.
var _ camera.Recorder = (*Recorder)(nil)

// NewRecorder lists the JPEG files in opts.Dir and starts sending them. It
// returns an error if the directory has none.
//
// Callers must call Close to clean up.
func NewRecorder(opts RecorderOpts) (*Recorder, error) {
	if opts.Framerate == 0 {
		opts.Framerate = 30
	}
	files, err := ListImages(opts.Dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .jpg files in %s", opts.Dir)
	}
	r := &Recorder{
		opts:   opts,
		files:  files,
		events: make(chan camera.Event),
		stop:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// ListImages returns the paths of the .jpg files in dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading replay dir: %v", err)
	}
	var l []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".jpg") {
			continue
		}
		l = append(l, filepath.Join(dir, e.Name()))
	}
	sort.Strings(l)
	return l, nil
}

// Events returns a channel on which Events can be received. It is closed after
// the last file unless looping, and after Close.
func (r *Recorder) Events() chan camera.Event {
	return r.events
}

func (r *Recorder) run() {
	defer close(r.events)

	ticker := time.NewTicker(time.Second / time.Duration(r.opts.Framerate))
	defer ticker.Stop()

	for i := 0; ; i++ {
		if i == len(r.files) {
			if !r.opts.Loop {
				if r.opts.Log != nil {
					r.opts.Log.Infof("camera: replay of %d files done", len(r.files))
				}
				return
			}
			i = 0
		}

		var ev camera.Event
		buf, err := os.ReadFile(r.files[i])
		if err != nil {
			ev.Err = fmt.Errorf("reading replay file: %v", err)
		} else {
			ev.Data = buf
		}
		select {
		case r.events <- ev:
		case <-r.stop:
			return
		}

		select {
		case <-ticker.C:
		case <-r.stop:
			return
		}
	}
}

// Close stops sending files.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.stop)
	})
	return nil
}
