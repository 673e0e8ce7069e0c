package camera

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/fsnotify/fsnotify"
)

// WatchOpts has options for a DirWatcher.
type WatchOpts struct {
	// Minimum time between two events. Files written sooner are removed
	// without being read. Zero sends every file.
	Interval time.Duration

	// File operations that signal a written image. Default fsnotify.Write.
	Ops fsnotify.Op

	// If nil, nothing is logged.
	Log logs.Log
}

// DirWatcher turns JPEG files written into a directory by an external capture
// program into Events. Files are removed once read.
type DirWatcher struct {
	dir      string
	opts     WatchOpts
	watcher  *fsnotify.Watcher
	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
}

// WatchDir starts watching dir. Call Stop to clean up; the channel returned by
// Events is closed once the watcher has stopped.
func WatchDir(dir string, opts WatchOpts) (*DirWatcher, error) {
	if opts.Ops == 0 {
		opts.Ops = fsnotify.Write
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %v", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("registering file change watcher for %s: %v", dir, err)
	}
	w := &DirWatcher{
		dir:     dir,
		opts:    opts,
		watcher: watcher,
		events:  make(chan Event),
		stop:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Events returns the channel on which images are sent.
func (w *DirWatcher) Events() chan Event {
	return w.events
}

// Stop stops watching. It is safe to call more than once.
func (w *DirWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.watcher.Close()
	})
}

func (w *DirWatcher) logf(format string, args ...interface{}) {
	if w.opts.Log != nil {
		w.opts.Log.Debugf(format, args...)
	}
}

func (w *DirWatcher) remove(name string) {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		w.logf("removing image %q: %v", name, err)
	}
}

func (w *DirWatcher) run() {
	defer close(w.events)

	var last time.Time
	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&w.opts.Ops == 0 || !strings.HasSuffix(ev.Name, ".jpg") {
				continue
			}
			now := time.Now()
			if w.opts.Interval > 0 && now.Sub(last) < w.opts.Interval*9/10 {
				w.remove(ev.Name)
				continue
			}
			buf, err := os.ReadFile(ev.Name)
			if err != nil {
				// Already consumed on an earlier event for the same file.
				if !os.IsNotExist(err) {
					w.logf("reading written file %q: %v", ev.Name, err)
				}
				continue
			}
			if !completeJPEG(buf) {
				// Still being written, a later event will come for it.
				continue
			}
			w.remove(ev.Name)
			select {
			case w.events <- Event{Data: buf}:
				last = now
			case <-w.stop:
				return
			default:
				w.logf("dropping image %q, consumer still busy", ev.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.events <- Event{Err: fmt.Errorf("watching for changes: %v", err)}:
			case <-w.stop:
				return
			}
		}
	}
}

var (
	jpegStart = []byte{0xff, 0xd8}
	jpegEnd   = []byte{0xff, 0xd9}
)

// completeJPEG checks for the start and end of image markers, ignoring padding
// some encoders put after the end marker.
func completeJPEG(buf []byte) bool {
	if !bytes.HasPrefix(buf, jpegStart) {
		return false
	}
	buf = bytes.TrimRight(buf, "\x00\r\n")
	return bytes.HasSuffix(buf, jpegEnd)
}
