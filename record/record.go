// Package record collects labeled training samples while a person drives the
// car.
//
// The Loop looks at the car every interval. While recording is enabled and
// the car drives forward, it takes a frame and labels it with the current
// steering direction. Frames taken while standing still, reversing or only
// steering are never recorded. Once recording is disabled, the samples of the
// session are flushed to a store as one unit.
package record

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"
	"github.com/edgeimpulse/rccar-go/dataset"
	"github.com/edgeimpulse/rccar-go/motor"

	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
)

// DefaultInterval is the time between two looks at the car.
const DefaultInterval = 50 * time.Millisecond

// Frames gives the pixels of a camera frame, see camera.FrameSource.
type Frames interface {
	LatestArray(ctx context.Context) (*image.Gray, error)
}

// Car reports the state of the motors, see motor.Car.
type Car interface {
	Status() motor.CarState
}

// Opts has options for a recorder loop.
type Opts struct {
	Interval time.Duration // Default DefaultInterval.
	Log      logs.Log      // Required.
}

// Stats are counters of a Loop.
type Stats struct {
	Samples     uint64 `json:"samples"`              // Samples taken.
	Flushes     uint64 `json:"flushes"`              // Sessions stored.
	FlushErrors uint64 `json:"flush_errors"`         // Failed attempts to store a session.
	Buffered    int    `json:"buffered"`             // Samples waiting to be stored.
	Session     string `json:"session,omitempty"`    // ID of the session being buffered, if any.
	LastError   string `json:"last_error,omitempty"` // Of the last failed flush, cleared on success.
}

// Loop records samples, see the package documentation.
type Loop struct {
	frames Frames
	car    Car
	store  dataset.Store
	opts   Opts

	enabled atomic.Bool

	// Held for a whole tick and by FlushPending. The buffer is only changed
	// with both held, so Stats does not wait for a tick to finish.
	tickMu    sync.Mutex
	mu        sync.Mutex
	buffer    []dataset.Sample
	sessionID string
	stats     Stats
}

// NewLoop returns a loop with recording disabled. Call Run to start it.
func NewLoop(frames Frames, car Car, store dataset.Store, opts Opts) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Loop{
		frames: frames,
		car:    car,
		store:  store,
		opts:   opts,
	}
}

// Enable starts a recording session, if not already recording.
func (l *Loop) Enable() {
	if !l.enabled.Swap(true) {
		l.opts.Log.Infof("record: recording on")
	}
}

// Disable ends the recording session. The session is flushed on the next
// tick.
func (l *Loop) Disable() {
	if l.enabled.Swap(false) {
		l.opts.Log.Infof("record: recording off")
	}
}

// Toggle switches recording on or off and returns the new state.
func (l *Loop) Toggle() bool {
	for {
		old := l.enabled.Load()
		if l.enabled.CompareAndSwap(old, !old) {
			l.opts.Log.Infof("record: recording %v", !old)
			return !old
		}
	}
}

// Enabled reports whether recording is on.
func (l *Loop) Enabled() bool {
	return l.enabled.Load()
}

// Stats returns a snapshot of the counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stats
	st.Buffered = len(l.buffer)
	st.Session = l.sessionID
	return st
}

// Run looks at the car every interval until ctx is canceled, and returns
// nil then. If the frame source closes, Run returns rccar.ErrSourceClosed;
// samples still buffered are left for FlushPending.
func (l *Loop) Run(ctx context.Context) error {
	l.opts.Log.Infof("record: loop started, interval %v", l.opts.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if ctx.Err() != nil {
			l.opts.Log.Infof("record: loop stopped")
			return nil
		}
		if err := l.tick(ctx); err != nil {
			l.opts.Log.Errorf("record: loop stopped: %v", err)
			return err
		}
		timer.Reset(l.opts.Interval)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

// tick returns an error only when the loop cannot continue.
func (l *Loop) tick(ctx context.Context) error {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	st := l.car.Status()
	enabled := l.enabled.Load()

	if enabled && st.Drive == motor.Forward {
		img, err := l.frames.LatestArray(ctx)
		if errors.Is(err, rccar.ErrSourceClosed) {
			return err
		} else if err != nil {
			if ctx.Err() == nil {
				l.opts.Log.Warnf("record: reading frame: %v", err)
			}
			return nil
		}
		l.mu.Lock()
		if len(l.buffer) == 0 {
			l.sessionID = uuid.NewString()
		}
		l.buffer = append(l.buffer, dataset.Sample{Image: img, Label: st.Steer})
		l.stats.Samples++
		l.mu.Unlock()
		l.opts.Log.Debugf("record: sample %d of session %s, %s", len(l.buffer), l.sessionID, st.Steer)
	} else if !enabled && len(l.buffer) > 0 {
		l.flush(ctx)
	}
	return nil
}

// flush must be called with tickMu held. The buffer is only cleared once the
// store has it.
func (l *Loop) flush(ctx context.Context) error {
	sess := dataset.Session{
		ID:      l.sessionID,
		Time:    time.Now(),
		Samples: l.buffer,
	}
	err := l.store.Flush(ctx, sess)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		perr := &rccar.PersistenceError{Session: sess.ID, Err: err}
		l.stats.FlushErrors++
		l.stats.LastError = perr.Error()
		l.opts.Log.Errorf("record: %v, keeping %d samples for next attempt", perr, len(sess.Samples))
		return perr
	}
	l.opts.Log.Infof("record: stored session %s as %s, %d samples", sess.ID, dataset.SessionName(sess.Time), len(sess.Samples))
	l.buffer = nil
	l.sessionID = ""
	l.stats.Flushes++
	l.stats.LastError = ""
	return nil
}

// FlushPending stores buffered samples now, regardless of whether recording
// is enabled. It is meant for shutdown, after Run has returned.
func (l *Loop) FlushPending(ctx context.Context) error {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()
	if len(l.buffer) == 0 {
		return nil
	}
	return l.flush(ctx)
}
