// Package pilot steers the car with a trained model.
//
// While enabled, the Loop takes a frame every interval, has the model score
// it for each steering direction and steers in the direction with the highest
// score. The pilot only steers: the speed of the car stays with whoever drives
// it.
package pilot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"

	"github.com/cyclopcam/logs"
)

// idlePoll is how often a disabled loop with a zero interval checks whether
// it was enabled.
const idlePoll = 10 * time.Millisecond

// Frames gives the pixels of a camera frame, see camera.FrameSource.
type Frames interface {
	LatestArray(ctx context.Context) (*image.Gray, error)
}

// Steerer turns the wheels, see motor.Car.
type Steerer interface {
	SteerLeft()
	SteerRight()
	SteerStraight()
}

// Decide returns the label with the highest score. On a tie the label with
// the lowest index wins: left before right before straight.
func Decide(scores []float64) (rccar.Label, error) {
	if len(scores) != rccar.NumLabels {
		return 0, fmt.Errorf("got %d scores, expected %d", len(scores), rccar.NumLabels)
	}
	if err := checkScores(scores); err != nil {
		return 0, err
	}
	best := 0
	for i, v := range scores {
		if v > scores[best] {
			best = i
		}
	}
	return rccar.Label(best), nil
}

// checkScores rejects score vectors that would poison the moving average.
func checkScores(scores []float64) error {
	if len(scores) != rccar.NumLabels {
		return fmt.Errorf("got %d scores, expected %d", len(scores), rccar.NumLabels)
	}
	for i, v := range scores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("score %d is %v", i, v)
		}
	}
	return nil
}

// Decision is the outcome of one tick that steered.
type Decision struct {
	Label  rccar.Label `json:"label"`
	Scores []float64   `json:"scores"` // After smoothing.
	Time   time.Time   `json:"time"`
	Took   float64     `json:"took_ms"` // Preparing and predicting, in milliseconds.
}

// Opts has options for a pilot loop.
type Opts struct {
	// Time between ticks. Zero means as fast as frames arrive.
	Interval time.Duration

	// If > 1, steer by the moving average of this many score vectors.
	Smoothing int

	Log logs.Log // Required.
}

// Stats are counters of a Loop.
type Stats struct {
	Decisions uint64 `json:"decisions"` // Ticks that steered.
	Failures  uint64 `json:"failures"`  // Ticks skipped because preparing or predicting failed.
}

// Loop steers the car, see the package documentation.
type Loop struct {
	frames    Frames
	steer     Steerer
	prepare   PrepareFunc
	predictor Predictor
	opts      Opts

	enabled atomic.Bool

	mu    sync.Mutex
	maf   *rccar.MAF
	last  *Decision
	stats Stats
}

// NewLoop returns a loop with steering disabled. Call Run to start it.
func NewLoop(frames Frames, steer Steerer, prepare PrepareFunc, predictor Predictor, opts Opts) (*Loop, error) {
	l := &Loop{
		frames:    frames,
		steer:     steer,
		prepare:   prepare,
		predictor: predictor,
		opts:      opts,
	}
	if opts.Smoothing > 1 {
		maf, err := rccar.NewMAF(opts.Smoothing, rccar.NumLabels)
		if err != nil {
			return nil, fmt.Errorf("making score filter: %v", err)
		}
		l.maf = maf
	}
	return l, nil
}

// Enable starts steering.
func (l *Loop) Enable() {
	if !l.enabled.Swap(true) {
		l.opts.Log.Infof("pilot: auto on")
	}
}

// Disable stops steering. The wheels stay in the last direction.
func (l *Loop) Disable() {
	if l.enabled.Swap(false) {
		l.opts.Log.Infof("pilot: auto off")
	}
}

// Toggle switches steering on or off and returns the new state.
func (l *Loop) Toggle() bool {
	for {
		old := l.enabled.Load()
		if l.enabled.CompareAndSwap(old, !old) {
			l.opts.Log.Infof("pilot: auto %v", !old)
			return !old
		}
	}
}

// Enabled reports whether the loop steers.
func (l *Loop) Enabled() bool {
	return l.enabled.Load()
}

// LastDecision returns the most recent decision, or nil if there was none.
func (l *Loop) LastDecision() *Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return nil
	}
	d := *l.last
	d.Scores = append([]float64(nil), d.Scores...)
	return &d
}

// Stats returns a snapshot of the counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Run steers every interval while enabled, until ctx is canceled, and returns
// nil then. If the frame source closes, Run returns rccar.ErrSourceClosed.
func (l *Loop) Run(ctx context.Context) error {
	l.opts.Log.Infof("pilot: loop started, interval %v", l.opts.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if ctx.Err() != nil {
			l.opts.Log.Infof("pilot: loop stopped")
			return nil
		}
		if err := l.tick(ctx); err != nil {
			l.opts.Log.Errorf("pilot: loop stopped: %v", err)
			return err
		}
		wait := l.opts.Interval
		if wait < idlePoll && !l.enabled.Load() {
			wait = idlePoll
		}
		if wait <= 0 {
			continue
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

// tick returns an error only when the loop cannot continue.
func (l *Loop) tick(ctx context.Context) error {
	if !l.enabled.Load() {
		return nil
	}
	img, err := l.frames.LatestArray(ctx)
	if errors.Is(err, rccar.ErrSourceClosed) {
		return err
	} else if err != nil {
		if ctx.Err() == nil {
			l.opts.Log.Warnf("pilot: reading frame: %v", err)
		}
		return nil
	}

	t0 := time.Now()
	d, err := l.decide(img)
	if err != nil {
		l.mu.Lock()
		l.stats.Failures++
		l.mu.Unlock()
		l.opts.Log.Warnf("pilot: skipping frame: %v", err)
		return nil
	}
	d.Time = time.Now()
	d.Took = float64(d.Time.Sub(t0)) / float64(time.Millisecond)

	switch d.Label {
	case rccar.Left:
		l.steer.SteerLeft()
	case rccar.Right:
		l.steer.SteerRight()
	default:
		l.steer.SteerStraight()
	}

	l.mu.Lock()
	l.last = &d
	l.stats.Decisions++
	l.mu.Unlock()
	l.opts.Log.Debugf("pilot: %s %.3f in %.1fms", d.Label, d.Scores, d.Took)
	return nil
}

func (l *Loop) decide(img *image.Gray) (Decision, error) {
	input, err := l.prepare(img)
	if err != nil {
		return Decision{}, &rccar.InferenceError{Stage: "prepare", Err: err}
	}
	scores, err := l.predictor.Predict(input)
	if err != nil {
		return Decision{}, &rccar.InferenceError{Stage: "predict", Err: err}
	}
	if err := checkScores(scores); err != nil {
		return Decision{}, &rccar.InferenceError{Stage: "predict", Err: err}
	}
	if l.maf != nil {
		// Only the Run goroutine smooths.
		scores, err = l.maf.Update(scores)
		if err != nil {
			return Decision{}, &rccar.InferenceError{Stage: "predict", Err: err}
		}
	}
	label, err := Decide(scores)
	if err != nil {
		return Decision{}, &rccar.InferenceError{Stage: "predict", Err: err}
	}
	return Decision{Label: label, Scores: scores}, nil
}
