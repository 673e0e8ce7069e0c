package pilot

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"
	"testing"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type fakeFrames struct {
	mu     sync.Mutex
	reads  int
	closed bool
}

func (f *fakeFrames) LatestArray(ctx context.Context) (*image.Gray, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, rccar.ErrSourceClosed
	}
	f.reads++
	return image.NewGray(image.Rect(0, 0, 64, 64)), nil
}

type fakeSteer struct {
	mu       sync.Mutex
	commands []string
}

func (s *fakeSteer) add(c string) {
	s.mu.Lock()
	s.commands = append(s.commands, c)
	s.mu.Unlock()
}

func (s *fakeSteer) SteerLeft()     { s.add("left") }
func (s *fakeSteer) SteerRight()    { s.add("right") }
func (s *fakeSteer) SteerStraight() { s.add("straight") }

func (s *fakeSteer) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

type fakePredictor struct {
	mu     sync.Mutex
	scores [][]float64
	err    error
}

func (p *fakePredictor) Predict(input []float64) ([]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if len(input) != 16*16 {
		return nil, errors.New("bad input size")
	}
	s := p.scores[0]
	if len(p.scores) > 1 {
		p.scores = p.scores[1:]
	}
	return s, nil
}

func newTestLoop(t *testing.T, opts Opts, scores ...[]float64) (*Loop, *fakeFrames, *fakeSteer, *fakePredictor) {
	frames := &fakeFrames{}
	steer := &fakeSteer{}
	pred := &fakePredictor{scores: scores}
	opts.Log = logs.NewTestingLog(t)
	l, err := NewLoop(frames, steer, Prepare(16, 16), pred, opts)
	require.NoError(t, err)
	return l, frames, steer, pred
}

func TestDecide(t *testing.T) {
	for _, tc := range []struct {
		scores []float64
		want   rccar.Label
	}{
		{[]float64{0.1, 0.2, 0.7}, rccar.Straight},
		{[]float64{0.5, 0.5, 0.0}, rccar.Left},
		{[]float64{0.2, 0.4, 0.4}, rccar.Right},
		{[]float64{1, 1, 1}, rccar.Left},
		{[]float64{0, 0.9, 0.1}, rccar.Right},
	} {
		got, err := Decide(tc.scores)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "scores %v", tc.scores)
	}

	_, err := Decide([]float64{1, 0})
	require.Error(t, err)
	_, err = Decide([]float64{math.NaN(), 0, 1})
	require.Error(t, err)
	_, err = Decide([]float64{0, math.Inf(1), 1})
	require.Error(t, err)
}

func TestTickSteers(t *testing.T) {
	l, _, steer, _ := newTestLoop(t, Opts{}, []float64{0.1, 0.2, 0.7}, []float64{0.5, 0.5, 0.0}, []float64{0, 1, 0})
	ctx := context.Background()

	// Disabled: nothing happens.
	require.NoError(t, l.tick(ctx))
	require.Empty(t, steer.list())
	require.Nil(t, l.LastDecision())

	l.Enable()
	require.NoError(t, l.tick(ctx))
	require.NoError(t, l.tick(ctx))
	require.NoError(t, l.tick(ctx))
	require.Equal(t, []string{"straight", "left", "right"}, steer.list())

	d := l.LastDecision()
	require.NotNil(t, d)
	require.Equal(t, rccar.Right, d.Label)
	require.Equal(t, []float64{0, 1, 0}, d.Scores)
	require.EqualValues(t, 3, l.Stats().Decisions)
}

func TestTickFailureSkips(t *testing.T) {
	l, _, steer, pred := newTestLoop(t, Opts{}, []float64{0.9, 0, 0})
	ctx := context.Background()
	l.Enable()

	require.NoError(t, l.tick(ctx))
	pred.mu.Lock()
	pred.err = errors.New("model crashed")
	pred.mu.Unlock()
	require.NoError(t, l.tick(ctx))
	require.Equal(t, []string{"left"}, steer.list())
	require.EqualValues(t, 1, l.Stats().Failures)

	pred.mu.Lock()
	pred.err = nil
	pred.scores = [][]float64{{0.5, 0.5}}
	pred.mu.Unlock()
	require.NoError(t, l.tick(ctx))
	require.Equal(t, []string{"left"}, steer.list())
	require.EqualValues(t, 2, l.Stats().Failures)

	var ierr *rccar.InferenceError
	_, err := l.decide(nil)
	require.True(t, errors.As(err, &ierr))
	require.Equal(t, "prepare", ierr.Stage)
}

func TestSmoothing(t *testing.T) {
	l, _, steer, _ := newTestLoop(t, Opts{Smoothing: 3},
		[]float64{0, 0, 1},
		[]float64{0, 0, 1},
		[]float64{1, 0, 0},
		[]float64{1, 0, 0},
	)
	ctx := context.Background()
	l.Enable()
	for i := 0; i < 4; i++ {
		require.NoError(t, l.tick(ctx))
	}
	// A single frame voting left does not win over two voting straight.
	require.Equal(t, []string{"straight", "straight", "straight", "left"}, steer.list())
}

func TestSmoothingBadScores(t *testing.T) {
	l, _, steer, _ := newTestLoop(t, Opts{Smoothing: 2},
		[]float64{0, 0, 1},
		[]float64{math.NaN(), 0, 1},
		[]float64{0, math.Inf(-1), 1},
		[]float64{0, 0, 1},
	)
	ctx := context.Background()
	l.Enable()
	for i := 0; i < 4; i++ {
		require.NoError(t, l.tick(ctx))
	}
	// The bad vectors are skipped without entering the average.
	require.Equal(t, []string{"straight", "straight"}, steer.list())
	require.EqualValues(t, 2, l.Stats().Failures)
	require.Equal(t, []float64{0, 0, 1}, l.LastDecision().Scores)
}

func TestRunSourceClosed(t *testing.T) {
	l, frames, _, _ := newTestLoop(t, Opts{}, []float64{0, 0, 1})
	l.Enable()
	frames.mu.Lock()
	frames.closed = true
	frames.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	select {
	case err := <-done:
		require.ErrorIs(t, err, rccar.ErrSourceClosed)
	case <-time.After(5 * time.Second):
		t.Fatalf("loop did not stop on closed source")
	}
}

func TestRunToggleCancel(t *testing.T) {
	l, frames, steer, _ := newTestLoop(t, Opts{Interval: time.Millisecond}, []float64{0, 0, 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	frames.mu.Lock()
	require.Equal(t, 0, frames.reads)
	frames.mu.Unlock()

	require.True(t, l.Toggle())
	require.Eventually(t, func() bool { return len(steer.list()) >= 3 }, 5*time.Second, time.Millisecond)
	require.False(t, l.Toggle())
	require.False(t, l.Enabled())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("loop did not stop on cancel")
	}
}
