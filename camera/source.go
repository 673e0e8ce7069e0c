// Package camera turns a continuous stream of camera images into frames that
// several goroutines can safely pull from, and implements recorders that
// produce that stream from external capture programs.
package camera

import (
	"context"
	"image"
	"sync"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"

	"github.com/cyclopcam/logs"
)

// Stats are counters for a FrameSource since it was created.
type Stats struct {
	Published    uint64 // Frames decoded and put in the slot.
	Dropped      uint64 // Frames overwritten before anyone took them.
	Delivered    uint64 // Frames returned by NextFrame.
	DecodeErrors uint64 // Payloads that were not a valid JPEG.
	RecorderErrs uint64 // Errors reported by the recorder.
}

// FrameSource wraps a Recorder and hands out its most recently completed frame.
//
// A single slot holds the latest frame. The recorder side overwrites it as
// frames arrive; NextFrame takes it out, so every frame is delivered to at most
// one caller. Callers that find the slot empty wait for the next frame.
type FrameSource struct {
	log      logs.Log
	recorder Recorder

	mu     sync.Mutex
	cond   *sync.Cond
	slot   *Frame
	closed bool
	stats  Stats

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewFrameSource starts reading events from recorder. Call Close to stop the
// source, which also closes the recorder.
func NewFrameSource(log logs.Log, recorder Recorder) *FrameSource {
	s := &FrameSource{
		log:      log,
		recorder: recorder,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

func (s *FrameSource) pump() {
	defer close(s.done)
	defer s.markClosed()

	events := s.recorder.Events()
	var seq uint64
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-events:
			if !ok {
				s.log.Warnf("camera: recorder stopped, frame source is closed")
				return
			}
			if ev.Err != nil {
				s.log.Warnf("camera: recorder: %v", ev.Err)
				s.mu.Lock()
				s.stats.RecorderErrs++
				s.mu.Unlock()
				continue
			}
			f, err := NewFrame(seq+1, time.Now(), ev.Data)
			if err != nil {
				s.log.Debugf("camera: dropping frame: %v", err)
				s.mu.Lock()
				s.stats.DecodeErrors++
				s.mu.Unlock()
				continue
			}
			seq++
			s.publish(f)
		}
	}
}

func (s *FrameSource) publish(f *Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.slot != nil {
		s.stats.Dropped++
	}
	s.slot = f
	s.stats.Published++
	s.cond.Signal()
}

func (s *FrameSource) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.slot = nil
	s.cond.Broadcast()
}

// NextFrame waits for and returns the latest frame not yet handed out.
// Concurrent callers are served one at a time and never receive the same frame.
//
// NextFrame returns rccar.ErrSourceClosed once the source is closed or the
// recorder stopped, and ctx.Err() if ctx is done first.
func (s *FrameSource) NextFrame(ctx context.Context) (*Frame, error) {
	stopWake := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stopWake()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.slot == nil && !s.closed && ctx.Err() == nil {
		s.cond.Wait()
	}
	if s.closed {
		return nil, rccar.ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := s.slot
	s.slot = nil
	s.stats.Delivered++
	return f, nil
}

// LatestBinary returns the JPEG payload of the next frame.
func (s *FrameSource) LatestBinary(ctx context.Context) ([]byte, error) {
	f, err := s.NextFrame(ctx)
	if err != nil {
		return nil, err
	}
	return f.Binary(), nil
}

// LatestArray returns the pixels of the next frame.
func (s *FrameSource) LatestArray(ctx context.Context) (*image.Gray, error) {
	f, err := s.NextFrame(ctx)
	if err != nil {
		return nil, err
	}
	return f.Array(), nil
}

// Stats returns a snapshot of the counters.
func (s *FrameSource) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Closed reports whether the source no longer produces frames.
func (s *FrameSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the source and its recorder. Callers blocked in NextFrame
// return rccar.ErrSourceClosed.
func (s *FrameSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.recorder.Close()
		<-s.done
	})
	return err
}
