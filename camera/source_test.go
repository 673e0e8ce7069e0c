package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	events    chan Event
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		events: make(chan Event),
		closed: make(chan struct{}),
	}
}

func (r *fakeRecorder) Events() chan Event {
	return r.events
}

func (r *fakeRecorder) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

func grayJPEG(t *testing.T, v uint8) []byte {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	var b bytes.Buffer
	require.NoError(t, jpeg.Encode(&b, img, &jpeg.Options{Quality: 100}))
	return b.Bytes()
}

func TestNextFrameDistinct(t *testing.T) {
	rec := newFakeRecorder()
	src := NewFrameSource(logs.NewTestingLog(t), rec)
	defer src.Close()

	const n = 4
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	seqs := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := src.NextFrame(ctx)
			if err != nil {
				t.Errorf("NextFrame: %v", err)
				return
			}
			seqs <- f.Seq
		}()
	}
	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	payload := grayJPEG(t, 100)
loop:
	for {
		select {
		case rec.events <- Event{Data: payload}:
			time.Sleep(time.Millisecond)
		case <-allDone:
			break loop
		case <-ctx.Done():
			t.Fatalf("consumers did not all receive a frame")
		}
	}
	close(seqs)

	seen := map[uint64]bool{}
	for seq := range seqs {
		require.False(t, seen[seq], "frame %d delivered twice", seq)
		seen[seq] = true
	}
	require.Len(t, seen, n)

	require.EqualValues(t, n, src.Stats().Delivered)
}

func TestBinaryMatchesArray(t *testing.T) {
	rec := newFakeRecorder()
	src := NewFrameSource(logs.NewTestingLog(t), rec)
	defer src.Close()

	payload := grayJPEG(t, 120)
	rec.events <- Event{Data: payload}

	f, err := src.NextFrame(context.Background())
	require.NoError(t, err)
	require.Equal(t, payload, f.Binary())

	img, err := jpeg.Decode(bytes.NewReader(f.Binary()))
	require.NoError(t, err)
	require.Equal(t, img.(*image.Gray).Pix, f.Array().Pix)
	require.Equal(t, 16, f.Array().Bounds().Dx())
}

func TestCloseUnblocksWaiters(t *testing.T) {
	rec := newFakeRecorder()
	src := NewFrameSource(logs.NewTestingLog(t), rec)

	errc := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := src.LatestArray(context.Background())
			errc <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, src.Close())

	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			require.True(t, errors.Is(err, rccar.ErrSourceClosed), "got %v", err)
		case <-time.After(5 * time.Second):
			t.Fatalf("waiter not unblocked by Close")
		}
	}
	select {
	case <-rec.closed:
	default:
		t.Fatalf("recorder not closed")
	}

	_, err := src.LatestBinary(context.Background())
	require.ErrorIs(t, err, rccar.ErrSourceClosed)
	require.True(t, src.Closed())
	require.NoError(t, src.Close())
}

func TestNextFrameContext(t *testing.T) {
	rec := newFakeRecorder()
	src := NewFrameSource(logs.NewTestingLog(t), rec)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := src.NextFrame(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, src.Closed())
}

func TestRecorderStopped(t *testing.T) {
	rec := newFakeRecorder()
	src := NewFrameSource(logs.NewTestingLog(t), rec)
	defer src.Close()

	rec.events <- Event{Data: grayJPEG(t, 1)}
	close(rec.events)

	// A frame left in the slot is discarded once the stream ends.
	_, err := src.NextFrame(context.Background())
	for err == nil {
		_, err = src.NextFrame(context.Background())
	}
	require.ErrorIs(t, err, rccar.ErrSourceClosed)
	require.True(t, src.Closed())
}

func TestBadEvents(t *testing.T) {
	rec := newFakeRecorder()
	src := NewFrameSource(logs.NewTestingLog(t), rec)
	defer src.Close()

	rec.events <- Event{Data: []byte("not a jpeg")}
	rec.events <- Event{Err: errors.New("device unplugged")}
	rec.events <- Event{Data: grayJPEG(t, 7)}

	f, err := src.NextFrame(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, f.Seq)

	st := src.Stats()
	require.EqualValues(t, 1, st.DecodeErrors)
	require.EqualValues(t, 1, st.RecorderErrs)
	require.EqualValues(t, 1, st.Published)
}

func TestCompleteJPEG(t *testing.T) {
	full := grayJPEG(t, 50)
	require.True(t, completeJPEG(full))
	require.True(t, completeJPEG(append(append([]byte{}, full...), 0, 0, '\n')))
	require.False(t, completeJPEG(full[:len(full)/2]))
	require.False(t, completeJPEG(nil))
	require.False(t, completeJPEG([]byte{0xff, 0xd9}))
}
