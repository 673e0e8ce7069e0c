package replay

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeImages(t *testing.T, n int) string {
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, 8, 8))
		for j := range img.Pix {
			img.Pix[j] = uint8(i * 50)
		}
		var b bytes.Buffer
		require.NoError(t, jpeg.Encode(&b, img, nil))
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("frame%02d.jpg", i)), b.Bytes(), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	return dir
}

func TestReplayOnce(t *testing.T) {
	dir := writeImages(t, 3)

	files, err := ListImages(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	require.Equal(t, "frame00.jpg", filepath.Base(files[0]))

	r, err := NewRecorder(RecorderOpts{Dir: dir, Framerate: 1000})
	require.NoError(t, err)
	defer r.Close()

	var got [][]byte
	for ev := range r.Events() {
		require.NoError(t, ev.Err)
		got = append(got, ev.Data)
	}
	require.Len(t, got, 3)

	want, err := os.ReadFile(files[2])
	require.NoError(t, err)
	require.Equal(t, want, got[2])
}

func TestReplayLoopClose(t *testing.T) {
	dir := writeImages(t, 2)

	r, err := NewRecorder(RecorderOpts{Dir: dir, Framerate: 1000, Loop: true})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ev := <-r.Events()
		require.NoError(t, ev.Err)
	}
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-r.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatalf("events channel not closed after Close")
		}
	}
}

func TestReplayEmptyDir(t *testing.T) {
	_, err := NewRecorder(RecorderOpts{Dir: t.TempDir()})
	require.Error(t, err)
}
