package main

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	rccar "github.com/edgeimpulse/rccar-go"
	"github.com/edgeimpulse/rccar-go/dataset"

	"github.com/stretchr/testify/require"
)

func TestExportSession(t *testing.T) {
	s := dataset.Session{ID: "a"}
	for _, l := range []rccar.Label{rccar.Left, rccar.Straight, rccar.Straight} {
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		img.Pix[0] = uint8(l) * 100
		s.Samples = append(s.Samples, dataset.Sample{Image: img, Label: l})
	}

	dir := t.TempDir()
	n, err := exportSession(dir, "2024-05-01_14-03-22.123456", s)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	left, err := os.ReadDir(filepath.Join(dir, "left"))
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "2024-05-01_14-03-22.123456.000.png", left[0].Name())

	straight, err := os.ReadDir(filepath.Join(dir, "straight"))
	require.NoError(t, err)
	require.Len(t, straight, 2)

	right, err := os.ReadDir(filepath.Join(dir, "right"))
	require.NoError(t, err)
	require.Len(t, right, 0)
}
