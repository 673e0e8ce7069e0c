package pilot

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrepareSubsample(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Pix[y*img.Stride+x] = uint8(x + y)
		}
	}
	data, err := Prepare(16, 16)(img)
	require.NoError(t, err)
	require.Len(t, data, 256)
	// Every 4th pixel from the top left, like the training sets.
	require.Equal(t, 0.0, data[0])
	require.InDelta(t, 4.0/255, data[1], 1e-9)
	require.InDelta(t, 4.0/255, data[16], 1e-9)
	require.InDelta(t, 8.0/255, data[17], 1e-9)
	require.InDelta(t, 120.0/255, data[255], 1e-9)
	for _, v := range data {
		require.True(t, v >= 0 && v <= 1)
	}

	same, err := Prepare(64, 64)(img)
	require.NoError(t, err)
	require.InDelta(t, 126.0/255, same[64*64-1], 1e-9)
}

func TestPrepareResize(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 50))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	data, err := Prepare(16, 16)(img)
	require.NoError(t, err)
	require.Len(t, data, 256)
	for _, v := range data {
		require.Equal(t, 1.0, v)
	}

	back, err := ReduceImage(data, 16, 16)
	require.NoError(t, err)
	require.Equal(t, uint8(255), back.GrayAt(3, 3).Y)
}

func TestPrepareErrors(t *testing.T) {
	_, err := Prepare(16, 16)(nil)
	require.Error(t, err)
	_, err = Prepare(0, 16)(image.NewGray(image.Rect(0, 0, 4, 4)))
	require.Error(t, err)
	_, err = Prepare(16, 16)(image.NewGray(image.Rect(0, 0, 0, 0)))
	require.Error(t, err)
	_, err = ReduceImage([]float64{1}, 2, 2)
	require.Error(t, err)
}
