package pilot

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// PrepareFunc turns camera pixels into model input.
type PrepareFunc func(img *image.Gray) ([]float64, error)

// Prepare returns a PrepareFunc that reduces frames to width by height and
// scales pixel values to [0,1], row by row.
//
// If the frame is an exact multiple of the size, every n-th pixel of every
// n-th row is kept, starting top left. That is how the training sets are
// made from recorded 64x64 sessions, so the model sees the same pixels when
// driving. Other frames are cropped to the aspect ratio and resized.
func Prepare(width, height int) PrepareFunc {
	return func(img *image.Gray) ([]float64, error) {
		if width <= 0 || height <= 0 {
			return nil, fmt.Errorf("invalid model input size %dx%d", width, height)
		}
		if img == nil {
			return nil, fmt.Errorf("no image")
		}
		b := img.Bounds()
		if b.Dx() == 0 || b.Dy() == 0 {
			return nil, fmt.Errorf("empty image")
		}

		data := make([]float64, 0, width*height)
		fx, fy := b.Dx()/width, b.Dy()/height
		if fx > 0 && fx == fy && b.Dx() == fx*width && b.Dy() == fy*height {
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					data = append(data, float64(img.GrayAt(b.Min.X+x*fx, b.Min.Y+y*fy).Y)/255)
				}
			}
			return data, nil
		}

		r := imaging.Fill(img, width, height, imaging.Center, imaging.NearestNeighbor)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				// Gray input, so all channels are equal.
				data = append(data, float64(r.Pix[r.PixOffset(x, y)])/255)
			}
		}
		return data, nil
	}
}

// ReduceImage turns input made by a PrepareFunc back into an image, for
// looking at what the model gets to see.
func ReduceImage(data []float64, width, height int) (*image.Gray, error) {
	if len(data) != width*height {
		return nil, fmt.Errorf("got %d values for %dx%d image", len(data), width, height)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i, v := range data {
		img.Pix[i] = grayValue(v)
	}
	return img, nil
}

func grayValue(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}
