package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/disintegration/imaging"
)

// Frame is one capture from the camera. The encoded and decoded views are made
// from the same payload, so they always describe the same instant.
type Frame struct {
	Seq  uint64    // Position in the capture stream, starting at 1.
	Time time.Time // When the payload was received from the recorder.

	data []byte
	gray *image.Gray
}

// NewFrame decodes a JPEG payload into a frame. The payload is kept as is, and
// must not be modified afterwards.
func NewFrame(seq uint64, t time.Time, data []byte) (*Frame, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding jpeg: %v", err)
	}
	return &Frame{
		Seq:  seq,
		Time: t,
		data: data,
		gray: ToGray(img),
	}, nil
}

// Binary returns the JPEG payload, eg for showing on the remote. Callers must
// not modify it.
func (f *Frame) Binary() []byte {
	return f.data
}

// Array returns the decoded pixels. The camera records in black and white, so
// one channel is all there is. Callers must not modify it.
func (f *Frame) Array() *image.Gray {
	return f.gray
}

// ToGray reduces an image to a single channel. For YCbCr JPEGs that is the
// luma plane, which is what a black and white camera puts its signal in.
func ToGray(img image.Image) *image.Gray {
	switch m := img.(type) {
	case *image.Gray:
		return m
	case *image.YCbCr:
		b := m.Bounds()
		g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			off := m.YOffset(b.Min.X, b.Min.Y+y)
			copy(g.Pix[y*g.Stride:y*g.Stride+b.Dx()], m.Y[off:off+b.Dx()])
		}
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}
