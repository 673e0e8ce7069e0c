// Package dataset stores the labeled samples recorded while driving.
//
// Samples are grouped in sessions: all frames recorded between switching
// recording on and off again. A Store writes one session as a single unit;
// it either has all samples of the session afterwards or none.
package dataset

import (
	"context"
	"fmt"
	"image"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"
)

// Sample is a camera frame labeled with the direction the car was steering in
// when it was taken.
type Sample struct {
	Image *image.Gray
	Label rccar.Label
}

// Session is the samples of one recording session, in recording order.
type Session struct {
	ID      string
	Time    time.Time // When the session was stored.
	Samples []Sample
}

// Counts returns the number of samples per label, indexed by label.
func (s Session) Counts() [rccar.NumLabels]int {
	var n [rccar.NumLabels]int
	for _, smp := range s.Samples {
		if smp.Label.Valid() {
			n[smp.Label]++
		}
	}
	return n
}

// SessionInfo describes a stored session without its images.
type SessionInfo struct {
	ID     string
	Name   string // Timestamp name, see SessionName.
	Time   time.Time
	Counts [rccar.NumLabels]int
}

// Total returns the number of samples in the session.
func (i SessionInfo) Total() int {
	var n int
	for _, c := range i.Counts {
		n += c
	}
	return n
}

// String returns eg "2024-05-01_14-03-22.123456: 40 samples (left 10, right 12, straight 18)".
func (i SessionInfo) String() string {
	return fmt.Sprintf("%s: %d samples (left %d, right %d, straight %d)", i.Name, i.Total(), i.Counts[rccar.Left], i.Counts[rccar.Right], i.Counts[rccar.Straight])
}

// Store persists sessions.
type Store interface {
	// Flush stores all samples of s as one unit. If Flush returns an error,
	// nothing of s is stored and the caller may retry with the same session.
	Flush(ctx context.Context, s Session) error
}

// Lister is a Store that can list what it has stored.
type Lister interface {
	Sessions(ctx context.Context) ([]SessionInfo, error)
	LoadSession(ctx context.Context, id string) (Session, error)
}

const sessionNameLayout = "2006-01-02_15-04-05.000000"

// SessionName returns the name a session stored at t is known by: its local
// timestamp with microseconds. Names sort in time order.
func SessionName(t time.Time) string {
	return t.Local().Format(sessionNameLayout)
}

// ParseSessionName parses a name made by SessionName.
func ParseSessionName(name string) (time.Time, error) {
	return time.ParseInLocation(sessionNameLayout, name, time.Local)
}

// packPixels returns the pixels of img without row padding.
func packPixels(img *image.Gray) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if img.Stride == w && len(img.Pix) == w*h {
		return img.Pix
	}
	pix := make([]byte, 0, w*h)
	for y := 0; y < h; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		pix = append(pix, img.Pix[off:off+w]...)
	}
	return pix
}

// unpackPixels makes an image from pixels without row padding.
func unpackPixels(width, height int, pix []byte) (*image.Gray, error) {
	if width <= 0 || height <= 0 || len(pix) != width*height {
		return nil, fmt.Errorf("bad image data: %dx%d with %d bytes", width, height, len(pix))
	}
	return &image.Gray{
		Pix:    pix,
		Stride: width,
		Rect:   image.Rect(0, 0, width, height),
	}, nil
}

func checkSession(s Session) error {
	if s.ID == "" {
		return fmt.Errorf("session without id")
	}
	for i, smp := range s.Samples {
		if smp.Image == nil {
			return fmt.Errorf("sample %d without image", i)
		}
		if !smp.Label.Valid() {
			return fmt.Errorf("sample %d has invalid label %d", i, int(smp.Label))
		}
	}
	return nil
}
