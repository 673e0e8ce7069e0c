package camera

// Recorder is a continuous, push-style source of encoded camera images, for
// example a webcam recorded with ffmpeg.
type Recorder interface {
	// Events returns a channel from which Events can be read, each containing
	// one JPEG payload. The channel is closed when the recorder stops.
	Events() chan Event

	// Close shuts down the recorder. No further Events will be sent.
	Close() error
}

// Event is a single encoded image (or error) coming from a Recorder.
type Event struct {
	// If set, an error occurred.
	Err error

	// JPEG data read from the recorder. If Err is set, Data is not valid.
	Data []byte
}
