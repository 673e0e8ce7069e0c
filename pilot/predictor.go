package pilot

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"

	rccar "github.com/edgeimpulse/rccar-go"

	"github.com/cyclopcam/logs"
)

// Predictor scores model input: one score per label, in label order.
type Predictor interface {
	Predict(input []float64) ([]float64, error)
}

// RunnerOpts are options for a RunnerPredictor.
type RunnerOpts struct {
	TraceDir string   // If not empty, directory to write images sent to runner.
	Log      logs.Log // If nil, nothing is logged.
}

// RunnerPredictor predicts with an Edge Impulse model process. The model must
// be an image classification model with labels left, right and straight, in
// any order.
type RunnerPredictor struct {
	runner rccar.Runner
	opts   RunnerOpts
	index  [rccar.NumLabels]string // Model label for each of our labels.
	width  int
	height int
	seq    atomic.Int64
}

var _ Predictor = (*RunnerPredictor)(nil)

// NewRunnerPredictor checks that runner has a model that can steer. Callers
// must still close the runner.
func NewRunnerPredictor(runner rccar.Runner, opts *RunnerOpts) (*RunnerPredictor, error) {
	p := &RunnerPredictor{runner: runner}
	if opts != nil {
		p.opts = *opts
	}

	mp := runner.ModelParameters()
	if mp.SensorType != rccar.SensorTypeCamera {
		return nil, fmt.Errorf("sensor for this model was %q, expected camera", mp.SensorType)
	}
	if mp.ModelType != "classification" {
		return nil, fmt.Errorf("model type %q, expected classification", mp.ModelType)
	}
	if mp.ImageInputWidth <= 0 || mp.ImageInputHeight <= 0 {
		return nil, fmt.Errorf("model has no image input size")
	}
	p.width, p.height = mp.ImageInputWidth, mp.ImageInputHeight

	names, err := mp.SteeringLabels()
	if err != nil {
		return nil, err
	}
	p.index = names
	return p, nil
}

// InputSize returns the image size the model expects.
func (p *RunnerPredictor) InputSize() (width, height int) {
	return p.width, p.height
}

// Predict classifies input as made by Prepare with the model's input size.
// The model takes pixels as packed 0xRRGGBB values, so each gray value is
// sent in all three channels.
func (p *RunnerPredictor) Predict(input []float64) ([]float64, error) {
	if len(input) != p.width*p.height {
		return nil, fmt.Errorf("got %d values, model needs %dx%d", len(input), p.width, p.height)
	}
	data := make([]float64, len(input))
	for i, x := range input {
		v := uint32(grayValue(x))
		data[i] = float64((v << 16) | (v << 8) | v)
	}
	p.trace(input)

	resp, err := p.runner.Classify(data)
	if err != nil {
		return nil, err
	}
	return resp.SteeringScores(p.index)
}

func (p *RunnerPredictor) trace(input []float64) {
	if p.opts.TraceDir == "" {
		return
	}
	img, err := ReduceImage(input, p.width, p.height)
	if err != nil {
		return
	}
	// Start at 2 to match the message IDs of the runner, hello is 1.
	pngPath := filepath.Join(p.opts.TraceDir, fmt.Sprintf("image-%d.png", p.seq.Add(1)+1))
	pf, err := os.Create(pngPath)
	if err != nil {
		p.logf("trace, creating %s: %v", pngPath, err)
		return
	}
	if err := png.Encode(pf, img); err != nil {
		p.logf("trace, encoding png: %v", err)
	}
	if err := pf.Close(); err != nil {
		p.logf("trace, closing file: %v", err)
	}
}

func (p *RunnerPredictor) logf(format string, args ...interface{}) {
	if p.opts.Log != nil {
		p.opts.Log.Warnf(format, args...)
	}
}
