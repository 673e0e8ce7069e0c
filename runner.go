// Package rccar drives a small two-motor car from a camera: it records labeled
// training frames while a human drives, and steers on its own with a trained
// model.
//
// This package holds the types shared by the camera, motor, recording and
// piloting packages, and runs model processes that classify frames.
package rccar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
)

// Runner is a model that classifies camera frames.
type Runner interface {
	ModelParameters() ModelParameters
	Project() Project
	Classify(data []float64) (RunnerClassifyResponse, error)
	Close() error
}

// SensorType is the kind of input a model was trained on. Only camera models
// can steer the car.
type SensorType string

const (
	SensorTypeUnknown SensorType = "unknown"
	SensorTypeCamera  SensorType = "camera"
)

// sensorCamera is the sensor number model processes report for cameras.
const sensorCamera = 3

// ModelParameters describe the input and output of a model, as reported by
// the model process.
type ModelParameters struct {
	ModelType  string `json:"model_type"`
	Sensor     int64  `json:"sensor"`
	SensorType SensorType

	InputFeaturesCount int `json:"input_features_count"`

	ImageInputHeight  int `json:"image_input_height"`
	ImageInputWidth   int `json:"image_input_width"`
	ImageChannelCount int `json:"image_channel_count"`

	Labels     []string `json:"labels"`
	LabelCount int      `json:"label_count"`
}

// String returns eg "camera 16x16x1, classes left,right,straight".
func (p ModelParameters) String() string {
	var s string
	if p.SensorType == SensorTypeCamera {
		s = fmt.Sprintf("camera %dx%dx%d", p.ImageInputWidth, p.ImageInputHeight, p.ImageChannelCount)
	} else {
		s = fmt.Sprintf("%s model for sensor %d", p.ModelType, p.Sensor)
	}
	if len(p.Labels) > 0 {
		s += ", classes " + strings.Join(p.Labels, ",")
	}
	return s
}

// SteeringLabels returns the model's name for each steering label. Model
// labels are matched case-insensitively, and must be exactly left, right and
// straight, in any order.
func (p ModelParameters) SteeringLabels() ([NumLabels]string, error) {
	var names [NumLabels]string
	var seen [NumLabels]bool
	for _, name := range p.Labels {
		l, err := ParseLabel(name)
		if err != nil {
			return names, fmt.Errorf("model label %q is not a steering direction", name)
		}
		if seen[l] {
			return names, fmt.Errorf("model has label %q twice", name)
		}
		seen[l] = true
		names[l] = name
	}
	for _, l := range Labels() {
		if !seen[l] {
			return names, fmt.Errorf("model has no label %q", l)
		}
	}
	return names, nil
}

// Project is the Edge Impulse project the model was built in.
type Project struct {
	DeployVersion int64  `json:"deploy_version"`
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Owner         string `json:"owner"`
}

func (p Project) String() string {
	return fmt.Sprintf("%s/%s (v%v)", p.Owner, p.Name, p.DeployVersion)
}

// RunnerResponse is the part every model response has.
type RunnerResponse struct {
	ID      int64  `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (r RunnerResponse) status() RunnerResponse {
	return r
}

type response interface {
	status() RunnerResponse
}

type helloRequest struct {
	ID    int64 `json:"id"`
	Hello int   `json:"hello"`
}

type helloResponse struct {
	RunnerResponse
	ModelParameters ModelParameters `json:"model_parameters"`
	Project         Project         `json:"project"`
}

// RunnerClassifyRequest asks the model to classify one frame.
type RunnerClassifyRequest struct {
	ID       int64     `json:"id"`
	Classify []float64 `json:"classify"`
}

// RunnerClassifyResponse has the model's score per label.
type RunnerClassifyResponse struct {
	RunnerResponse

	Result struct {
		Classification map[string]float64 `json:"classification,omitempty"`
	} `json:"result"`

	Timing struct {
		DSP            float64 `json:"dsp"`
		Classification float64 `json:"classification"`
	} `json:"timing"`
}

// SteeringScores returns the scores in label order, with names as returned
// by ModelParameters.SteeringLabels.
func (r RunnerClassifyResponse) SteeringScores(names [NumLabels]string) ([]float64, error) {
	if r.Result.Classification == nil {
		return nil, fmt.Errorf("model returned no classification")
	}
	scores := make([]float64, NumLabels)
	for l, name := range names {
		v, ok := r.Result.Classification[name]
		if !ok {
			return nil, fmt.Errorf("model returned no score for %q", name)
		}
		scores[l] = v
	}
	return scores, nil
}

// String returns the error, or the scores with the time the model took.
func (r RunnerClassifyResponse) String() string {
	if !r.Success {
		return fmt.Sprintf("error: %v", r.Error)
	}
	if r.Result.Classification == nil {
		return "(result without classification)"
	}
	var kv []string
	for k, v := range r.Result.Classification {
		kv = append(kv, fmt.Sprintf("%s=%.4f", k, v))
	}
	sort.Strings(kv)
	return fmt.Sprintf("classification in %dms: %s", int64(r.Timing.Classification), strings.Join(kv, " "))
}

// RunnerOpts contains options for starting a runner.
type RunnerOpts struct {
	// Working directory of the model process, where its socket is made. Not
	// removed on Close. If empty, a temporary directory is used.
	WorkDir string

	// If not empty, every request and response is written to this directory
	// as runner-<id>-request.json and runner-<id>-response.json.
	TraceDir string

	// How long the model process may take to start, and to answer a request.
	// Default 5s.
	ReadTimeout time.Duration

	// If nil, nothing is logged.
	Log logs.Log
}

// RunnerProcess is a model process, talked to over a unix domain socket with
// one JSON request and response at a time.
type RunnerProcess struct {
	modelParams ModelParameters
	project     Project
	opts        RunnerOpts
	tempDir     string             // Removed on Close.
	cancel      context.CancelFunc // Stops the model process.
	conn        net.Conn

	mu     sync.Mutex // Serializes transactions.
	lastID int64
}

var _ Runner = (*RunnerProcess)(nil)

// NewRunnerProcess starts the model at modelPath and asks it for its
// parameters. Always call Close on the runner to stop the process.
func NewRunnerProcess(modelPath string, opts *RunnerOpts) (runner *RunnerProcess, rerr error) {
	modelPath, err := filepath.Abs(modelPath)
	if err != nil {
		return nil, fmt.Errorf("absolute path for model %q: %v", modelPath, err)
	}

	r := &RunnerProcess{}
	if opts != nil {
		r.opts = *opts
	}
	if r.opts.ReadTimeout == 0 {
		r.opts.ReadTimeout = 5 * time.Second
	}

	defer func() {
		if rerr != nil {
			r.Close()
		}
	}()

	if r.opts.WorkDir == "" {
		dir, err := TempDir()
		if err != nil {
			return nil, fmt.Errorf("making temp dir: %v", err)
		}
		r.opts.WorkDir = dir
		r.tempDir = dir
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, modelPath, "runner.sock")
	cmd.Dir = r.opts.WorkDir
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting model process: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	r.conn, err = dialRunner(filepath.Join(r.opts.WorkDir, "runner.sock"), r.opts.ReadTimeout, exited)
	if err != nil {
		return nil, err
	}

	var hello helloResponse
	if err := r.transact(helloRequest{ID: r.nextID(), Hello: 1}, r.lastID, &hello); err != nil {
		return nil, fmt.Errorf("hello to model: %v", err)
	}
	mp := hello.ModelParameters
	if mp.ModelType == "" {
		mp.ModelType = "classification"
	}
	mp.SensorType = SensorTypeUnknown
	if mp.Sensor == sensorCamera {
		mp.SensorType = SensorTypeCamera
	}
	r.modelParams = mp
	r.project = hello.Project
	return r, nil
}

// dialRunner waits for the model process to create its socket and connects.
func dialRunner(path string, timeout time.Duration, exited <-chan struct{}) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, syscall.ENOENT) && !errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("opening runner socket: %v", err)
		}
		select {
		case <-exited:
			return nil, fmt.Errorf("model process exited before opening its socket")
		default:
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no socket from model process after %v", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// ModelParameters returns the parameters the model reported at start.
func (r *RunnerProcess) ModelParameters() ModelParameters {
	return r.modelParams
}

// Project returns the project the model was built in.
func (r *RunnerProcess) Project() Project {
	return r.project
}

func (r *RunnerProcess) nextID() int64 {
	r.lastID++
	return r.lastID
}

// transact sends req and reads its response. Callers hold mu, except during
// startup.
func (r *RunnerProcess) transact(req interface{}, id int64, resp response) error {
	if err := json.NewEncoder(r.conn).Encode(req); err != nil {
		return fmt.Errorf("writing json to model: %v", err)
	}
	r.trace(id, "request", req)

	r.conn.SetReadDeadline(time.Now().Add(r.opts.ReadTimeout))
	dec := json.NewDecoder(r.conn)
	if err := dec.Decode(resp); err != nil {
		return fmt.Errorf("reading json from model: %v", err)
	}
	r.trace(id, "response", resp)

	// The model ends each response with a zero byte. Read it if the decoder
	// did not.
	if rest, err := io.ReadAll(dec.Buffered()); err == nil && len(rest) == 0 {
		r.conn.Read([]byte{0})
	}

	if st := resp.status(); !st.Success {
		return fmt.Errorf("model: %s", st.Error)
	}
	return nil
}

func (r *RunnerProcess) trace(id int64, kind string, v interface{}) {
	if r.opts.TraceDir == "" {
		return
	}
	path := filepath.Join(r.opts.TraceDir, fmt.Sprintf("runner-%d-%s.json", id, kind))
	buf, err := json.Marshal(v)
	if err == nil {
		err = os.WriteFile(path, append(buf, '\n'), 0o644)
	}
	if err != nil && r.opts.Log != nil {
		r.opts.Log.Warnf("runner: trace %s: %v", path, err)
	}
}

// Classify sends one frame of features to the model and returns its scores.
func (r *RunnerProcess) Classify(data []float64) (resp RunnerClassifyResponse, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req := RunnerClassifyRequest{ID: r.nextID(), Classify: data}
	err = r.transact(req, req.ID, &resp)
	return
}

// Close stops the model process and removes its temporary directory.
func (r *RunnerProcess) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.conn != nil {
		r.conn.Close()
	}
	if r.tempDir != "" {
		os.RemoveAll(r.tempDir)
	}
	return nil
}
