// Command rcpredict launches a model process, reads camera images from JPEG
// files named on the command line, and prints the steering direction the
// model picks for each.
//
// Example:
//
//	rcpredict -m model.eim -i images/frame00001.jpg -i images/frame00002.jpg
package main

import (
	"fmt"
	"os"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"
	"github.com/edgeimpulse/rccar-go/camera"
	"github.com/edgeimpulse/rccar-go/pilot"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("rcpredict", "Predict steering directions for camera images")
	modelFile := parser.String("m", "model", &argparse.Options{Help: "Path to .eim model file", Required: true})
	images := parser.StringList("i", "image", &argparse.Options{Help: "JPEG image, can be repeated", Required: true})
	traceDir := parser.String("", "tracedir", &argparse.Options{Help: "If set, store model requests, responses and input images in this directory", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	runner, err := rccar.NewRunnerProcess(*modelFile, &rccar.RunnerOpts{TraceDir: *traceDir, Log: logger})
	if err != nil {
		logger.Errorf("New runner: %v", err)
		os.Exit(1)
	}
	defer runner.Close()
	logger.Infof("Project %s, model %s", runner.Project(), runner.ModelParameters())

	predictor, err := pilot.NewRunnerPredictor(runner, &pilot.RunnerOpts{TraceDir: *traceDir, Log: logger})
	if err != nil {
		logger.Errorf("%v", err)
		runner.Close()
		os.Exit(1)
	}
	prepare := pilot.Prepare(predictor.InputSize())

	failed := false
	for i, path := range *images {
		label, scores, err := predict(uint64(i+1), path, prepare, predictor)
		if err != nil {
			logger.Errorf("%s: %v", path, err)
			failed = true
			continue
		}
		fmt.Printf("%s: %s (left %.4f, right %.4f, straight %.4f)\n", path, label, scores[rccar.Left], scores[rccar.Right], scores[rccar.Straight])
	}
	if failed {
		runner.Close()
		os.Exit(1)
	}
}

func predict(seq uint64, path string, prepare pilot.PrepareFunc, predictor pilot.Predictor) (rccar.Label, []float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	frame, err := camera.NewFrame(seq, time.Now(), data)
	if err != nil {
		return 0, nil, err
	}
	input, err := prepare(frame.Array())
	if err != nil {
		return 0, nil, fmt.Errorf("preparing image: %v", err)
	}
	scores, err := predictor.Predict(input)
	if err != nil {
		return 0, nil, fmt.Errorf("predicting: %v", err)
	}
	label, err := pilot.Decide(scores)
	if err != nil {
		return 0, nil, err
	}
	return label, scores, nil
}
