package main

import (
	"fmt"

	rccar "github.com/edgeimpulse/rccar-go"
	"github.com/edgeimpulse/rccar-go/camera"
	"github.com/edgeimpulse/rccar-go/camera/ffmpeg"
	"github.com/edgeimpulse/rccar-go/camera/gstreamer"
	"github.com/edgeimpulse/rccar-go/camera/imagesnap"
	"github.com/edgeimpulse/rccar-go/camera/replay"
	"github.com/edgeimpulse/rccar-go/config"
	"github.com/edgeimpulse/rccar-go/dataset"
	"github.com/edgeimpulse/rccar-go/ingest"
	"github.com/edgeimpulse/rccar-go/motor"
	"github.com/edgeimpulse/rccar-go/motor/serialdrv"
	"github.com/edgeimpulse/rccar-go/pilot"
	"github.com/edgeimpulse/rccar-go/record"
	"github.com/edgeimpulse/rccar-go/remote"

	"github.com/cyclopcam/logs"
)

func newRecorder(logger logs.Log, cfg config.CameraConfig) (camera.Recorder, error) {
	switch cfg.Recorder {
	case "ffmpeg":
		return ffmpeg.NewRecorder(ffmpeg.RecorderOpts{
			Log:       logger,
			Verbose:   cfg.Verbose,
			DeviceID:  cfg.Device,
			Width:     cfg.Width,
			Height:    cfg.Height,
			Framerate: cfg.Framerate,
		})
	case "gstreamer":
		return gstreamer.NewRecorder(gstreamer.RecorderOpts{
			Log:       logger,
			Verbose:   cfg.Verbose,
			DeviceID:  cfg.Device,
			Width:     cfg.Width,
			Height:    cfg.Height,
			Framerate: cfg.Framerate,
		})
	case "imagesnap":
		return imagesnap.NewRecorder(imagesnap.RecorderOpts{
			Log:      logger,
			Verbose:  cfg.Verbose,
			DeviceID: cfg.Device,
			Width:    cfg.Width,
			Height:   cfg.Height,
		})
	case "replay":
		return replay.NewRecorder(replay.RecorderOpts{
			Log:       logger,
			Dir:       cfg.ReplayDir,
			Framerate: cfg.Framerate,
			Loop:      cfg.ReplayLoop,
		})
	}
	return nil, fmt.Errorf("unknown recorder %q", cfg.Recorder)
}

func newFrameSource(logger logs.Log, cfg config.CameraConfig) (*camera.FrameSource, error) {
	recorder, err := newRecorder(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("starting %s recorder: %v", cfg.Recorder, err)
	}
	logger.Infof("Recording camera with %s at %dx%d", cfg.Recorder, cfg.Width, cfg.Height)
	return camera.NewFrameSource(logger, recorder), nil
}

func printDevices(cfg config.CameraConfig) error {
	var devices []camera.Device
	var err error
	switch cfg.Recorder {
	case "ffmpeg":
		devices, err = ffmpeg.ListDevices()
	case "gstreamer":
		devices, err = gstreamer.ListDevices()
	case "imagesnap":
		devices, err = imagesnap.ListDevices()
	case "replay":
		var files []string
		files, err = replay.ListImages(cfg.ReplayDir)
		if err == nil {
			fmt.Printf("%s: %d images\n", cfg.ReplayDir, len(files))
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("listing devices: %v", err)
	}
	for _, d := range devices {
		fmt.Println(d)
	}
	return nil
}

// carHardware is the car with the board its motors are connected to, if any.
type carHardware struct {
	*motor.Car
	board *serialdrv.Board
}

func newCar(logger logs.Log, cfg config.MotorsConfig) (*carHardware, error) {
	if cfg.DryRun {
		logger.Infof("Dry run, motor commands are only logged")
		drive := &motor.LogDriver{Name: "drive", Log: logger}
		steer := &motor.LogDriver{Name: "steer", Log: logger}
		return &carHardware{Car: motor.NewCar(drive, steer, &motor.CarOpts{Speed: cfg.Speed, Log: logger})}, nil
	}
	board, err := serialdrv.Open(cfg.Port, cfg.Serial, logger)
	if err != nil {
		return nil, err
	}
	drive := board.Channel(cfg.DriveChannel, &serialdrv.ChannelOpts{Kick: cfg.Kick})
	steer := board.Channel(cfg.SteerChannel, nil)
	car := motor.NewCar(drive, steer, &motor.CarOpts{Speed: cfg.Speed, Log: logger})
	car.Halt()
	logger.Infof("Motor board on %s, drive channel %d, steer channel %d", cfg.Port, cfg.DriveChannel, cfg.SteerChannel)
	return &carHardware{Car: car, board: board}, nil
}

func (c *carHardware) close() {
	c.Halt()
	if c.board != nil {
		c.board.Close()
	}
}

// sessionStore is the configured store, with its cleanup.
type sessionStore struct {
	dataset.Store
	close func()
}

func newStore(logger logs.Log, cfg config.RecorderConfig) (*sessionStore, error) {
	switch cfg.Store {
	case "file":
		fs, err := dataset.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		logger.Infof("Storing sessions in %s", cfg.Dir)
		return &sessionStore{fs, func() {}}, nil
	case "sqlite":
		db, err := dataset.OpenSQLite(cfg.Database)
		if err != nil {
			return nil, err
		}
		logger.Infof("Storing sessions in %s", cfg.Database)
		return &sessionStore{db, func() { db.Close() }}, nil
	case "ingest":
		collector, err := ingest.NewCollector(cfg.Ingest.APIKey)
		if err != nil {
			return nil, fmt.Errorf("new collector: %v", err)
		}
		logger.Infof("Uploading sessions to Edge Impulse (%s)", cfg.Ingest.Category)
		return &sessionStore{&dataset.IngestStore{Collector: collector, Category: cfg.Ingest.Category, Log: logger}, func() {}}, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func newRecordLoop(logger logs.Log, cfg config.RecorderConfig, source *camera.FrameSource, car *motor.Car, store dataset.Store) *record.Loop {
	return record.NewLoop(source, car, store, record.Opts{
		Interval: cfg.Interval,
		Log:      logger,
	})
}

// autoPilot is the pilot loop with its model, both nil without model.
type autoPilot struct {
	runner *rccar.RunnerProcess
	loop   *pilot.Loop
}

func newPilot(logger logs.Log, cfg config.PilotConfig, source *camera.FrameSource, car *motor.Car) (_ *autoPilot, rerr error) {
	p := &autoPilot{}
	if cfg.Model == "" {
		logger.Infof("No model, auto mode is unavailable")
		return p, nil
	}

	runner, err := rccar.NewRunnerProcess(cfg.Model, &rccar.RunnerOpts{TraceDir: cfg.TraceDir, Log: logger})
	if err != nil {
		return nil, fmt.Errorf("starting model %s: %v", cfg.Model, err)
	}
	p.runner = runner

	// Make sure we cleanup on failure.
	defer func() {
		if rerr != nil {
			p.close()
		}
	}()

	logger.Infof("Model project %s, %s", runner.Project(), runner.ModelParameters())
	predictor, err := pilot.NewRunnerPredictor(runner, &pilot.RunnerOpts{TraceDir: cfg.TraceDir, Log: logger})
	if err != nil {
		return nil, err
	}
	width, height := predictor.InputSize()
	loop, err := pilot.NewLoop(source, car, pilot.Prepare(width, height), predictor, pilot.Opts{
		Interval:  cfg.Interval,
		Smoothing: cfg.Smoothing,
		Log:       logger,
	})
	if err != nil {
		return nil, err
	}
	p.loop = loop
	return p, nil
}

// remote returns the pilot for the remote control, nil without model.
func (p *autoPilot) remote() remote.Pilot {
	if p.loop == nil {
		return nil
	}
	return p.loop
}

func (p *autoPilot) close() {
	if p.runner != nil {
		p.runner.Close()
	}
}

// Check that the real parts fit the interfaces of the loops.
var (
	_ record.Frames   = (*camera.FrameSource)(nil)
	_ pilot.Frames    = (*camera.FrameSource)(nil)
	_ remote.Frames   = (*camera.FrameSource)(nil)
	_ pilot.Steerer   = (*motor.Car)(nil)
	_ remote.Car      = (*motor.Car)(nil)
	_ remote.Pilot    = (*pilot.Loop)(nil)
	_ remote.Recorder = (*record.Loop)(nil)
)
