// Command rccar runs the car: it records the camera, takes drive commands
// from the remote control web page, records labeled sessions while driving,
// and steers on its own with a model in auto mode.
//
// Example:
//
//	rccar -c rccar.yaml
//	rccar --dry-run --listen :8080
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	rccar "github.com/edgeimpulse/rccar-go"
	"github.com/edgeimpulse/rccar-go/config"
	"github.com/edgeimpulse/rccar-go/remote"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"golang.org/x/sync/errgroup"
)

func main() {
	parser := argparse.NewParser("rccar", "Remote controlled car that learns to steer")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file", Default: ""})
	listen := parser.String("", "listen", &argparse.Options{Help: "Address for the remote control, overrides the configuration", Default: ""})
	dryRun := parser.Flag("", "dry-run", &argparse.Options{Help: "Log motor commands instead of sending them to the board", Default: false})
	listDevices := parser.Flag("", "list-devices", &argparse.Options{Help: "List camera devices for the configured recorder and exit", Default: false})
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

	cfg, err := config.Decode(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}
	if *dryRun {
		cfg.Motors.DryRun = true
	}
	if *listDevices {
		// Listing devices needs no motors.
		cfg.Motors.DryRun = true
	}
	if err := config.Validate(cfg); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	if *listDevices {
		if err := printDevices(cfg.Camera); err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		return
	}

	if err := run(logger, cfg); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(logger logs.Log, cfg *config.Config) error {
	car, err := newCar(logger, cfg.Motors)
	if err != nil {
		return err
	}
	defer car.close()

	store, err := newStore(logger, cfg.Recorder)
	if err != nil {
		return err
	}
	defer store.close()

	source, err := newFrameSource(logger, cfg.Camera)
	if err != nil {
		return err
	}
	defer source.Close()

	recorder := newRecordLoop(logger, cfg.Recorder, source, car.Car, store.Store)

	autopilot, err := newPilot(logger, cfg.Pilot, source, car.Car)
	if err != nil {
		return err
	}
	defer autopilot.close()

	server := remote.NewServer(source, car.Car, recorder, autopilot.remote(), remote.Opts{
		Log:       logger,
		StreamFPS: cfg.HTTP.StreamFPS,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Only the server or a signal ends the program. A loop that loses the
	// camera stops on its own; driving by hand still works.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runLoop(gctx, logger, "recorder", recorder.Run)
	})
	if autopilot.loop != nil {
		g.Go(func() error {
			return runLoop(gctx, logger, "pilot", autopilot.loop.Run)
		})
	}
	g.Go(func() error {
		logger.Infof("Remote control on http://%s", cfg.HTTP.Listen)
		return server.ListenAndServe(gctx, cfg.HTTP.Listen)
	})

	err = g.Wait()
	logger.Infof("Shutting down")

	// Stop first, then store what was recorded.
	car.Halt()
	source.Close()
	recorder.Disable()
	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if ferr := recorder.FlushPending(flushCtx); ferr != nil {
		logger.Errorf("Storing last session: %v", ferr)
		if err == nil {
			err = ferr
		}
	}
	return err
}

// runLoop runs a recorder or pilot loop until ctx is done. Losing the camera
// ends only that loop, so it is logged and not returned.
func runLoop(ctx context.Context, logger logs.Log, name string, run func(context.Context) error) error {
	err := run(ctx)
	if errors.Is(err, rccar.ErrSourceClosed) {
		logger.Errorf("The %s stopped, camera closed. Manual driving keeps working.", name)
		return nil
	} else if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
