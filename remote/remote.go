// Package remote is the HTTP remote control of the car: a page with drive
// buttons and the camera view, and the requests behind it.
//
// Requests:
//
//	GET  /                  remote control page
//	GET  /image             latest camera frame as JPEG
//	GET  /stream            websocket with a JPEG frame per binary message
//	GET  /status            car state and modes as JSON
//	GET  /record            toggle recording (also POST)
//	GET  /record/on|off     switch recording on or off (also POST)
//	GET  /auto              toggle the pilot (also POST)
//	GET  /auto/on|off       switch the pilot on or off (also POST)
//	GET  /drive/:cmd        forward, backward, stop, left, right or straight (also POST)
package remote

import (
	"context"
	"embed"
	"encoding/json"
	"net/http"
	"time"

	"github.com/edgeimpulse/rccar-go/motor"
	"github.com/edgeimpulse/rccar-go/pilot"
	"github.com/edgeimpulse/rccar-go/record"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

//go:embed static
var staticFiles embed.FS

// Frames gives encoded camera frames, see camera.FrameSource.
type Frames interface {
	LatestBinary(ctx context.Context) ([]byte, error)
}

// Car takes drive commands, see motor.Car.
type Car interface {
	Command(name string) error
	Status() motor.CarState
}

// Switch is a mode that can be turned on and off.
type Switch interface {
	Enable()
	Disable()
	Toggle() bool
	Enabled() bool
}

// Recorder is the recording mode, see record.Loop.
type Recorder interface {
	Switch
	Stats() record.Stats
}

// Pilot is the auto mode, see pilot.Loop.
type Pilot interface {
	Switch
	LastDecision() *pilot.Decision
	Stats() pilot.Stats
}

// Opts has options for a Server.
type Opts struct {
	Log logs.Log // Required.

	// Maximum frames per second sent on /stream. Every frame sent is one less
	// for the loops, so keep this well below the camera framerate. Default 10.
	StreamFPS int

	// How long /image waits for a frame. Default 2s.
	ImageTimeout time.Duration
}

// Server serves the remote control.
type Server struct {
	frames   Frames
	car      Car
	recorder Recorder
	pilot    Pilot // Nil without a model.
	opts     Opts

	router     *httprouter.Router
	wsUpgrader websocket.Upgrader
}

// NewServer returns a server. Pilot may be nil, auto mode is then unavailable.
func NewServer(frames Frames, car Car, recorder Recorder, pilot Pilot, opts Opts) *Server {
	if opts.StreamFPS <= 0 {
		opts.StreamFPS = 10
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = 2 * time.Second
	}
	s := &Server{
		frames:   frames,
		car:      car,
		recorder: recorder,
		pilot:    pilot,
		opts:     opts,
	}
	s.wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
	}

	router := httprouter.New()
	router.GET("/", s.httpIndex)
	router.GET("/static/*file", s.httpStatic)
	router.GET("/image", s.httpImage)
	router.GET("/stream", s.httpStream)
	router.GET("/status", s.httpStatus)
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		router.Handle(method, "/record", s.httpRecordToggle)
		router.Handle(method, "/record/:mode", s.httpRecordSet)
		router.Handle(method, "/auto", s.httpAutoToggle)
		router.Handle(method, "/auto/:mode", s.httpAutoSet)
		router.Handle(method, "/drive/:cmd", s.httpDrive)
	}
	s.router = router
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	s.opts.Log.Infof("remote: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func cacheNever(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseMode(mode string) (on bool, ok bool) {
	switch mode {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}
