package remote

import (
	"context"
	"errors"
	"net/http"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"
	"github.com/edgeimpulse/rccar-go/motor"
	"github.com/edgeimpulse/rccar-go/pilot"
	"github.com/edgeimpulse/rccar-go/record"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	buf, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf)
}

func (s *Server) httpStatic(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	r.URL.Path = "/static" + params.ByName("file")
	http.FileServer(http.FS(staticFiles)).ServeHTTP(w, r)
}

// Fetch the next camera frame.
// Example: curl -o frame.jpg localhost:5000/image
func (s *Server) httpImage(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ImageTimeout)
	defer cancel()

	cacheNever(w)
	buf, err := s.frames.LatestBinary(ctx)
	if errors.Is(err, rccar.ErrSourceClosed) {
		http.Error(w, "camera stopped", http.StatusServiceUnavailable)
		return
	} else if err != nil {
		http.Error(w, "no image available: "+err.Error(), http.StatusGatewayTimeout)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(buf)
}

func (s *Server) httpStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Log.Errorf("remote: stream websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()
	s.opts.Log.Infof("remote: streaming to %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reading is needed to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(s.opts.StreamFPS))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		buf, err := s.frames.LatestBinary(ctx)
		if errors.Is(err, rccar.ErrSourceClosed) {
			c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "camera stopped"))
			return
		} else if err != nil {
			return
		}
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.BinaryMessage, buf); err != nil {
			s.opts.Log.Debugf("remote: stream to %s: %v", r.RemoteAddr, err)
			return
		}
	}
}

// Status is the JSON returned by /status.
type Status struct {
	Car       motor.CarState  `json:"car"`
	Speed     float64         `json:"speed,omitempty"`
	Recording bool            `json:"recording"`
	Record    record.Stats    `json:"record"`
	Auto      bool            `json:"auto"`
	AutoAvail bool            `json:"auto_available"`
	Decision  *pilot.Decision `json:"decision,omitempty"`
	Pilot     *pilot.Stats    `json:"pilot,omitempty"`
}

func (s *Server) status() Status {
	st := Status{
		Car:       s.car.Status(),
		Recording: s.recorder.Enabled(),
		Record:    s.recorder.Stats(),
	}
	if sp, ok := s.car.(interface{ Speed() float64 }); ok {
		st.Speed = sp.Speed()
	}
	if s.pilot != nil {
		st.AutoAvail = true
		st.Auto = s.pilot.Enabled()
		st.Decision = s.pilot.LastDecision()
		ps := s.pilot.Stats()
		st.Pilot = &ps
	}
	return st
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cacheNever(w)
	sendJSON(w, s.status())
}

func (s *Server) httpRecordToggle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.recorder.Toggle()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) httpRecordSet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	on, ok := parseMode(params.ByName("mode"))
	if !ok {
		http.Error(w, "mode must be on or off", http.StatusBadRequest)
		return
	}
	if on {
		s.recorder.Enable()
	} else {
		s.recorder.Disable()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) httpAutoToggle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.pilot == nil {
		http.Error(w, "no model loaded", http.StatusServiceUnavailable)
		return
	}
	s.pilot.Toggle()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) httpAutoSet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.pilot == nil {
		http.Error(w, "no model loaded", http.StatusServiceUnavailable)
		return
	}
	on, ok := parseMode(params.ByName("mode"))
	if !ok {
		http.Error(w, "mode must be on or off", http.StatusBadRequest)
		return
	}
	if on {
		s.pilot.Enable()
	} else {
		s.pilot.Disable()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) httpDrive(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cmd := params.ByName("cmd")
	if err := s.car.Command(cmd); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.opts.Log.Debugf("remote: drive %s", cmd)
	w.WriteHeader(http.StatusNoContent)
}
