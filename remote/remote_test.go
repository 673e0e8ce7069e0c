package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"
	"github.com/edgeimpulse/rccar-go/motor"
	"github.com/edgeimpulse/rccar-go/pilot"
	"github.com/edgeimpulse/rccar-go/record"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeFrames struct {
	mu     sync.Mutex
	n      int
	closed bool
}

func (f *fakeFrames) LatestBinary(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, rccar.ErrSourceClosed
	}
	f.n++
	return []byte{0xff, 0xd8, byte(f.n), 0xff, 0xd9}, nil
}

type fakeSwitch struct {
	mu sync.Mutex
	on bool
}

func (s *fakeSwitch) Enable()  { s.mu.Lock(); s.on = true; s.mu.Unlock() }
func (s *fakeSwitch) Disable() { s.mu.Lock(); s.on = false; s.mu.Unlock() }
func (s *fakeSwitch) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = !s.on
	return s.on
}
func (s *fakeSwitch) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

type fakeRecorder struct{ fakeSwitch }

func (r *fakeRecorder) Stats() record.Stats { return record.Stats{Buffered: 4} }

type fakePilot struct{ fakeSwitch }

func (p *fakePilot) LastDecision() *pilot.Decision {
	return &pilot.Decision{Label: rccar.Right, Scores: []float64{0.1, 0.8, 0.1}}
}
func (p *fakePilot) Stats() pilot.Stats { return pilot.Stats{Decisions: 1} }

type testEnv struct {
	srv      *httptest.Server
	frames   *fakeFrames
	car      *motor.Car
	drive    *motor.LogDriver
	steer    *motor.LogDriver
	recorder *fakeRecorder
	pilot    *fakePilot
}

func newTestEnv(t *testing.T, withPilot bool) *testEnv {
	e := &testEnv{
		frames:   &fakeFrames{},
		drive:    &motor.LogDriver{Name: "drive"},
		steer:    &motor.LogDriver{Name: "steer"},
		recorder: &fakeRecorder{},
	}
	e.car = motor.NewCar(e.drive, e.steer, &motor.CarOpts{Speed: 0.8})
	var p Pilot
	if withPilot {
		e.pilot = &fakePilot{}
		p = e.pilot
	}
	s := NewServer(e.frames, e.car, e.recorder, p, Opts{Log: logs.NewTestingLog(t), StreamFPS: 100})
	e.srv = httptest.NewServer(s)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *testEnv) do(t *testing.T, method, path string) *http.Response {
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIndex(t *testing.T) {
	e := newTestEnv(t, true)
	resp := e.do(t, "GET", "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp = e.do(t, "GET", "/static/remote.js")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestImage(t *testing.T) {
	e := newTestEnv(t, true)
	resp := e.do(t, "GET", "/image")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	require.Contains(t, resp.Header.Get("Cache-Control"), "no-cache")

	e.frames.mu.Lock()
	e.frames.closed = true
	e.frames.mu.Unlock()
	resp = e.do(t, "GET", "/image")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDrive(t *testing.T) {
	e := newTestEnv(t, true)

	for _, cmd := range []string{"forward", "left"} {
		resp := e.do(t, "GET", "/drive/"+cmd)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	require.Equal(t, motor.CarState{Drive: motor.Forward, Steer: rccar.Left}, e.car.Status())

	resp := e.do(t, "POST", "/drive/straight")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, []string{"forward 1.00", "backward 1.00", "stop"}, e.steer.Commands())

	resp = e.do(t, "GET", "/drive/fly")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, []string{"forward 0.80"}, e.drive.Commands())
}

func TestModes(t *testing.T) {
	e := newTestEnv(t, true)

	require.Equal(t, http.StatusNoContent, e.do(t, "GET", "/record").StatusCode)
	require.True(t, e.recorder.Enabled())
	require.Equal(t, http.StatusNoContent, e.do(t, "POST", "/record").StatusCode)
	require.False(t, e.recorder.Enabled())
	require.Equal(t, http.StatusNoContent, e.do(t, "GET", "/record/on").StatusCode)
	require.Equal(t, http.StatusNoContent, e.do(t, "GET", "/record/on").StatusCode)
	require.True(t, e.recorder.Enabled())
	require.Equal(t, http.StatusBadRequest, e.do(t, "GET", "/record/maybe").StatusCode)

	require.Equal(t, http.StatusNoContent, e.do(t, "GET", "/auto").StatusCode)
	require.True(t, e.pilot.Enabled())
	require.Equal(t, http.StatusNoContent, e.do(t, "POST", "/auto/off").StatusCode)
	require.False(t, e.pilot.Enabled())
}

func TestNoPilot(t *testing.T) {
	e := newTestEnv(t, false)
	require.Equal(t, http.StatusServiceUnavailable, e.do(t, "GET", "/auto").StatusCode)
	require.Equal(t, http.StatusServiceUnavailable, e.do(t, "GET", "/auto/on").StatusCode)

	var st Status
	require.NoError(t, json.NewDecoder(e.do(t, "GET", "/status").Body).Decode(&st))
	require.False(t, st.AutoAvail)
	require.Nil(t, st.Decision)
}

func TestStatus(t *testing.T) {
	e := newTestEnv(t, true)
	e.car.DriveForward()
	e.car.SteerRight()
	e.recorder.Enable()

	resp := e.do(t, "GET", "/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	require.Equal(t, map[string]interface{}{"drive": "forward", "steer": "right"}, raw["car"])
	require.Equal(t, true, raw["recording"])
	require.Equal(t, 0.8, raw["speed"])
	require.Equal(t, 4.0, raw["record"].(map[string]interface{})["buffered"])
	require.Equal(t, "right", raw["decision"].(map[string]interface{})["label"])
}

func TestStream(t *testing.T) {
	e := newTestEnv(t, true)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/stream"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	var last byte
	for i := 0; i < 3; i++ {
		c.SetReadDeadline(time.Now().Add(5 * time.Second))
		mt, buf, err := c.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.BinaryMessage, mt)
		require.Len(t, buf, 5)
		require.Greater(t, buf[2], last)
		last = buf[2]
	}

	e.frames.mu.Lock()
	e.frames.closed = true
	e.frames.mu.Unlock()
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := c.ReadMessage()
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
			return
		}
	}
}
