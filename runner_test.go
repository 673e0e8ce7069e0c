package rccar

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// fakeModel answers classify requests on conn like a model process does,
// with a zero byte after each JSON response.
func fakeModel(t *testing.T, conn net.Conn, scores map[string]float64) {
	dec := json.NewDecoder(bufio.NewReader(conn))
	for {
		var req RunnerClassifyRequest
		if err := dec.Decode(&req); err != nil {
			return
		}
		var resp RunnerClassifyResponse
		resp.ID = req.ID
		resp.Success = len(req.Classify) == 4
		if !resp.Success {
			resp.Error = "wrong number of features"
		} else {
			resp.Result.Classification = scores
		}
		buf, err := json.Marshal(resp)
		if err != nil {
			t.Errorf("marshal: %v", err)
			return
		}
		if _, err := conn.Write(append(buf, '\n', 0)); err != nil {
			return
		}
	}
}

func TestRunnerClassify(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go fakeModel(t, server, map[string]float64{"left": 0.1, "right": 0.2, "straight": 0.7})

	traceDir := t.TempDir()
	r := &RunnerProcess{
		conn: client,
		opts: RunnerOpts{ReadTimeout: 5 * time.Second, TraceDir: traceDir, Log: logs.NewTestingLog(t)},
	}
	defer r.Close()

	resp, err := r.Classify([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, int64(1), resp.ID)
	require.Equal(t, 0.7, resp.Result.Classification["straight"])
	require.Contains(t, resp.String(), "straight=0.7000")

	_, err = os.Stat(filepath.Join(traceDir, "runner-1-request.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(traceDir, "runner-1-response.json"))
	require.NoError(t, err)

	_, err = r.Classify([]float64{1})
	require.ErrorContains(t, err, "wrong number of features")
}

func TestModelParameters(t *testing.T) {
	p := ModelParameters{
		SensorType:        SensorTypeCamera,
		ImageInputWidth:   16,
		ImageInputHeight:  16,
		ImageChannelCount: 1,
		Labels:            []string{"left", "right", "straight"},
	}
	require.Equal(t, "camera 16x16x1, classes left,right,straight", p.String())

	names, err := p.SteeringLabels()
	require.NoError(t, err)
	require.Equal(t, [NumLabels]string{"left", "right", "straight"}, names)

	var resp RunnerClassifyResponse
	resp.Result.Classification = map[string]float64{"left": 0.2, "right": 0.3, "straight": 0.5}
	scores, err := resp.SteeringScores(names)
	require.NoError(t, err)
	require.Equal(t, []float64{0.2, 0.3, 0.5}, scores)

	delete(resp.Result.Classification, "right")
	_, err = resp.SteeringScores(names)
	require.Error(t, err)

	for _, labels := range [][]string{
		{"left", "right"},
		{"left", "right", "straight", "left"},
		{"left", "right", "up"},
	} {
		p.Labels = labels
		_, err := p.SteeringLabels()
		require.Error(t, err, "labels %v", labels)
	}
}
