package main

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"scalar-grad-explorer/store"
)

func newTestServer(t *testing.T, withStore bool) *httptest.Server {
	t.Helper()
	var st *store.Store
	if withStore {
		var err error
		st, err = store.Open(filepath.Join(t.TempDir(), "explorer.db"))
		if err != nil {
			t.Fatalf("failed to open store: %v", err)
		}
		t.Cleanup(func() { st.Close() })
	}
	mux := http.NewServeMux()
	NewServer(st, nil).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(ts.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestServerRequiresInit(t *testing.T) {
	ts := newTestServer(t, false)
	for _, path := range []string{"/api/train", "/api/predict", "/api/graph", "/api/checkpoint"} {
		if code := post(t, ts, path, map[string]any{}, nil); code != http.StatusBadRequest {
			t.Errorf("%s before init: expected 400, got %d", path, code)
		}
	}
}

func TestServerTrainPredictGraph(t *testing.T) {
	ts := newTestServer(t, false)

	cfg := DefaultConfig()
	cfg.Inputs = 2
	cfg.Layers = []int{1}
	cfg.LearningRate = 0.05
	data := Dataset{
		Inputs:  [][]float64{{1, 0}, {0, 1}, {1, 1}, {0, 0}},
		Targets: []float64{3, -2, 0, 1},
	}

	var initResp InitResponse
	if code := post(t, ts, "/api/init", InitRequest{Data: data, Config: cfg}, &initResp); code != http.StatusOK {
		t.Fatalf("init: status %d", code)
	}
	if initResp.Params != 3 || initResp.Status != "initialized" {
		t.Errorf("unexpected init response %+v", initResp)
	}
	if initResp.RunID != "" {
		t.Errorf("run id without a store: %q", initResp.RunID)
	}

	var train TrainResponse
	if code := post(t, ts, "/api/train", TrainRequest{Epochs: 300}, &train); code != http.StatusOK {
		t.Fatalf("train: status %d", code)
	}
	if train.Step != 300 || train.Epochs != 300 {
		t.Errorf("unexpected step count %+v", train)
	}
	if train.Loss > 1e-6 || train.Loss >= train.FirstLoss {
		t.Errorf("loss did not converge: %v -> %v", train.FirstLoss, train.Loss)
	}

	var pred PredictResponse
	if code := post(t, ts, "/api/predict", PredictRequest{Inputs: [][]float64{{2, 2}}}, &pred); code != http.StatusOK {
		t.Fatalf("predict: status %d", code)
	}
	if len(pred.Outputs) != 1 || pred.Outputs[0][0] < -1.01 || pred.Outputs[0][0] > -0.99 {
		t.Errorf("predict(2,2) = %v, want about -1", pred.Outputs)
	}
	if code := post(t, ts, "/api/predict", PredictRequest{Inputs: [][]float64{{1}}}, nil); code != http.StatusBadRequest {
		t.Errorf("bad row width: expected 400, got %d", code)
	}

	target := 5.0
	var graph GraphResponse
	if code := post(t, ts, "/api/graph", GraphRequest{Input: []float64{1, 2}, Target: &target}, &graph); code != http.StatusOK {
		t.Fatalf("graph: status %d", code)
	}
	// w0, w1, b, x0, x1, w0*x0, w1*x1, b+.., ..+.., 5, -1, neg, sub, pow
	if len(graph.Nodes) != 14 {
		t.Errorf("expected 14 nodes, got %d", len(graph.Nodes))
	}
	rootNode := graph.Nodes[len(graph.Nodes)-1]
	if rootNode.Op != "**2" || rootNode.Grad != 1 || rootNode.Data != graph.Root {
		t.Errorf("unexpected root node %+v", rootNode)
	}
	if !strings.HasPrefix(graph.Dot, "digraph {") || graph.Tree == "" {
		t.Errorf("missing renderings")
	}
	if code := post(t, ts, "/api/graph", GraphRequest{Input: []float64{1, 2}, RankDir: "XY"}, nil); code != http.StatusBadRequest {
		t.Errorf("bad rankdir: expected 400, got %d", code)
	}

	// Graph requests must not leak nodes into the model graph.
	var again PredictResponse
	post(t, ts, "/api/predict", PredictRequest{Inputs: [][]float64{{2, 2}}}, &again)
	if again.Outputs[0][0] != pred.Outputs[0][0] {
		t.Errorf("prediction changed after graph request")
	}
}

func TestServerInitRejectsBadConfig(t *testing.T) {
	ts := newTestServer(t, false)
	cfg := DefaultConfig()
	cfg.Layers = []int{4, 2}
	if code := post(t, ts, "/api/init", InitRequest{Config: cfg}, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for multi-output net, got %d", code)
	}

	cfg = DefaultConfig()
	data := Dataset{Inputs: [][]float64{{1, 2}}, Targets: []float64{1}}
	if code := post(t, ts, "/api/init", InitRequest{Config: cfg, Data: data}, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for row width mismatch, got %d", code)
	}
}

func TestServerCheckpoints(t *testing.T) {
	ts := newTestServer(t, true)

	var initResp InitResponse
	if code := post(t, ts, "/api/init", nil, &initResp); code != http.StatusOK {
		t.Fatalf("init: status %d", code)
	}
	if initResp.Params != 41 || initResp.RunID == "" {
		t.Fatalf("unexpected init response %+v", initResp)
	}

	for i := 0; i < 2; i++ {
		if code := post(t, ts, "/api/train", TrainRequest{Epochs: 5}, nil); code != http.StatusOK {
			t.Fatalf("train: status %d", code)
		}
		var cp store.Checkpoint
		if code := post(t, ts, "/api/checkpoint", nil, &cp); code != http.StatusOK {
			t.Fatalf("checkpoint: status %d", code)
		}
		if cp.RunID != initResp.RunID || cp.Step != 5*(i+1) || len(cp.Weights) != 41 {
			t.Errorf("unexpected checkpoint %+v", cp)
		}
	}

	resp, err := http.Get(ts.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var history HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatal(err)
	}
	if history.RunID != initResp.RunID || len(history.Checkpoints) != 2 {
		t.Errorf("unexpected history %+v", history)
	}

	resp, err = http.Get(ts.URL + "/api/runs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var runs RunsResponse
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs.Runs) != 1 || runs.Runs[0].ID != initResp.RunID {
		t.Errorf("unexpected runs %+v", runs)
	}

	// Start over, then pick the run back up from its last checkpoint.
	if code := post(t, ts, "/api/init", nil, nil); code != http.StatusOK {
		t.Fatalf("re-init: status %d", code)
	}
	var resumed ResumeResponse
	if code := post(t, ts, "/api/resume", ResumeRequest{RunID: initResp.RunID}, &resumed); code != http.StatusOK {
		t.Fatalf("resume: status %d", code)
	}
	if resumed.Step != 10 || float64(resumed.Loss) != history.Checkpoints[1].Loss {
		t.Errorf("unexpected resume %+v", resumed)
	}
	var train TrainResponse
	if code := post(t, ts, "/api/train", TrainRequest{Epochs: 5}, &train); code != http.StatusOK {
		t.Fatalf("train after resume: status %d", code)
	}
	if train.Step != 15 {
		t.Errorf("expected step 15 after resume, got %d", train.Step)
	}
	if code := post(t, ts, "/api/resume", ResumeRequest{RunID: "missing"}, nil); code != http.StatusNotFound {
		t.Errorf("resume of unknown run: expected 404, got %d", code)
	}
}

func TestServerCheckpointWithoutStore(t *testing.T) {
	ts := newTestServer(t, false)
	if code := post(t, ts, "/api/init", nil, nil); code != http.StatusOK {
		t.Fatalf("init: status %d", code)
	}
	if code := post(t, ts, "/api/checkpoint", nil, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestServerReportsDivergence(t *testing.T) {
	ts := newTestServer(t, true)

	// A single linear neuron with a huge step size overshoots further on
	// every update until the loss overflows.
	cfg := DefaultConfig()
	cfg.Inputs = 1
	cfg.Layers = []int{1}
	cfg.LearningRate = 50
	data := Dataset{Inputs: [][]float64{{1}, {2}}, Targets: []float64{1, 2}}
	if code := post(t, ts, "/api/init", InitRequest{Data: data, Config: cfg}, nil); code != http.StatusOK {
		t.Fatalf("init: status %d", code)
	}

	var train TrainResponse
	if code := post(t, ts, "/api/train", TrainRequest{Epochs: 200}, &train); code != http.StatusOK {
		t.Fatalf("train: status %d", code)
	}
	if !train.Diverged || finite(float64(train.Loss)) {
		t.Errorf("expected a diverged run, got %+v", train)
	}
	if !finite(float64(train.FirstLoss)) {
		t.Errorf("first loss should still be finite: %v", train.FirstLoss)
	}

	var pred PredictResponse
	if code := post(t, ts, "/api/predict", PredictRequest{Inputs: [][]float64{{1}}}, &pred); code != http.StatusOK {
		t.Fatalf("predict: status %d", code)
	}
	if len(pred.Outputs) != 1 || finite(float64(pred.Outputs[0][0])) {
		t.Errorf("expected a non-finite prediction, got %v", pred.Outputs)
	}

	var graph GraphResponse
	if code := post(t, ts, "/api/graph", GraphRequest{Input: []float64{1}}, &graph); code != http.StatusOK {
		t.Fatalf("graph: status %d", code)
	}
	if len(graph.Nodes) == 0 || finite(float64(graph.Root)) {
		t.Errorf("expected a non-finite graph root, got %v over %d nodes", graph.Root, len(graph.Nodes))
	}

	if code := post(t, ts, "/api/checkpoint", nil, nil); code != http.StatusConflict {
		t.Errorf("checkpoint of a diverged run: expected 409, got %d", code)
	}
}

func TestFloatJSON(t *testing.T) {
	for _, v := range []float64{1.5, 0, math.NaN(), math.Inf(1), math.Inf(-1)} {
		b, err := json.Marshal(Float(v))
		if err != nil {
			t.Fatalf("marshal %v: %v", v, err)
		}
		var got Float
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if math.IsNaN(v) {
			if !math.IsNaN(float64(got)) {
				t.Errorf("%s decoded to %v", b, got)
			}
			continue
		}
		if float64(got) != v {
			t.Errorf("%s decoded to %v, want %v", b, got, v)
		}
	}
	if b, _ := json.Marshal(Float(math.Inf(-1))); string(b) != `"-Inf"` {
		t.Errorf("-Inf encoded as %s", b)
	}
}
