package main

import (
	"encoding/json"
	"math"
	"strconv"

	"scalar-grad-explorer/store"
)

// Float is a float64 that survives JSON when it is not finite.
//
// encoding/json refuses NaN and ±Inf, but a diverged run produces exactly
// those, so they are written as the strings "NaN", "+Inf" and "-Inf".
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func floats(vs []float64) []Float {
	out := make([]Float, len(vs))
	for i, v := range vs {
		out[i] = Float(v)
	}
	return out
}

// Dataset is a list of input rows with one target each.
type Dataset struct {
	Inputs  [][]float64 `json:"inputs"`
	Targets []float64   `json:"targets"`
}

// InitRequest is the payload for /api/init.
// It provides training data and network hyperparameters.
type InitRequest struct {
	Data   Dataset `json:"data"`
	Config Config  `json:"config"`
}

// InitResponse confirms a fresh model.
type InitResponse struct {
	Status string `json:"status"`
	Params int    `json:"params"`
	RunID  string `json:"run_id,omitempty"`
	Model  string `json:"model"`
}

// TrainRequest controls how much work /api/train performs in one call.
// Epochs is optional; the server uses the configured default when omitted.
type TrainRequest struct {
	Epochs int `json:"epochs"`
}

// TrainResponse reports one training call summary.
// Diverged is set once the loss stops being a finite number.
type TrainResponse struct {
	Step      int   `json:"step"`
	Loss      Float `json:"loss"`
	FirstLoss Float `json:"first_loss"`
	Epochs    int   `json:"epochs"`
	Diverged  bool  `json:"diverged"`
}

// PredictRequest holds rows to run through the network.
type PredictRequest struct {
	Inputs [][]float64 `json:"inputs"`
}

// PredictResponse has one output vector per input row.
type PredictResponse struct {
	Outputs [][]Float `json:"outputs"`
}

// GraphRequest asks for the computation graph of one input row.
//
// Target:
// - omitted => graph of the network output only
// - set     => graph of the squared error against Target
//
// RankDir is passed to the DOT renderer ("LR" or "TB").
type GraphRequest struct {
	Input   []float64 `json:"input"`
	Target  *float64  `json:"target,omitempty"`
	RankDir string    `json:"rankdir"`
}

// GraphNode is one vertex as seen by a renderer.
type GraphNode struct {
	ID       int    `json:"id"`
	Op       string `json:"op"`
	Data     Float  `json:"data"`
	Grad     Float  `json:"grad"`
	Operands []int  `json:"operands,omitempty"`
}

// GraphResponse describes the graph behind one forward pass after a
// backward pass from its root.
type GraphResponse struct {
	Root  Float       `json:"root"`
	Nodes []GraphNode `json:"nodes"`
	Edges int         `json:"edges"`
	Dot   string      `json:"dot"`
	Tree  string      `json:"tree,omitempty"`
}

// HistoryResponse lists stored checkpoints of the active run.
type HistoryResponse struct {
	RunID       string              `json:"run_id"`
	Checkpoints []*store.Checkpoint `json:"checkpoints"`
}

// ResumeRequest restores a stored run from its latest checkpoint.
// Datasets are not stored, so Data is supplied again (demo data when empty).
type ResumeRequest struct {
	RunID string  `json:"run_id"`
	Data  Dataset `json:"data"`
}

// ResumeResponse reports where training picks up.
type ResumeResponse struct {
	RunID string `json:"run_id"`
	Step  int    `json:"step"`
	Loss  Float  `json:"loss"`
}

// RunsResponse lists every stored run.
type RunsResponse struct {
	Runs []*store.Run `json:"runs"`
}
