package main

import (
	"encoding/json"
	"math/rand"
	"os"
	"sync"

	"github.com/pkg/errors"

	"scalar-grad-explorer/engine"
	"scalar-grad-explorer/nn"
	"scalar-grad-explorer/store"
)

// Config contains all key hyperparameters.
//
// - inputs: width of each input row
// - layers: neurons per layer; every layer but the last uses ReLU
// - learning_rate: step size for optimization
// - optimizer: "sgd" or "adam"
// - loss: "mse" or "hinge"
// - seed: seeds weight initialization, so equal configs build equal networks
// - epochs: default number of epochs per training call
type Config struct {
	Inputs       int     `json:"inputs"`
	Layers       []int   `json:"layers"`
	LearningRate float64 `json:"learning_rate"`
	Optimizer    string  `json:"optimizer"`
	Loss         string  `json:"loss"`
	Seed         int64   `json:"seed"`
	Epochs       int     `json:"epochs"`
}

// DefaultConfig is the 3-4-4-1 network trained with plain gradient descent.
func DefaultConfig() Config {
	return Config{
		Inputs:       3,
		Layers:       []int{4, 4, 1},
		LearningRate: 0.01,
		Optimizer:    "sgd",
		Loss:         "mse",
		Seed:         1,
		Epochs:       200,
	}
}

// LoadConfig reads a JSON file over DefaultConfig. Missing fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configs NewModel cannot build.
func (c Config) Validate() error {
	if c.Inputs <= 0 {
		return errors.Errorf("config: inputs must be positive, got %d", c.Inputs)
	}
	if len(c.Layers) == 0 {
		return errors.New("config: at least one layer is required")
	}
	if c.Layers[len(c.Layers)-1] != 1 {
		return errors.Errorf("config: last layer must have one neuron, got %d", c.Layers[len(c.Layers)-1])
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("config: learning_rate must be positive, got %g", c.LearningRate)
	}
	if _, err := nn.OptimizerByName(c.Optimizer, c.LearningRate); err != nil {
		return errors.Wrap(err, "config")
	}
	if _, err := nn.LossByName(c.Loss); err != nil {
		return errors.Wrap(err, "config")
	}
	return nil
}

// Model stores the network and its optimizer state.
//
// Notes:
// - Net owns its own engine.Graph holding every parameter.
// - Opt keeps optimizer state (Adam moments) across training calls.
// - mu serializes forward/backward/update between HTTP requests, since a
// graph is not safe for concurrent use.
type Model struct {
	Config Config
	Net    *nn.MLP
	Opt    nn.Optimizer
	Loss   nn.LossFunc
	Steps  int
	mu     sync.Mutex
}

// NewModel builds and initializes a network from config.
func NewModel(config Config) (*Model, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(config.Seed))
	net, err := nn.NewMLP(engine.NewGraph(), rng, config.Inputs, config.Layers)
	if err != nil {
		return nil, err
	}
	opt, _ := nn.OptimizerByName(config.Optimizer, config.LearningRate)
	loss, _ := nn.LossByName(config.Loss)
	return &Model{
		Config: config,
		Net:    net,
		Opt:    opt,
		Loss:   loss,
	}, nil
}

// Params is the number of trainable scalars.
func (m *Model) Params() int {
	return len(m.Net.Parameters())
}

// demoDataset is the four-sample toy problem used when no data is supplied.
func demoDataset() Dataset {
	return Dataset{
		Inputs: [][]float64{
			{2.0, 3.0, -1.0},
			{3.0, -1.0, 0.5},
			{0.5, 1.0, 1.0},
			{1.0, 1.0, -1.0},
		},
		Targets: []float64{1.0, -1.0, -1.0, 1.0},
	}
}

// RestoreModel rebuilds a stored run's network and loads the weights of
// its latest checkpoint. Optimizer state is not stored, so Adam restarts
// with fresh moments.
func RestoreModel(st *store.Store, runID string) (*Model, *store.Checkpoint, error) {
	run, err := st.GetRun(runID)
	if err != nil {
		return nil, nil, err
	}
	config := DefaultConfig()
	if err := json.Unmarshal(run.Config, &config); err != nil {
		return nil, nil, errors.Wrapf(err, "parse config of run %s", runID)
	}
	model, err := NewModel(config)
	if err != nil {
		return nil, nil, err
	}
	cp, err := st.LatestCheckpoint(runID)
	if err != nil {
		return nil, nil, err
	}
	if err := model.Net.LoadWeights(cp.Weights); err != nil {
		return nil, nil, err
	}
	model.Steps = cp.Step
	return model, cp, nil
}
