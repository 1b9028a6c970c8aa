// Package nn builds small feed-forward networks out of engine values.
//
// Every parameter is a leaf in one engine.Graph owned by the network.
// Forward passes append nodes after the parameters; callers that run many
// passes should Mark the graph once and Rewind after each pass.
package nn

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/pkg/errors"

	"scalar-grad-explorer/engine"
)

// ErrShape is returned when inputs, targets or layer sizes do not line up.
var ErrShape = errors.New("shape mismatch")

// Module is anything holding trainable parameters.
type Module interface {
	Parameters() []engine.Value
}

// ZeroGrad resets every parameter gradient of m.
func ZeroGrad(m Module) {
	engine.ZeroGrad(m.Parameters()...)
}

// Neuron computes act(w·x + b).
type Neuron struct {
	w      []engine.Value
	b      engine.Value
	nonlin bool
}

// NewNeuron draws nin weights and a bias uniformly from [-1, 1) using rng.
// If nonlin is true the output goes through ReLU.
func NewNeuron(g *engine.Graph, rng *rand.Rand, nin int, nonlin bool) *Neuron {
	w := make([]engine.Value, nin)
	for i := range w {
		w[i] = g.Leaf(uniform(rng))
	}
	return &Neuron{w: w, b: g.Leaf(uniform(rng)), nonlin: nonlin}
}

func uniform(rng *rand.Rand) float64 {
	return rng.Float64()*2 - 1
}

// Call computes the neuron output for x.
func (n *Neuron) Call(x []engine.Value) (engine.Value, error) {
	if len(x) != len(n.w) {
		return engine.Value{}, errors.Wrapf(ErrShape, "neuron expects %d inputs, got %d", len(n.w), len(x))
	}
	g := n.b.Graph()
	terms := make([]engine.Value, len(x))
	for i, wi := range n.w {
		terms[i] = wi.Mul(x[i])
	}
	act := g.Sum(n.b, terms...)
	if n.nonlin {
		return act.Relu(), nil
	}
	return act, nil
}

// Parameters returns the weights followed by the bias.
func (n *Neuron) Parameters() []engine.Value {
	params := make([]engine.Value, len(n.w)+1)
	copy(params, n.w)
	params[len(n.w)] = n.b
	return params
}

func (n *Neuron) String() string {
	kind := "Linear"
	if n.nonlin {
		kind = "ReLU"
	}
	return fmt.Sprintf("%s Neuron(%d)", kind, len(n.w))
}

// Layer is a row of neurons sharing the same inputs.
type Layer struct {
	neurons []*Neuron
}

// NewLayer creates nout neurons with nin inputs each.
func NewLayer(g *engine.Graph, rng *rand.Rand, nin, nout int, nonlin bool) *Layer {
	neurons := make([]*Neuron, nout)
	for i := range neurons {
		neurons[i] = NewNeuron(g, rng, nin, nonlin)
	}
	return &Layer{neurons: neurons}
}

// Call returns one output per neuron.
func (l *Layer) Call(x []engine.Value) ([]engine.Value, error) {
	out := make([]engine.Value, len(l.neurons))
	for i, n := range l.neurons {
		v, err := n.Call(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Parameters returns the parameters of all neurons in order.
func (l *Layer) Parameters() []engine.Value {
	var params []engine.Value
	for _, n := range l.neurons {
		params = append(params, n.Parameters()...)
	}
	return params
}

func (l *Layer) String() string {
	parts := make([]string, len(l.neurons))
	for i, n := range l.neurons {
		parts[i] = n.String()
	}
	return "Layer of [" + strings.Join(parts, ", ") + "]"
}

// MLP is a multi-layer perceptron. Every layer but the last applies ReLU.
type MLP struct {
	g      *engine.Graph
	nin    int
	layers []*Layer
}

// NewMLP creates a network with nin inputs and one layer per entry of nouts.
func NewMLP(g *engine.Graph, rng *rand.Rand, nin int, nouts []int) (*MLP, error) {
	if nin <= 0 {
		return nil, errors.Wrapf(ErrShape, "mlp needs at least one input, got %d", nin)
	}
	if len(nouts) == 0 {
		return nil, errors.Wrap(ErrShape, "mlp needs at least one layer")
	}
	sz := append([]int{nin}, nouts...)
	layers := make([]*Layer, len(nouts))
	for i := range nouts {
		if nouts[i] <= 0 {
			return nil, errors.Wrapf(ErrShape, "layer %d has %d neurons", i, nouts[i])
		}
		layers[i] = NewLayer(g, rng, sz[i], sz[i+1], i != len(nouts)-1)
	}
	return &MLP{g: g, nin: nin, layers: layers}, nil
}

// Graph returns the graph holding the parameters.
func (m *MLP) Graph() *engine.Graph { return m.g }

// Inputs is the expected input width.
func (m *MLP) Inputs() int { return m.nin }

// Outputs is the width of the last layer.
func (m *MLP) Outputs() int { return len(m.layers[len(m.layers)-1].neurons) }

// Call runs the forward pass on values already in the network's graph.
func (m *MLP) Call(x []engine.Value) ([]engine.Value, error) {
	if len(x) != m.nin {
		return nil, errors.Wrapf(ErrShape, "mlp expects %d inputs, got %d", m.nin, len(x))
	}
	var err error
	for _, l := range m.layers {
		if x, err = l.Call(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Forward lifts x into the graph as leaves and runs Call.
func (m *MLP) Forward(x []float64) ([]engine.Value, error) {
	return m.Call(m.g.Leaves(x...))
}

// Predict runs a forward pass and returns plain numbers. The nodes it
// allocates are released before returning.
func (m *MLP) Predict(x []float64) ([]float64, error) {
	mark := m.g.Mark()
	defer m.g.Rewind(mark)

	out, err := m.Forward(x)
	if err != nil {
		return nil, err
	}
	res := make([]float64, len(out))
	for i, v := range out {
		res[i] = v.Data()
	}
	return res, nil
}

// Parameters returns all weights and biases, layer by layer.
func (m *MLP) Parameters() []engine.Value {
	var params []engine.Value
	for _, l := range m.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// Weights snapshots the parameter values in Parameters order.
func (m *MLP) Weights() []float64 {
	params := m.Parameters()
	out := make([]float64, len(params))
	for i, p := range params {
		out[i] = p.Data()
	}
	return out
}

// LoadWeights overwrites the parameter values from a Weights snapshot.
func (m *MLP) LoadWeights(w []float64) error {
	params := m.Parameters()
	if len(w) != len(params) {
		return errors.Wrapf(ErrShape, "expected %d weights, got %d", len(params), len(w))
	}
	for i, p := range params {
		if err := p.SetData(w[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MLP) String() string {
	parts := make([]string, len(m.layers))
	for i, l := range m.layers {
		parts[i] = l.String()
	}
	return "MLP of [" + strings.Join(parts, ", ") + "]"
}
