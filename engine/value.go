package engine

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Value is a handle to a node in a Graph.
//
// Think of it as a "number with memory": Data is the number used in the
// forward computation, Grad is how much the final output changes when this
// number changes a little. Two Values are the same node only if they are the
// same handle; equal data does not make them equal.
//
// The zero Value is not attached to any graph and is rejected by every operation.
type Value struct {
	g     *Graph
	id    int32
	epoch uint32
}

// Valid reports whether v still refers to a live node.
func (v Value) Valid() bool {
	if v.g == nil || v.id < 0 || int(v.id) >= len(v.g.nodes) {
		return false
	}
	return v.g.nodes[v.id].epoch == v.epoch
}

// Graph returns the graph v belongs to.
func (v Value) Graph() *Graph { return v.g }

// ID is the arena index of the node. Operands always have a smaller ID than
// their consumers.
func (v Value) ID() int { return int(v.id) }

func (v Value) node() *node {
	if !v.Valid() {
		panic(invalidOperand("access", "stale or detached value handle"))
	}
	return v.g.at(v.id)
}

// Data returns the forward value.
func (v Value) Data() float64 { return v.node().data }

// Grad returns the accumulated gradient.
func (v Value) Grad() float64 { return v.node().grad }

// Op returns the operation that produced v, OpLeaf for inputs and constants.
func (v Value) Op() Op { return v.node().op }

// IsLeaf reports whether v has no operands.
func (v Value) IsLeaf() bool { return v.node().op == OpLeaf }

// Exponent returns the constant power of an OpPow node and false for any other op.
func (v Value) Exponent() (float64, bool) {
	n := v.node()
	return n.exp, n.op == OpPow
}

// Label is the human-readable op label, including the exponent for powers.
func (v Value) Label() string {
	n := v.node()
	if n.op == OpPow {
		return "**" + strconv.FormatFloat(n.exp, 'g', -1, 64)
	}
	return n.op.String()
}

// Operands returns the distinct nodes v was computed from, in operand order.
// The slice is freshly allocated; modifying it does not touch the graph.
func (v Value) Operands() []Value {
	n := v.node()
	k := n.op.arity()
	out := make([]Value, 0, k)
	for i := 0; i < k; i++ {
		id := n.args[i]
		if i == 1 && id == n.args[0] {
			continue
		}
		out = append(out, v.g.handle(id))
	}
	return out
}

// ZeroGrad resets v's gradient.
func (v Value) ZeroGrad() { v.node().grad = 0 }

// SetData replaces the value of a leaf, e.g. a parameter update
// value -= learningRate * grad. Nodes produced by an operation keep the value
// computed at construction and return ErrNotLeaf.
func (v Value) SetData(data float64) error {
	n := v.node()
	if n.op != OpLeaf {
		return errors.Wrapf(ErrNotLeaf, "set data on %q node %d", v.Label(), v.id)
	}
	n.data = data
	return nil
}

func (v Value) String() string {
	if !v.Valid() {
		return "Value(invalid)"
	}
	n := v.g.at(v.id)
	return fmt.Sprintf("Value(data=%g, grad=%g)", n.data, n.grad)
}

// handle rebuilds a Value for an arena index.
func (g *Graph) handle(id int32) Value {
	return Value{g: g, id: id, epoch: g.nodes[id].epoch}
}

// ZeroGrad resets the gradient of each value, typically a network's parameters,
// before a fresh backward pass.
func ZeroGrad(vals ...Value) {
	for _, v := range vals {
		v.ZeroGrad()
	}
}
