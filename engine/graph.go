// Package engine implements a reverse-mode automatic differentiation engine
// over scalar float64 values.
//
// Every operation appends exactly one node to a Graph, an append-only arena.
// A node records its value, its accumulated gradient, the handles of its
// operands and the kind of operation that produced it. Operands always live
// at a lower index than the node that uses them, so the graph is a DAG by
// construction and arena order is already a valid evaluation order.
//
// A Graph is not safe for concurrent use.
package engine

import (
	"fmt"
	"math"
)

// Op identifies the operation that produced a node.
type Op uint8

const (
	OpLeaf Op = iota
	OpAdd
	OpMul
	OpPow
	OpRelu
	OpExp
	OpLog
	OpTanh
)

var opLabels = [...]string{
	OpLeaf: "",
	OpAdd:  "+",
	OpMul:  "*",
	OpPow:  "**",
	OpRelu: "ReLU",
	OpExp:  "exp",
	OpLog:  "log",
	OpTanh: "tanh",
}

// String returns the operation label used by graph renderers.
// Leaves have an empty label.
func (o Op) String() string {
	if int(o) < len(opLabels) {
		return opLabels[o]
	}
	return fmt.Sprintf("Op(%d)", o)
}

// arity is the number of operands an op reads.
func (o Op) arity() int {
	switch o {
	case OpLeaf:
		return 0
	case OpAdd, OpMul:
		return 2
	default:
		return 1
	}
}

type node struct {
	data  float64
	grad  float64
	exp   float64 // OpPow only
	args  [2]int32
	op    Op
	epoch uint32
}

// Graph owns every node created through it.
type Graph struct {
	nodes []node
	epoch uint32
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// Len reports how many nodes are currently allocated.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Leaf creates an input or constant node.
func (g *Graph) Leaf(data float64) Value {
	return g.push(node{data: data, op: OpLeaf})
}

// Leaves creates one leaf per element of data.
func (g *Graph) Leaves(data ...float64) []Value {
	out := make([]Value, len(data))
	for i, d := range data {
		out[i] = g.Leaf(d)
	}
	return out
}

// Mark is a position in the arena returned by Graph.Mark.
type Mark int

// Mark records the current arena length so Rewind can drop everything
// allocated afterwards.
func (g *Graph) Mark() Mark {
	return Mark(len(g.nodes))
}

// Rewind frees every node allocated after m. Values pointing at freed nodes
// become invalid; using one as an operand panics. Values allocated before m
// are untouched, gradients included.
func (g *Graph) Rewind(m Mark) {
	if int(m) < 0 || int(m) > len(g.nodes) {
		panic(fmt.Sprintf("engine: rewind to %d outside arena of %d nodes", m, len(g.nodes)))
	}
	clear(g.nodes[m:])
	g.nodes = g.nodes[:m]
	g.epoch++
}

// ZeroGrad resets the gradient of every node in the arena.
func (g *Graph) ZeroGrad() {
	for i := range g.nodes {
		g.nodes[i].grad = 0
	}
}

func (g *Graph) push(n node) Value {
	if len(g.nodes) >= math.MaxInt32 {
		panic("engine: graph exceeds 2^31-1 nodes")
	}
	n.epoch = g.epoch
	id := int32(len(g.nodes))
	g.nodes = append(g.nodes, n)
	return Value{g: g, id: id, epoch: g.epoch}
}

// at returns the node behind a handle already checked by resolve.
func (g *Graph) at(id int32) *node {
	return &g.nodes[id]
}
