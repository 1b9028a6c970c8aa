package main

import (
	"scalar-grad-explorer/engine"
	"scalar-grad-explorer/trace"
)

// maxTreeNodes bounds the text tree; larger graphs only get DOT output.
const maxTreeNodes = 200

// Explain builds the graph for one input row, runs a backward pass from its
// root and describes every node.
//
// With a target the root is (output - target)², so gradients show how each
// weight pushes this single sample's error. Parameter gradients are reset
// first and left holding this sample's gradients; training resets them again
// before its own backward pass. The caller must hold model.mu.
func (m *Model) Explain(req GraphRequest) (GraphResponse, error) {
	g := m.Net.Graph()
	mark := g.Mark()
	defer g.Rewind(mark)

	out, err := m.Net.Forward(req.Input)
	if err != nil {
		return GraphResponse{}, err
	}
	root := out[0]
	if req.Target != nil {
		root = root.Sub(engine.Literal(*req.Target)).Pow(2)
	}

	engine.ZeroGrad(m.Net.Parameters()...)
	root.Backward()

	dot, err := trace.Dot(root, trace.Options{RankDir: req.RankDir})
	if err != nil {
		return GraphResponse{}, err
	}
	nodes, edges := trace.Trace(root)

	resp := GraphResponse{
		Root:  Float(root.Data()),
		Nodes: make([]GraphNode, len(nodes)),
		Edges: len(edges),
		Dot:   dot,
	}
	for i, n := range nodes {
		gn := GraphNode{ID: n.ID(), Op: n.Label(), Data: Float(n.Data()), Grad: Float(n.Grad())}
		for _, op := range n.Operands() {
			gn.Operands = append(gn.Operands, op.ID())
		}
		resp.Nodes[i] = gn
	}
	if len(nodes) <= maxTreeNodes {
		resp.Tree = trace.Tree(root)
	}
	return resp, nil
}
