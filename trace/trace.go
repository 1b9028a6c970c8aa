// Package trace renders the computation graph behind a value. It only reads
// the graph through engine's introspection accessors.
package trace

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m1gwings/treedrawer/tree"
	"github.com/pkg/errors"

	"scalar-grad-explorer/engine"
)

// Edge points from an operand to the node that consumed it.
type Edge struct {
	From, To engine.Value
}

// Trace collects every node reachable from root and every operand edge
// between them. Nodes come in topological order.
func Trace(root engine.Value) ([]engine.Value, []Edge) {
	nodes := root.Graph().TopoOrder(root)
	var edges []Edge
	for _, n := range nodes {
		for _, op := range n.Operands() {
			edges = append(edges, Edge{From: op, To: n})
		}
	}
	return nodes, edges
}

// Options for Dot.
type Options struct {
	// RankDir is "LR" (left to right, default) or "TB" (top to bottom).
	RankDir string
}

// Dot returns a Graphviz digraph. Every node is a record with its data and
// gradient; each non-leaf also gets an op vertex feeding it.
func Dot(root engine.Value, opts Options) (string, error) {
	rankdir := opts.RankDir
	if rankdir == "" {
		rankdir = "LR"
	}
	if rankdir != "LR" && rankdir != "TB" {
		return "", errors.Errorf("rankdir must be LR or TB, got %q", rankdir)
	}

	nodes, edges := Trace(root)
	var b strings.Builder
	fmt.Fprintf(&b, "digraph {\n\trankdir=%s;\n", rankdir)
	for _, n := range nodes {
		name := nodeName(n)
		fmt.Fprintf(&b, "\t%q [label=\"{ data %.4f | grad %.4f }\", shape=record];\n", name, n.Data(), n.Grad())
		if op := n.Label(); op != "" {
			fmt.Fprintf(&b, "\t%q [label=%q];\n", name+op, op)
			fmt.Fprintf(&b, "\t%q -> %q;\n", name+op, name)
		}
	}
	for _, e := range edges {
		fmt.Fprintf(&b, "\t%q -> %q;\n", nodeName(e.From), nodeName(e.To)+e.To.Label())
	}
	b.WriteString("}\n")
	return b.String(), nil
}

func nodeName(v engine.Value) string {
	return "n" + strconv.Itoa(v.ID())
}

// Tree draws the graph as a text tree rooted at root, operands as children.
// A node reachable along several paths is expanded once; its other
// occurrences show a "see #id" reference.
func Tree(root engine.Value) string {
	t := tree.NewTree(tree.NodeString(treeLabel(root)))
	expanded := map[int]bool{root.ID(): true}

	type item struct {
		v engine.Value
		t *tree.Tree
	}
	stack := []item{{root, t}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, op := range it.v.Operands() {
			if expanded[op.ID()] {
				it.t.AddChild(tree.NodeString(fmt.Sprintf("see #%d", op.ID())))
				continue
			}
			expanded[op.ID()] = true
			child := it.t.AddChild(tree.NodeString(treeLabel(op)))
			stack = append(stack, item{op, child})
		}
	}
	return t.String()
}

func treeLabel(v engine.Value) string {
	label := fmt.Sprintf("#%d data %.4f grad %.4f", v.ID(), v.Data(), v.Grad())
	if op := v.Label(); op != "" {
		return op + " " + label
	}
	return label
}
