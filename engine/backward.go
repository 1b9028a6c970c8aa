package engine

import "math"

// contribution is one chain-rule term: add delta to the gradient of operand id.
type contribution struct {
	id    int32
	delta float64
}

// contributions computes the local chain-rule terms of node id from its
// current gradient and its operands' values. It reads the graph and writes
// nothing; the caller accumulates the result.
func (g *Graph) contributions(id int32) ([2]contribution, int) {
	n := g.at(id)
	var out [2]contribution
	a := n.args[0]
	switch n.op {
	case OpAdd:
		out[0] = contribution{a, n.grad}
		out[1] = contribution{n.args[1], n.grad}
		return out, 2
	case OpMul:
		b := n.args[1]
		out[0] = contribution{a, n.grad * g.at(b).data}
		out[1] = contribution{b, n.grad * g.at(a).data}
		return out, 2
	case OpPow:
		out[0] = contribution{a, n.grad * n.exp * math.Pow(g.at(a).data, n.exp-1)}
		return out, 1
	case OpRelu:
		var d float64
		if n.data > 0 {
			d = n.grad
		}
		out[0] = contribution{a, d}
		return out, 1
	case OpExp:
		out[0] = contribution{a, n.grad * n.data}
		return out, 1
	case OpLog:
		out[0] = contribution{a, n.grad / g.at(a).data}
		return out, 1
	case OpTanh:
		out[0] = contribution{a, n.grad * (1 - n.data*n.data)}
		return out, 1
	}
	return out, 0
}

// TopoOrder returns every node reachable from root, each one after all of
// its operands (depth-first post-order, operands visited left to right).
// root is last.
func (g *Graph) TopoOrder(root Value) []Value {
	ids := g.topo(root.resolve(g, "topo").id)
	out := make([]Value, len(ids))
	for i, id := range ids {
		out[i] = g.handle(id)
	}
	return out
}

// topo walks with an explicit stack so graph depth is bounded by memory, not
// by the goroutine stack. Each frame remembers which operand to visit next.
func (g *Graph) topo(root int32) []int32 {
	type frame struct {
		id   int32
		next int
	}
	// Handles below root are the only ones reachable from it.
	visited := make([]bool, root+1)
	var order []int32
	stack := []frame{{id: root}}
	visited[root] = true

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n := g.at(top.id)
		k := n.op.arity()
		if top.next < k {
			child := n.args[top.next]
			top.next++
			if !visited[child] {
				visited[child] = true
				stack = append(stack, frame{id: child})
			}
			continue
		}
		order = append(order, top.id)
		stack = stack[:len(stack)-1]
	}
	return order
}

// Backward performs reverse-mode autodiff from v to all of its ancestors.
//
// Process:
// 1) Build topological order so each node comes after its operands.
// 2) Seed v's gradient with 1 (dv/dv = 1).
// 3) Walk the order in reverse and add each node's chain-rule terms into its
// operands. Reverse order guarantees a node has heard from all its consumers
// before it passes its own gradient on.
//
// Existing gradients are accumulated into, not cleared. Call ZeroGrad first
// for a fresh computation.
func (v Value) Backward() {
	g := v.graph("backward")
	order := g.topo(v.resolve(g, "backward").id)

	g.at(v.id).grad = 1
	for i := len(order) - 1; i >= 0; i-- {
		terms, k := g.contributions(order[i])
		for _, c := range terms[:k] {
			g.at(c.id).grad += c.delta
		}
	}
}
