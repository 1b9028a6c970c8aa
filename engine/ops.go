package engine

import "math"

// Operand is accepted by every binary operation: either a Value already in
// the graph or a Literal that is promoted to a fresh leaf.
type Operand interface {
	resolve(g *Graph, op string) Value
}

// Literal is a raw number used directly as an operand.
type Literal float64

func (l Literal) resolve(g *Graph, _ string) Value {
	return g.Leaf(float64(l))
}

func (v Value) resolve(g *Graph, op string) Value {
	if v.g == nil {
		panic(invalidOperand(op, "value is not attached to a graph"))
	}
	if v.g != g {
		panic(invalidOperand(op, "value belongs to a different graph"))
	}
	if !v.Valid() {
		panic(invalidOperand(op, "value handle %d was freed by Rewind", v.id))
	}
	return v
}

// check rejects a bad handle without allocating, so a failed binary
// operation never leaves a promoted literal behind.
func check(g *Graph, op string, xs ...Operand) {
	for _, x := range xs {
		switch x := x.(type) {
		case Value:
			x.resolve(g, op)
		case Literal:
		case nil:
			panic(invalidOperand(op, "nil operand"))
		}
	}
}

func (g *Graph) binary(op Op, a, b Operand) Value {
	name := op.String()
	check(g, name, a, b)
	x, y := a.resolve(g, name), b.resolve(g, name)
	xn, yn := g.at(x.id), g.at(y.id)

	var data float64
	switch op {
	case OpAdd:
		data = xn.data + yn.data
	case OpMul:
		data = xn.data * yn.data
	}
	return g.push(node{data: data, op: op, args: [2]int32{x.id, y.id}})
}

func (g *Graph) unary(op Op, a Operand, p float64) Value {
	name := op.String()
	check(g, name, a)
	x := a.resolve(g, name)
	in := g.at(x.id).data

	var data float64
	switch op {
	case OpPow:
		data = math.Pow(in, p)
	case OpRelu:
		// Zero maps to zero, and so does its gradient. NaN passes through.
		data = in
		if in <= 0 {
			data = 0
		}
	case OpExp:
		data = math.Exp(in)
	case OpLog:
		data = math.Log(in)
	case OpTanh:
		data = math.Tanh(in)
	}
	return g.push(node{data: data, op: op, exp: p, args: [2]int32{x.id, x.id}})
}

// Add creates node z = a + b.
func (g *Graph) Add(a, b Operand) Value { return g.binary(OpAdd, a, b) }

// Mul creates node z = a * b.
func (g *Graph) Mul(a, b Operand) Value { return g.binary(OpMul, a, b) }

// Pow creates node z = a^p. The exponent is a constant, not a graph node.
func (g *Graph) Pow(a Operand, p float64) Value { return g.unary(OpPow, a, p) }

// PowOf is Pow for an exponent of unknown type. Non-numeric exponents fail
// with ErrInvalidOperand before anything is allocated.
func (g *Graph) PowOf(a Operand, p any) (Value, error) {
	exp, err := Exponent(p)
	if err != nil {
		return Value{}, err
	}
	return g.Pow(a, exp), nil
}

// Relu creates node z = max(0, a).
func (g *Graph) Relu(a Operand) Value { return g.unary(OpRelu, a, 0) }

// Exp creates node z = e^a.
func (g *Graph) Exp(a Operand) Value { return g.unary(OpExp, a, 0) }

// Log creates node z = ln(a).
func (g *Graph) Log(a Operand) Value { return g.unary(OpLog, a, 0) }

// Tanh creates node z = tanh(a).
func (g *Graph) Tanh(a Operand) Value { return g.unary(OpTanh, a, 0) }

// Neg is a * -1.
func (g *Graph) Neg(a Operand) Value { return g.Mul(a, Literal(-1)) }

// Sub is a + (-b).
func (g *Graph) Sub(a, b Operand) Value {
	check(g, "-", a, b)
	if lit, ok := b.(Literal); ok {
		// Promote first so the graph matches Sub(a, Leaf(b)).
		b = g.Leaf(float64(lit))
	}
	return g.Add(a, g.Neg(b))
}

// Div is a * b^-1.
func (g *Graph) Div(a, b Operand) Value {
	check(g, "/", a, b)
	if lit, ok := b.(Literal); ok {
		b = g.Leaf(float64(lit))
	}
	return g.Mul(a, g.Pow(b, -1))
}

// Sum adds vals left to right starting from start, like a running
// accumulator. An empty vals returns start unchanged.
func (g *Graph) Sum(start Operand, vals ...Value) Value {
	check(g, "sum", start)
	for _, v := range vals {
		check(g, "sum", v)
	}
	acc := start.resolve(g, "sum")
	for _, v := range vals {
		acc = g.Add(acc, v)
	}
	return acc
}

// Method forms operate on v's own graph.

func (v Value) Add(o Operand) Value { return v.graph("+").Add(v, o) }
func (v Value) Mul(o Operand) Value { return v.graph("*").Mul(v, o) }
func (v Value) Sub(o Operand) Value { return v.graph("-").Sub(v, o) }
func (v Value) Div(o Operand) Value { return v.graph("/").Div(v, o) }
func (v Value) Neg() Value          { return v.graph("neg").Neg(v) }
func (v Value) Pow(p float64) Value { return v.graph("**").Pow(v, p) }
func (v Value) Relu() Value         { return v.graph("ReLU").Relu(v) }
func (v Value) Exp() Value          { return v.graph("exp").Exp(v) }
func (v Value) Log() Value          { return v.graph("log").Log(v) }
func (v Value) Tanh() Value         { return v.graph("tanh").Tanh(v) }

// PowOf is the method form of Graph.PowOf.
func (v Value) PowOf(p any) (Value, error) {
	exp, err := Exponent(p)
	if err != nil {
		return Value{}, err
	}
	return v.Pow(exp), nil
}

func (v Value) graph(op string) *Graph {
	if v.g == nil {
		panic(invalidOperand(op, "value is not attached to a graph"))
	}
	return v.g
}
