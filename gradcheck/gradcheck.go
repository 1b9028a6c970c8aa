// Package gradcheck compares gradients from the engine's backward pass with
// central finite differences computed by gonum.
package gradcheck

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"

	"scalar-grad-explorer/engine"
)

// ErrGradientMismatch is returned when an analytic gradient and its
// numerical estimate disagree beyond the tolerance.
var ErrGradientMismatch = errors.New("gradient mismatch")

// Func builds a scalar expression over the given leaves on g and returns its root.
type Func func(g *engine.Graph, x []engine.Value) engine.Value

// Result holds both gradient estimates for one input.
type Result struct {
	Index    int
	Analytic float64
	Numeric  float64
}

// RelError is |analytic - numeric| relative to the larger magnitude, or
// absolute when both are below 1.
func (r Result) RelError() float64 {
	scale := math.Max(1, math.Max(math.Abs(r.Analytic), math.Abs(r.Numeric)))
	return math.Abs(r.Analytic-r.Numeric) / scale
}

// Options tune the finite difference estimate.
type Options struct {
	// Tolerance on Result.RelError. Zero means 1e-4.
	Tolerance float64
	// Step of the central difference stencil. Zero uses gonum's default.
	Step float64
	// Concurrent evaluates stencil points in parallel; every evaluation
	// builds its own graph, so nothing is shared.
	Concurrent bool
}

// Check evaluates f at x twice: once through Backward, once through gonum's
// central difference formula, rebuilding the graph for every probe.
// It returns one Result per input and ErrGradientMismatch if any of them
// exceeds the tolerance.
func Check(f Func, x []float64, opts Options) ([]Result, error) {
	if f == nil {
		return nil, errors.New("gradcheck: nil function")
	}
	if len(x) == 0 {
		return nil, errors.New("gradcheck: no inputs")
	}
	tol := opts.tolerance()

	analytic, err := Analytic(f, x)
	if err != nil {
		return nil, err
	}

	numeric := fd.Gradient(nil, func(p []float64) float64 {
		g := engine.NewGraph()
		return f(g, g.Leaves(p...)).Data()
	}, x, &fd.Settings{
		Formula:    fd.Central,
		Step:       opts.Step,
		Concurrent: opts.Concurrent,
	})

	results := make([]Result, len(x))
	var bad []string
	for i := range x {
		results[i] = Result{Index: i, Analytic: analytic[i], Numeric: numeric[i]}
		if e := results[i].RelError(); !(e <= tol) {
			bad = append(bad, fmt.Sprintf("x[%d]: analytic %g, numeric %g", i, analytic[i], numeric[i]))
		}
	}
	if len(bad) > 0 {
		return results, errors.Wrapf(ErrGradientMismatch, "%s", strings.Join(bad, "; "))
	}
	return results, nil
}

func (o Options) tolerance() float64 {
	if o.Tolerance == 0 {
		return 1e-4
	}
	return o.Tolerance
}

// Outer continues an expression from an intermediate node. It may use the
// original leaves x as well as inner.
type Outer func(g *engine.Graph, inner engine.Value, x []engine.Value) engine.Value

// CheckIntermediate checks the gradient Backward leaves on a node that is
// not an input. The full expression outer(inner(x), x) is built once and
// differentiated; then the node is cut loose: outer is rebuilt with a leaf
// holding the node's value in its place and differentiated numerically in
// that leaf alone. The returned Result has Index -1.
func CheckIntermediate(inner Func, outer Outer, x []float64, opts Options) (Result, error) {
	if inner == nil || outer == nil {
		return Result{}, errors.New("gradcheck: nil function")
	}

	g := engine.NewGraph()
	leaves := g.Leaves(x...)
	node := inner(g, leaves)
	if !node.Valid() || node.Graph() != g {
		return Result{}, errors.New("gradcheck: inner returned a value outside its graph")
	}
	root := outer(g, node, leaves)
	if !root.Valid() || root.Graph() != g {
		return Result{}, errors.New("gradcheck: outer returned a value outside its graph")
	}
	root.Backward()

	numeric := fd.Derivative(func(h float64) float64 {
		g := engine.NewGraph()
		leaves := g.Leaves(x...)
		return outer(g, g.Leaf(h), leaves).Data()
	}, node.Data(), &fd.Settings{Formula: fd.Central, Step: opts.Step})

	r := Result{Index: -1, Analytic: node.Grad(), Numeric: numeric}
	if e := r.RelError(); !(e <= opts.tolerance()) {
		return r, errors.Wrapf(ErrGradientMismatch, "node %s: analytic %g, numeric %g", node.Label(), r.Analytic, r.Numeric)
	}
	return r, nil
}

// Analytic returns d f / d x through a single backward pass.
func Analytic(f Func, x []float64) ([]float64, error) {
	g := engine.NewGraph()
	leaves := g.Leaves(x...)
	root := f(g, leaves)
	if !root.Valid() || root.Graph() != g {
		return nil, errors.New("gradcheck: function returned a value outside its graph")
	}
	root.Backward()

	grads := make([]float64, len(leaves))
	for i, l := range leaves {
		grads[i] = l.Grad()
	}
	return grads, nil
}
