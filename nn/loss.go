package nn

import (
	"github.com/pkg/errors"

	"scalar-grad-explorer/engine"
)

// LossFunc reduces predictions against targets to one scalar node.
type LossFunc func(preds []engine.Value, targets []float64) (engine.Value, error)

// MSE is the summed squared error Σ (pred - target)².
func MSE(preds []engine.Value, targets []float64) (engine.Value, error) {
	g, err := lossGraph(preds, targets)
	if err != nil {
		return engine.Value{}, err
	}
	terms := make([]engine.Value, len(preds))
	for i, p := range preds {
		terms[i] = p.Sub(engine.Literal(targets[i])).Pow(2)
	}
	return g.Sum(engine.Literal(0), terms...), nil
}

// Hinge is the mean max-margin loss Σ relu(1 - target·pred) / n for
// targets in {-1, 1}.
func Hinge(preds []engine.Value, targets []float64) (engine.Value, error) {
	g, err := lossGraph(preds, targets)
	if err != nil {
		return engine.Value{}, err
	}
	terms := make([]engine.Value, len(preds))
	for i, p := range preds {
		terms[i] = g.Add(engine.Literal(1), p.Mul(engine.Literal(-targets[i]))).Relu()
	}
	total := g.Sum(engine.Literal(0), terms...)
	return total.Mul(engine.Literal(1 / float64(len(preds)))), nil
}

// LossByName maps config names to loss functions.
func LossByName(name string) (LossFunc, error) {
	switch name {
	case "", "mse":
		return MSE, nil
	case "hinge":
		return Hinge, nil
	}
	return nil, errors.Errorf("unknown loss %q", name)
}

func lossGraph(preds []engine.Value, targets []float64) (*engine.Graph, error) {
	if len(preds) == 0 {
		return nil, errors.Wrap(ErrShape, "no predictions")
	}
	if len(preds) != len(targets) {
		return nil, errors.Wrapf(ErrShape, "%d predictions for %d targets", len(preds), len(targets))
	}
	return preds[0].Graph(), nil
}
