package nn

import (
	"math"

	"github.com/pkg/errors"

	"scalar-grad-explorer/engine"
)

// Optimizer moves parameters against their gradients.
type Optimizer interface {
	Step(params []engine.Value) error
}

// SGD applies value -= LearningRate * grad.
type SGD struct {
	LearningRate float64
}

func (o *SGD) Step(params []engine.Value) error {
	for _, p := range params {
		if err := p.SetData(p.Data() - o.LearningRate*p.Grad()); err != nil {
			return err
		}
	}
	return nil
}

// Adam keeps first and second moment estimates per parameter.
// The parameter list must be the same, in the same order, on every Step.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Eps          float64

	m, v  []float64
	steps int
}

// NewAdam returns Adam with beta1=0.85, beta2=0.99, eps=1e-8.
func NewAdam(lr float64) *Adam {
	return &Adam{LearningRate: lr, Beta1: 0.85, Beta2: 0.99, Eps: 1e-8}
}

// Steps reports how many updates have been applied.
func (o *Adam) Steps() int { return o.steps }

func (o *Adam) Step(params []engine.Value) error {
	if o.m == nil {
		o.m = make([]float64, len(params))
		o.v = make([]float64, len(params))
	}
	if len(params) != len(o.m) {
		return errors.Wrapf(ErrShape, "adam initialised for %d parameters, got %d", len(o.m), len(params))
	}
	o.steps++

	lr := o.LearningRate
	beta1, beta2, eps := o.Beta1, o.Beta2, o.Eps
	for i, p := range params {
		grad := p.Grad()
		o.m[i] = beta1*o.m[i] + (1-beta1)*grad
		o.v[i] = beta2*o.v[i] + (1-beta2)*grad*grad

		// Bias-corrected first and second moments.
		mHat := o.m[i] / (1 - math.Pow(beta1, float64(o.steps)))
		vHat := o.v[i] / (1 - math.Pow(beta2, float64(o.steps)))

		if err := p.SetData(p.Data() - lr*mHat/(math.Sqrt(vHat)+eps)); err != nil {
			return err
		}
	}
	return nil
}

// OptimizerByName maps config names to optimizers.
func OptimizerByName(name string, lr float64) (Optimizer, error) {
	switch name {
	case "", "sgd":
		return &SGD{LearningRate: lr}, nil
	case "adam":
		return NewAdam(lr), nil
	}
	return nil, errors.Errorf("unknown optimizer %q", name)
}
