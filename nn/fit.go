package nn

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"scalar-grad-explorer/engine"
)

// FitOptions controls Fit. Zero values pick defaults.
type FitOptions struct {
	Epochs int      // default 1
	Loss   LossFunc // default MSE
	Logger *slog.Logger
	// LogEvery logs one line every LogEvery epochs; 0 logs only the last one.
	LogEvery int
}

// Fit trains m on a single-output regression/classification set.
//
// Each epoch:
// 1) Forward every sample and reduce with the loss.
// 2) Reset parameter gradients, then run Backward on the loss.
// 3) Let the optimizer update the parameters.
// 4) Rewind the graph so only parameters remain.
//
// It returns the loss of every epoch.
func Fit(m *MLP, data [][]float64, targets []float64, opt Optimizer, o FitOptions) ([]float64, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrShape, "no training samples")
	}
	if len(data) != len(targets) {
		return nil, errors.Wrapf(ErrShape, "%d samples for %d targets", len(data), len(targets))
	}
	if m.Outputs() != 1 {
		return nil, errors.Wrapf(ErrShape, "fit needs a single output, network has %d", m.Outputs())
	}
	if opt == nil {
		return nil, errors.New("fit: nil optimizer")
	}
	if o.Epochs <= 0 {
		o.Epochs = 1
	}
	if o.Loss == nil {
		o.Loss = MSE
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	g := m.Graph()
	params := m.Parameters()
	mark := g.Mark()
	defer g.Rewind(mark)

	history := make([]float64, 0, o.Epochs)
	for epoch := 0; epoch < o.Epochs; epoch++ {
		loss, err := epochLoss(m, data, targets, o.Loss)
		if err != nil {
			return history, errors.Wrapf(err, "epoch %d", epoch)
		}

		engine.ZeroGrad(params...)
		loss.Backward()
		if err := opt.Step(params); err != nil {
			return history, errors.Wrapf(err, "epoch %d", epoch)
		}

		history = append(history, loss.Data())
		last := epoch == o.Epochs-1
		if last || (o.LogEvery > 0 && epoch%o.LogEvery == 0) {
			logger.Info("epoch", "epoch", epoch, "loss", loss.Data(), "nodes", g.Len())
		}
		g.Rewind(mark)
	}
	return history, nil
}

func epochLoss(m *MLP, data [][]float64, targets []float64, loss LossFunc) (engine.Value, error) {
	preds := make([]engine.Value, len(data))
	for i, x := range data {
		out, err := m.Forward(x)
		if err != nil {
			return engine.Value{}, errors.Wrapf(err, "sample %d", i)
		}
		preds[i] = out[0]
	}
	return loss(preds, targets)
}

// Loss evaluates the loss on a dataset without touching gradients.
func Loss(m *MLP, data [][]float64, targets []float64, loss LossFunc) (float64, error) {
	if loss == nil {
		loss = MSE
	}
	if len(data) != len(targets) {
		return 0, errors.Wrapf(ErrShape, "%d samples for %d targets", len(data), len(targets))
	}
	g := m.Graph()
	mark := g.Mark()
	defer g.Rewind(mark)

	v, err := epochLoss(m, data, targets, loss)
	if err != nil {
		return 0, err
	}
	return v.Data(), nil
}
