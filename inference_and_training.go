package main

import (
	"log/slog"

	"github.com/pkg/errors"

	"scalar-grad-explorer/nn"
)

// validateDataset checks the rows against the network input width.
func validateDataset(model *Model, data Dataset) error {
	if len(data.Inputs) == 0 {
		return errors.New("training set is empty")
	}
	if len(data.Inputs) != len(data.Targets) {
		return errors.Errorf("%d input rows for %d targets", len(data.Inputs), len(data.Targets))
	}
	for i, row := range data.Inputs {
		if len(row) != model.Config.Inputs {
			return errors.Errorf("row %d has %d values, model expects %d", i, len(row), model.Config.Inputs)
		}
	}
	return nil
}

// TrainEpochs runs full-batch training for the given number of epochs.
//
// Every epoch resets gradients, backpropagates the loss over the whole
// dataset and applies one optimizer update. The caller must hold model.mu.
func TrainEpochs(model *Model, data Dataset, epochs int, logger *slog.Logger) (TrainResponse, error) {
	if epochs < 1 {
		epochs = model.Config.Epochs
	}
	if err := validateDataset(model, data); err != nil {
		return TrainResponse{}, err
	}

	history, err := nn.Fit(model.Net, data.Inputs, data.Targets, model.Opt, nn.FitOptions{
		Epochs:   epochs,
		Loss:     model.Loss,
		Logger:   logger,
		LogEvery: 50,
	})
	model.Steps += len(history)
	if err != nil {
		return TrainResponse{}, err
	}

	last := history[len(history)-1]
	if !finite(last) && logger != nil {
		logger.Warn("training diverged", "loss", last, "step", model.Steps)
	}
	return TrainResponse{
		Step:      model.Steps,
		Loss:      Float(last),
		FirstLoss: Float(history[0]),
		Epochs:    len(history),
		Diverged:  !finite(last),
	}, nil
}

// Predict runs each row through the network. The caller must hold model.mu.
func Predict(model *Model, inputs [][]float64) ([][]float64, error) {
	out := make([][]float64, len(inputs))
	for i, row := range inputs {
		y, err := model.Net.Predict(row)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		out[i] = y
	}
	return out, nil
}
