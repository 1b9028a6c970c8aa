package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"

	"scalar-grad-explorer/engine"
	"scalar-grad-explorer/store"
	"scalar-grad-explorer/trace"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code; deferred cleanup such as closing the
// store happens before main exits.
func run() int {
	var (
		configPath = flag.String("config", "", "JSON config file (defaults used when empty)")
		addr       = flag.String("addr", ":8080", "listen address for -serve")
		serve      = flag.Bool("serve", false, "run the HTTP API instead of a one-off training run")
		dbPath     = flag.String("db", "", "SQLite file for runs and checkpoints (disabled when empty)")
		logLevel   = flag.String("log-level", "info", "debug, info, warn or error")
		logJSON    = flag.Bool("log-json", false, "emit JSON logs")
		showGraph  = flag.Bool("graph", false, "print the graph of a small example expression and exit")
	)
	flag.Parse()

	logger, err := newLogger(*logLevel, *logJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level: %v\n", err)
		return 2
	}

	if *showGraph {
		if err := printExampleGraph(os.Stdout); err != nil {
			logger.Error("failed to render graph", "error", err)
			return 1
		}
		return 0
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		if cfg, err = LoadConfig(*configPath); err != nil {
			logger.Error("failed to load config", "path", *configPath, "error", err)
			return 1
		}
	}

	var st *store.Store
	if *dbPath != "" {
		if st, err = store.Open(*dbPath); err != nil {
			logger.Error("failed to open store", "path", *dbPath, "error", err)
			return 1
		}
		defer st.Close()
	}

	if *serve {
		srv := NewServer(st, logger)
		mux := http.NewServeMux()
		srv.RegisterRoutes(mux)
		logger.Info("server starting", "addr", *addr)
		if err := http.ListenAndServe(*addr, mux); err != nil {
			logger.Error("server stopped", "error", err)
			return 1
		}
		return 0
	}

	if err := runOnce(cfg, st, logger); err != nil {
		logger.Error("training failed", "error", err)
		return 1
	}
	return 0
}

func newLogger(level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// runOnce trains the demo dataset for cfg.Epochs and prints the predictions.
func runOnce(cfg Config, st *store.Store, logger *slog.Logger) error {
	model, err := NewModel(cfg)
	if err != nil {
		return err
	}
	data := demoDataset()

	runID := uuid.NewString()
	if st != nil {
		run, err := st.CreateRun(cfg)
		if err != nil {
			return err
		}
		runID = run.ID
	}
	logger = logger.With("run_id", runID)
	logger.Info("training", "model", model.Net.String(), "params", model.Params(), "epochs", cfg.Epochs)

	resp, err := TrainEpochs(model, data, cfg.Epochs, logger)
	if err != nil {
		return err
	}
	logger.Info("done", "first_loss", resp.FirstLoss, "loss", resp.Loss, "steps", resp.Step)

	preds, err := Predict(model, data.Inputs)
	if err != nil {
		return err
	}
	for i, p := range preds {
		fmt.Printf("x=%v target=%+.1f pred=%+.4f\n", data.Inputs[i], data.Targets[i], p[0])
	}

	if st != nil && resp.Diverged {
		logger.Warn("training diverged, checkpoint skipped", "loss", resp.Loss)
		return nil
	}
	if st != nil {
		cp := &store.Checkpoint{RunID: runID, Step: model.Steps, Loss: float64(resp.Loss), Weights: model.Net.Weights()}
		if err := st.SaveCheckpoint(cp); err != nil {
			return err
		}
		logger.Info("checkpoint saved", "step", cp.Step)
	}
	return nil
}

// printExampleGraph shows y = x*x + x*2 at x = 3 after backward.
func printExampleGraph(w io.Writer) error {
	g := engine.NewGraph()
	x := g.Leaf(3)
	y := x.Mul(x).Add(x.Mul(engine.Literal(2)))
	y.Backward()

	dot, err := trace.Dot(y, trace.Options{})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, trace.Tree(y))
	fmt.Fprint(w, dot)
	return nil
}
