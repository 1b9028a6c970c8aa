package main

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"scalar-grad-explorer/store"
)

func TestPrintExampleGraph(t *testing.T) {
	var buf bytes.Buffer
	if err := printExampleGraph(&buf); err != nil {
		t.Fatalf("printExampleGraph: %v", err)
	}
	out := buf.String()
	// y = x*x + 2x at 3 is 15.
	if !strings.Contains(out, "digraph {") || !strings.Contains(out, "data 15.0000") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestRunOnceSavesCheckpoint(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	cfg := DefaultConfig()
	cfg.Epochs = 10
	if err := runOnce(cfg, st, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	runs, err := st.ListRuns()
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one run, got %d (%v)", len(runs), err)
	}
	cp, err := st.LatestCheckpoint(runs[0].ID)
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if cp.Step != 10 || len(cp.Weights) != 41 {
		t.Errorf("unexpected checkpoint %+v", cp)
	}
}
