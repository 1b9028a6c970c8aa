package trace

import (
	"strings"
	"testing"

	"scalar-grad-explorer/engine"
)

func sample() (engine.Value, engine.Value) {
	g := engine.NewGraph()
	x := g.Leaf(3)
	y := x.Mul(x).Add(x.Mul(engine.Literal(2)))
	y.Backward()
	return x, y
}

func TestTrace(t *testing.T) {
	x, y := sample()
	nodes, edges := Trace(y)
	// x, x*x, 2, x*2, +
	if len(nodes) != 5 {
		t.Fatalf("expected 5 nodes, got %d", len(nodes))
	}
	// x->x*x (deduplicated), x->x*2, 2->x*2, x*x->+, x*2->+
	if len(edges) != 5 {
		t.Fatalf("expected 5 edges, got %d", len(edges))
	}
	fromX := 0
	for _, e := range edges {
		if e.From.ID() == x.ID() {
			fromX++
		}
		if e.From.ID() >= e.To.ID() {
			t.Errorf("edge %d -> %d points backwards", e.From.ID(), e.To.ID())
		}
	}
	if fromX != 2 {
		t.Errorf("expected 2 edges out of x, got %d", fromX)
	}
	if nodes[len(nodes)-1].ID() != y.ID() {
		t.Errorf("root should be last")
	}
}

func TestDot(t *testing.T) {
	_, y := sample()
	out, err := Dot(y, Options{})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"digraph {",
		"rankdir=LR;",
		`[label="{ data 15.0000 | grad 1.0000 }", shape=record];`,
		`[label="{ data 3.0000 | grad 8.0000 }", shape=record];`,
		`"n4+" [label="+"];`,
		`"n4+" -> "n4";`,
		`"n0" -> "n1*";`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dot output missing %q:\n%s", want, out)
		}
	}

	if _, err := Dot(y, Options{RankDir: "TB"}); err != nil {
		t.Errorf("TB: %v", err)
	}
	if _, err := Dot(y, Options{RankDir: "RL"}); err == nil {
		t.Error("expected error for RL")
	}
}

func TestTreeExpandsSharedNodesOnce(t *testing.T) {
	_, y := sample()
	out := Tree(y)
	if strings.Count(out, "#0 data 3.0000 grad 8.0000") != 1 {
		t.Errorf("x should be drawn once:\n%s", out)
	}
	if !strings.Contains(out, "see #0") {
		t.Errorf("expected a back reference to x:\n%s", out)
	}
	if !strings.Contains(out, "+ #4 data 15.0000 grad 1.0000") {
		t.Errorf("missing root label:\n%s", out)
	}
}
