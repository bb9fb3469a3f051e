package tuner

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/graft/internal/toy"
)

func TestResolveTargetsList(t *testing.T) {
	t.Parallel()

	g := newGraph(toy.NewBackbone(16, 8, 2, 1))
	got, err := g.resolveTargets("s", Config{TargetModules: []string{"query", "value"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"block0.query", "block0.value", "block1.query", "block1.value"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveTargetsPattern(t *testing.T) {
	t.Parallel()

	g := newGraph(toy.NewBackbone(16, 8, 2, 1))

	got, err := g.resolveTargets("s", Config{TargetPattern: `block0\.(query|key)`})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"block0.query", "block0.key"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}

	// Patterns match the whole path: a bare fragment matches nothing.
	_, err = g.resolveTargets("s", Config{TargetPattern: "query"})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for zero matches, got %v", err)
	}
}

func TestResolveTargetsAllLinear(t *testing.T) {
	t.Parallel()

	g := newGraph(toy.NewBackbone(16, 8, 1, 1))
	got, err := g.resolveTargets("s", Config{TargetPattern: AllLinear})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Every linear, not the embedding and not the containers.
	want := []string{"block0.query", "block0.key", "block0.value", "block0.out", "head"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveTargetsErrors(t *testing.T) {
	t.Parallel()

	g := newGraph(toy.NewBackbone(16, 8, 1, 1))

	if _, err := g.resolveTargets("s", Config{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for empty spec, got %v", err)
	}
	if _, err := g.resolveTargets("s", Config{TargetPattern: "("}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for bad pattern, got %v", err)
	}
	if _, err := g.resolveTargets("s", Config{TargetModules: []string{"nope"}}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for zero matches, got %v", err)
	}

	got, err := g.resolveTargets("s", Config{TargetModules: []string{"nope"}, AllowEmpty: true})
	if err != nil {
		t.Fatalf("allow_empty resolve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no targets, got %v", got)
	}
}
