package toy

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/graft/internal/nn"
	"github.com/samcharles93/graft/internal/tensor"
)

func TestBackboneDeterministic(t *testing.T) {
	t.Parallel()

	a := NewBackbone(16, 8, 2, 42)
	b := NewBackbone(16, 8, 2, 42)

	x := tensor.NewMatFromData(3, 1, []float32{1, 2, 3})
	ya, err := a.Forward(context.Background(), x)
	if err != nil {
		t.Fatalf("forward a: %v", err)
	}
	yb, err := b.Forward(context.Background(), x.Clone())
	if err != nil {
		t.Fatalf("forward b: %v", err)
	}
	if diff := cmp.Diff(ya.Data, yb.Data); diff != "" {
		t.Fatalf("same seed produced different outputs:\n%s", diff)
	}
}

func TestBackboneTree(t *testing.T) {
	t.Parallel()

	root := NewBackbone(16, 8, 2, 42)

	var paths []string
	for _, n := range nn.Walk(root) {
		if n.Path != "" {
			paths = append(paths, n.Path)
		}
	}
	want := []string{
		"embed",
		"block0", "block0.query", "block0.key", "block0.value", "block0.out",
		"block1", "block1.query", "block1.key", "block1.value", "block1.out",
		"head",
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatalf("tree paths mismatch (-want +got):\n%s", diff)
	}
}

func TestBackboneShapes(t *testing.T) {
	t.Parallel()

	root := NewBackbone(32, 8, 1, 7)
	x := tensor.NewMatFromData(5, 1, []float32{0, 1, 2, 3, 4})

	y, err := root.Forward(context.Background(), x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if y.R != 5 || y.C != 32 {
		t.Fatalf("output shape got [%d %d] want [5 32]", y.R, y.C)
	}
}
