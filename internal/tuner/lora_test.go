package tuner

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/graft/internal/nn"
	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/internal/toy"
)

func TestFreshLoRAIsNoOp(t *testing.T) {
	t.Parallel()

	x := testTokens(3)
	want, err := toy.NewBackbone(16, 8, 1, 9).Forward(context.Background(), x.Clone())
	if err != nil {
		t.Fatalf("base forward: %v", err)
	}

	m, err := Attach(toy.NewBackbone(16, 8, 1, 9), "a", loraConfig("query", "key", "value"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	m.SetActive("a")

	got, err := m.Forward(context.Background(), x.Clone())
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	// The up factor starts at zero, so the delta is exactly zero.
	for i := range want.Data {
		if math.Abs(float64(want.Data[i]-got.Data[i])) > 1e-7 {
			t.Fatalf("element %d: base %v, fresh lora %v", i, want.Data[i], got.Data[i])
		}
	}
}

func TestLoRADeltaMatchesManualComputation(t *testing.T) {
	t.Parallel()

	// y = x * W^T with W = I, so y == x and the delta is easy to follow.
	proj := &nn.Linear{W: tensor.NewMatFromData(2, 2, []float32{1, 0, 0, 1})}
	root := nn.NewSequential(nn.Child{Name: "proj", Module: proj})

	m, err := Attach(root, "a", Config{
		Type: TypeLoRA, TargetModules: []string{"proj"}, Rank: 1, Alpha: 2, Seed: 0,
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	u := m.sets["a"].units["proj"].(*loraUnit)
	copy(u.a.Data, []float32{1, 2}) // A [1x2]
	copy(u.b.Data, []float32{3, 4}) // B [2x1]

	m.SetActive("a")
	x := tensor.NewMatFromData(1, 2, []float32{5, 7})
	got, err := m.Forward(context.Background(), x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	// x*A^T = 5*1 + 7*2 = 19; delta = 19 * [3 4]; scale = alpha/r = 2.
	want := []float32{5 + 2*19*3, 7 + 2*19*4}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Fatalf("delta mismatch (-want +got):\n%s", diff)
	}
}

func TestLoRAScaleDefaults(t *testing.T) {
	t.Parallel()

	if got := (Config{Rank: 4, Alpha: 8}).Scale(); got != 2 {
		t.Fatalf("scale got %v want 2", got)
	}
	if got := (Config{Rank: 4}).Scale(); got != 1 {
		t.Fatalf("zero alpha scale got %v want 1", got)
	}
}

func TestLoRARankValidation(t *testing.T) {
	t.Parallel()

	_, err := Attach(toy.NewBackbone(16, 8, 1, 1), "a", Config{
		Type: TypeLoRA, TargetModules: []string{"query"},
	})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for zero rank, got %v", err)
	}

	// Targeting a container has no 2-D weight to factor against.
	_, err = Attach(toy.NewBackbone(16, 8, 1, 1), "a", Config{
		Type: TypeLoRA, TargetModules: []string{"block0"}, Rank: 2,
	})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for weightless target, got %v", err)
	}
}

func TestMergeRoundTripRestoresWeightsExactly(t *testing.T) {
	t.Parallel()

	base := toy.NewBackbone(16, 8, 2, 11)
	m, err := Attach(base, "a", loraConfig("query", "value"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	trainLoRA(t, m, "a")

	// The registry sees the clean modules behind the hooks.
	snapshot := make(map[string][]float32)
	for path, w := range m.paramsByPath() {
		snapshot[path] = append([]float32(nil), w.Data...)
	}

	if err := m.Merge("a"); err != nil {
		t.Fatalf("merge: %v", err)
	}
	changed := false
	for path, w := range m.paramsByPath() {
		if !cmp.Equal(snapshot[path], w.Data) {
			changed = true
		}
	}
	if !changed {
		t.Fatalf("merge did not touch any base weight")
	}

	// Repeat merges are no-ops.
	if err := m.Merge("a"); err != nil {
		t.Fatalf("second merge: %v", err)
	}

	if err := m.Unmerge("a"); err != nil {
		t.Fatalf("unmerge: %v", err)
	}
	for path, w := range m.paramsByPath() {
		if diff := cmp.Diff(snapshot[path], w.Data); diff != "" {
			t.Fatalf("weight %s not restored bit for bit (-want +got):\n%s", path, diff)
		}
	}

	// Repeat unmerges are no-ops too.
	if err := m.Unmerge("a"); err != nil {
		t.Fatalf("second unmerge: %v", err)
	}
}

func TestMergedForwardMatchesDeltaForward(t *testing.T) {
	t.Parallel()

	m, err := Attach(toy.NewBackbone(16, 8, 1, 13), "a", loraConfig("query"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	trainLoRA(t, m, "a")
	m.SetActive("a")

	x := testTokens(3)
	unmerged, err := m.Forward(context.Background(), x.Clone())
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if err := m.Merge("a"); err != nil {
		t.Fatalf("merge: %v", err)
	}
	merged, err := m.Forward(context.Background(), x.Clone())
	if err != nil {
		t.Fatalf("merged forward: %v", err)
	}

	for i := range unmerged.Data {
		if math.Abs(float64(unmerged.Data[i]-merged.Data[i])) > 1e-4 {
			t.Fatalf("element %d: delta form %v, merged form %v", i, unmerged.Data[i], merged.Data[i])
		}
	}
}

func TestRankFourDeltaMatchesDenseRecomputation(t *testing.T) {
	t.Parallel()

	m, err := Attach(toy.NewBackbone(16, 8, 1, 31), DefaultName, Config{
		Type: TypeLoRA, TargetModules: []string{"query", "key", "value"}, Rank: 4, Alpha: 8, Seed: 17,
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	trainLoRA(t, m, DefaultName)
	m.SetActive(DefaultName)

	x := testTokens(3)
	got, err := m.Forward(context.Background(), x.Clone())
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	// Recompute independently: fold each dense delta into a clean copy of
	// the backbone and run that.
	ref := toy.NewBackbone(16, 8, 1, 31)
	refWeights := make(map[string]*tensor.Mat)
	for _, n := range nn.Walk(ref) {
		if w, ok := n.Module.(nn.Weighted); ok && w.Weight() != nil {
			refWeights[n.Path] = w.Weight()
		}
	}
	for path, u := range m.sets[DefaultName].units {
		tensor.AddMat(refWeights[path], u.(*loraUnit).denseDelta())
	}
	want, err := ref.Forward(context.Background(), x.Clone())
	if err != nil {
		t.Fatalf("reference forward: %v", err)
	}

	for i := range want.Data {
		if math.Abs(float64(want.Data[i]-got.Data[i])) > 1e-5 {
			t.Fatalf("element %d: recomputed %v, composed %v", i, want.Data[i], got.Data[i])
		}
	}
}

func TestTwoActiveSetsAddBothDeltas(t *testing.T) {
	t.Parallel()

	// Identity main path: base output is x, each delta is directly legible.
	proj := &nn.Linear{W: tensor.NewMatFromData(2, 2, []float32{1, 0, 0, 1})}
	root := nn.NewSequential(nn.Child{Name: "proj", Module: proj})

	m, err := Compose(root)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	for _, name := range []string{"one", "two"} {
		if err := m.Attach(name, Config{
			Type: TypeLoRA, TargetModules: []string{"proj"}, Rank: 1, Alpha: 1, Seed: 0,
		}); err != nil {
			t.Fatalf("attach %s: %v", name, err)
		}
	}
	u1 := m.sets["one"].units["proj"].(*loraUnit)
	copy(u1.a.Data, []float32{1, 0})
	copy(u1.b.Data, []float32{1, 0}) // delta_one = [x0, 0]
	u2 := m.sets["two"].units["proj"].(*loraUnit)
	copy(u2.a.Data, []float32{0, 1})
	copy(u2.b.Data, []float32{0, 1}) // delta_two = [0, x1]

	x := tensor.NewMatFromData(1, 2, []float32{3, 5})
	both, err := m.Forward(WithActive(context.Background(), "one", "two"), x.Clone())
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	// base [3 5] + delta_one [3 0] + delta_two [0 5].
	want := []float32{6, 10}
	if diff := cmp.Diff(want, both.Data); diff != "" {
		t.Fatalf("combined deltas (-want +got):\n%s", diff)
	}
}

func TestDetachMergedSetFails(t *testing.T) {
	t.Parallel()

	m, err := Attach(toy.NewBackbone(16, 8, 1, 13), "a", loraConfig("query"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.Merge("a"); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := m.Detach("a"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for merged detach, got %v", err)
	}
	if err := m.Unmerge("a"); err != nil {
		t.Fatalf("unmerge: %v", err)
	}
	if err := m.Detach("a"); err != nil {
		t.Fatalf("detach after unmerge: %v", err)
	}
}

func TestMergeUnknownAndUnsupported(t *testing.T) {
	t.Parallel()

	m, err := Attach(toy.NewBackbone(16, 8, 1, 13), "a", Config{
		Type: TypeAdapter, TargetModules: []string{"out"}, BottleneckDim: 4, Seed: 1,
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.Merge("a"); !errors.Is(err, ErrUnsupportedMerge) {
		t.Fatalf("expected ErrUnsupportedMerge, got %v", err)
	}
	if err := m.Merge("missing"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unknown set, got %v", err)
	}
}

func TestUnitSeedVariesByPath(t *testing.T) {
	t.Parallel()

	if unitSeed(1, "block0.query") == unitSeed(1, "block0.key") {
		t.Fatalf("different paths produced the same seed")
	}
	if unitSeed(1, "block0.query") != unitSeed(1, "block0.query") {
		t.Fatalf("same path produced different seeds")
	}
}
