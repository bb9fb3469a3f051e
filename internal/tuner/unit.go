package tuner

import (
	"context"

	"github.com/samcharles93/graft/internal/nn"
	"github.com/samcharles93/graft/internal/tensor"
)

// Unit is one tuner transform installed at one insertion point. Apply
// receives the insertion point's input x and original output y and returns
// the adjusted output; it must not mutate the wrapped module's weights.
// All shape checking happens when the unit is built, so Apply never fails.
type Unit interface {
	Apply(ctx context.Context, x, y *tensor.Mat) *tensor.Mat

	// Params returns the unit's trainable parameters under the local names
	// used in weight files ("lora_a", "down.weight", ...).
	Params() []nn.Param
}

// Merger is implemented by units whose delta is an additive linear
// function of the wrapped weight and can be folded into it. Merge and
// Unmerge are a strict two-state machine: repeated calls in the same state
// are no-ops.
type Merger interface {
	Merge()
	Unmerge()
	Merged() bool
}

// builder constructs every unit of one tuner set given the resolved
// insertion points. Variants that hold state across points (restuning)
// build all their units in one call; everything else builds one unit per
// point.
type builder func(name string, cfg Config, g *graph, targets []string) (map[string]Unit, error)

// builders maps the variant tag to its constructor, mirroring the
// config-to-implementation registry of the checkpoint format.
var builders = map[Type]builder{
	TypeLoRA:      buildLoRA,
	TypeAdapter:   buildAdapter,
	TypePrompt:    buildPrompt,
	TypeSide:      buildSide,
	TypeResTuning: buildResTuning,
	TypePEFT:      buildPEFT,
}

// featureWidth reports the output feature width of the module at path, for
// attach-time shape validation. Linear-like modules report weight rows;
// embeddings report table columns.
func featureWidth(m nn.Module) (int, bool) {
	if w, ok := m.(nn.Weighted); ok && w.Weight() != nil {
		return w.Weight().R, true
	}
	if e, ok := m.(*nn.Embedding); ok {
		return e.Table.C, true
	}
	return 0, false
}

// inputWidth reports the input feature width of the module at path.
func inputWidth(m nn.Module) (int, bool) {
	if w, ok := m.(nn.Weighted); ok && w.Weight() != nil {
		return w.Weight().C, true
	}
	return 0, false
}
