package tuner

import (
	"context"

	"github.com/samcharles93/graft/internal/nn"
	"github.com/samcharles93/graft/internal/tensor"
)

// adapterUnit inserts a bottleneck after the insertion point's output:
// project down to a small dimension, apply a nonlinearity, project back up
// and add the result to the hidden state. The up projection starts at
// zero, so a fresh adapter set leaves the output unchanged.
type adapterUnit struct {
	down *tensor.Mat // [bottleneck x dim]
	up   *tensor.Mat // [dim x bottleneck]
	act  func(float32) float32
}

func buildAdapter(name string, cfg Config, g *graph, targets []string) (map[string]Unit, error) {
	if cfg.BottleneckDim <= 0 {
		return nil, errConfig(name, "", "bottleneck dimension must be positive, got %d", cfg.BottleneckDim)
	}
	act := activationFn(cfg.Activation)
	if act == nil {
		return nil, errConfig(name, "", "unknown activation %q", cfg.Activation)
	}
	units := make(map[string]Unit, len(targets))
	for _, path := range targets {
		dim, ok := featureWidth(g.nodes[path].Module)
		if !ok {
			dim = cfg.HiddenDim
		}
		if dim <= 0 {
			return nil, errConfig(name, path, "cannot infer hidden width; set hidden_dim")
		}
		if cfg.HiddenDim != 0 && cfg.HiddenDim != dim {
			return nil, errConfig(name, path, "hidden_dim %d does not match module width %d", cfg.HiddenDim, dim)
		}
		u := &adapterUnit{
			down: tensor.NewMat(cfg.BottleneckDim, dim),
			up:   tensor.NewMat(dim, cfg.BottleneckDim),
			act:  act,
		}
		tensor.FillRand(u.down, unitSeed(cfg.Seed, path))
		units[path] = u
	}
	return units, nil
}

func (u *adapterUnit) Apply(ctx context.Context, x, y *tensor.Mat) *tensor.Mat {
	mid := tensor.NewMat(y.R, u.down.R)
	tensor.MatMulT(mid, y, u.down)
	for i := 0; i < mid.R; i++ {
		row := mid.Row(i)
		for j := range row {
			row[j] = u.act(row[j])
		}
	}
	delta := tensor.NewMat(y.R, u.up.R)
	tensor.MatMulT(delta, mid, u.up)
	tensor.AddMat(y, delta)
	return y
}

func (u *adapterUnit) Params() []nn.Param {
	return []nn.Param{
		{Name: "down", Value: u.down},
		{Name: "up", Value: u.up},
	}
}

func activationFn(name string) func(float32) float32 {
	switch name {
	case "", "gelu":
		return tensor.Gelu
	case "relu":
		return tensor.Relu
	case "silu":
		return tensor.Silu
	default:
		return nil
	}
}
