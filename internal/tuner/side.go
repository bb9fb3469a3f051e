package tuner

import (
	"context"

	"github.com/samcharles93/graft/internal/nn"
	"github.com/samcharles93/graft/internal/tensor"
)

// sideUnit runs a small parallel network on the insertion point's input
// and adds the gated result to the frozen output:
//
//	y' = y + g * side(x)
//
// side is a single projection, or a bottleneck pair when side_dim is set.
// g is a configured constant, or sigmoid of a trainable logit for the
// learned gate.
type sideUnit struct {
	w1 *tensor.Mat // [side x in] or [out x in] when w2 is nil
	w2 *tensor.Mat // [out x side], nil for the single-layer form

	gateLogit *tensor.Mat // [1 x 1], nil for fixed gates
	gateValue float32
}

func buildSide(name string, cfg Config, g *graph, targets []string) (map[string]Unit, error) {
	switch cfg.Gate {
	case "", "fixed", "learned":
	default:
		return nil, errConfig(name, "", "gate must be fixed or learned, got %q", cfg.Gate)
	}
	units := make(map[string]Unit, len(targets))
	for _, path := range targets {
		mod := g.nodes[path].Module
		in, okIn := inputWidth(mod)
		out, okOut := featureWidth(mod)
		if !okIn || !okOut {
			return nil, errConfig(name, path, "side network needs a module with a 2-D weight")
		}
		u := &sideUnit{gateValue: cfg.GateValue}
		if u.gateValue == 0 {
			u.gateValue = 1
		}
		seed := unitSeed(cfg.Seed, path)
		if cfg.SideDim > 0 {
			u.w1 = tensor.NewMat(cfg.SideDim, in)
			u.w2 = tensor.NewMat(out, cfg.SideDim)
			tensor.FillRand(u.w1, seed)
			tensor.FillRand(u.w2, seed+1)
		} else {
			u.w1 = tensor.NewMat(out, in)
			tensor.FillRand(u.w1, seed)
		}
		if cfg.Gate == "learned" {
			u.gateLogit = tensor.NewMat(1, 1)
		}
		units[path] = u
	}
	return units, nil
}

func (u *sideUnit) Apply(ctx context.Context, x, y *tensor.Mat) *tensor.Mat {
	var s *tensor.Mat
	if u.w2 != nil {
		mid := tensor.NewMat(x.R, u.w1.R)
		tensor.MatMulT(mid, x, u.w1)
		for i := 0; i < mid.R; i++ {
			row := mid.Row(i)
			for j := range row {
				row[j] = tensor.Silu(row[j])
			}
		}
		s = tensor.NewMat(x.R, u.w2.R)
		tensor.MatMulT(s, mid, u.w2)
	} else {
		s = tensor.NewMat(x.R, u.w1.R)
		tensor.MatMulT(s, x, u.w1)
	}
	g := u.gateValue
	if u.gateLogit != nil {
		g = tensor.Sigmoid(u.gateLogit.At(0, 0))
	}
	tensor.AddScaledMat(y, s, g)
	return y
}

func (u *sideUnit) Params() []nn.Param {
	var ps []nn.Param
	if u.w2 != nil {
		ps = append(ps, nn.Param{Name: "side_down", Value: u.w1}, nn.Param{Name: "side_up", Value: u.w2})
	} else {
		ps = append(ps, nn.Param{Name: "side", Value: u.w1})
	}
	if u.gateLogit != nil {
		ps = append(ps, nn.Param{Name: "gate", Value: u.gateLogit})
	}
	return ps
}
