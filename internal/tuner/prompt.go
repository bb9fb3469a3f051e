package tuner

import (
	"context"

	"github.com/samcharles93/graft/internal/nn"
	"github.com/samcharles93/graft/internal/tensor"
)

// promptUnit prepends (or appends) a fixed number of learned rows to the
// sequence dimension of the insertion point's output, leaving the
// per-token feature width unchanged. When two prompt sets share an
// insertion point their rows stack in attach order.
type promptUnit struct {
	emb    *tensor.Mat // [prompt_length x dim]
	suffix bool
}

func buildPrompt(name string, cfg Config, g *graph, targets []string) (map[string]Unit, error) {
	if cfg.PromptLength <= 0 {
		return nil, errConfig(name, "", "prompt length must be positive, got %d", cfg.PromptLength)
	}
	switch cfg.AttachSide {
	case "", "prefix", "suffix":
	default:
		return nil, errConfig(name, "", "attach side must be prefix or suffix, got %q", cfg.AttachSide)
	}
	units := make(map[string]Unit, len(targets))
	for _, path := range targets {
		dim, ok := featureWidth(g.nodes[path].Module)
		if !ok {
			dim = cfg.EmbedDim
		}
		if dim <= 0 {
			return nil, errConfig(name, path, "cannot infer embedding width; set embed_dim")
		}
		if cfg.EmbedDim != 0 && cfg.EmbedDim != dim {
			return nil, errConfig(name, path, "embed_dim %d does not match module width %d", cfg.EmbedDim, dim)
		}
		u := &promptUnit{
			emb:    tensor.NewMat(cfg.PromptLength, dim),
			suffix: cfg.AttachSide == "suffix",
		}
		tensor.FillRand(u.emb, unitSeed(cfg.Seed, path))
		units[path] = u
	}
	return units, nil
}

func (u *promptUnit) Apply(ctx context.Context, x, y *tensor.Mat) *tensor.Mat {
	out := tensor.NewMat(y.R+u.emb.R, y.C)
	if u.suffix {
		for i := 0; i < y.R; i++ {
			copy(out.Row(i), y.Row(i))
		}
		for i := 0; i < u.emb.R; i++ {
			copy(out.Row(y.R+i), u.emb.Row(i))
		}
	} else {
		for i := 0; i < u.emb.R; i++ {
			copy(out.Row(i), u.emb.Row(i))
		}
		for i := 0; i < y.R; i++ {
			copy(out.Row(u.emb.R+i), y.Row(i))
		}
	}
	return out
}

func (u *promptUnit) Params() []nn.Param {
	return []nn.Param{{Name: "prompt", Value: u.emb}}
}
