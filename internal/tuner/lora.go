package tuner

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/samcharles93/graft/internal/nn"
	"github.com/samcharles93/graft/internal/tensor"
)

// loraUnit adds a low-rank delta to a linear insertion point:
//
//	y' = y + scale * x * A^T * B^T
//
// A is [r x in] with Kaiming init, B is [out x r] and starts at zero, so a
// freshly attached set is a numeric no-op until trained. scale = alpha/r.
type loraUnit struct {
	a, b  *tensor.Mat
	scale float32

	aName, bName string

	// w is the wrapped module's frozen weight, touched only by Merge.
	w *tensor.Mat

	mu     sync.Mutex
	merged bool
	saved  *tensor.Mat
}

func buildLoRA(name string, cfg Config, g *graph, targets []string) (map[string]Unit, error) {
	return buildLowRank(name, cfg, g, targets, "lora_a", "lora_b")
}

func buildLowRank(name string, cfg Config, g *graph, targets []string, aName, bName string) (map[string]Unit, error) {
	if cfg.Rank <= 0 {
		return nil, errConfig(name, "", "rank must be positive, got %d", cfg.Rank)
	}
	units := make(map[string]Unit, len(targets))
	for _, path := range targets {
		mod := g.nodes[path].Module
		in, okIn := inputWidth(mod)
		out, okOut := featureWidth(mod)
		if !okIn || !okOut {
			return nil, errConfig(name, path, "low-rank delta needs a module with a 2-D weight")
		}
		u := &loraUnit{
			a:     tensor.NewMat(cfg.Rank, in),
			b:     tensor.NewMat(out, cfg.Rank),
			scale: cfg.Scale(),
			aName: aName,
			bName: bName,
		}
		if w, ok := mod.(nn.Weighted); ok {
			u.w = w.Weight()
		}
		tensor.FillKaiming(u.a, unitSeed(cfg.Seed, path))
		units[path] = u
	}
	return units, nil
}

func (u *loraUnit) Apply(ctx context.Context, x, y *tensor.Mat) *tensor.Mat {
	u.mu.Lock()
	merged := u.merged
	u.mu.Unlock()
	if merged {
		// The delta already lives in the base weight.
		return y
	}
	tmp := tensor.NewMat(x.R, u.a.R)
	tensor.MatMulT(tmp, x, u.a)
	delta := tensor.NewMat(x.R, u.b.R)
	tensor.MatMulT(delta, tmp, u.b)
	tensor.AddScaledMat(y, delta, u.scale)
	return y
}

func (u *loraUnit) Params() []nn.Param {
	return []nn.Param{
		{Name: u.aName, Value: u.a},
		{Name: u.bName, Value: u.b},
	}
}

// denseDelta materialises scale * B*A as an out-by-in matrix.
func (u *loraUnit) denseDelta() *tensor.Mat {
	dw := tensor.NewMat(u.b.R, u.a.C)
	for o := 0; o < u.b.R; o++ {
		bo := u.b.Row(o)
		row := dw.Row(o)
		for r := 0; r < u.a.R; r++ {
			tensor.AddScaled(row, u.a.Row(r), u.scale*bo[r])
		}
	}
	return dw
}

func (u *loraUnit) Merge() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.merged {
		return
	}
	// Snapshot the frozen weight so Unmerge restores it bit for bit.
	u.saved = u.w.Clone()
	tensor.AddMat(u.w, u.denseDelta())
	u.merged = true
}

func (u *loraUnit) Unmerge() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.merged {
		return
	}
	for i := 0; i < u.w.R; i++ {
		copy(u.w.Row(i), u.saved.Row(i))
	}
	u.saved = nil
	u.merged = false
}

func (u *loraUnit) Merged() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.merged
}

// unitSeed derives a per-insertion-point seed so every unit of a set gets
// distinct but reproducible init.
func unitSeed(base int64, path string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return base + int64(h.Sum64()&0x7fffffff)
}
