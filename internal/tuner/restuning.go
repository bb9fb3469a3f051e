package tuner

import (
	"context"
	"fmt"

	"github.com/samcharles93/graft/internal/nn"
	"github.com/samcharles93/graft/internal/tensor"
)

// The bypass residual variant threads a signal through a chain of stem
// insertion points, independent of the main path, and recombines it at a
// designated root point. Unlike every other variant it is a cluster: all
// stem units share one parameter set, and the running bypass lives in
// per-forward-call scope so concurrent calls never share it.
type resCluster struct {
	projs []*tensor.Mat // one [dim x dim] projection per stem
}

type resStemUnit struct {
	cluster *resCluster
	idx     int
}

type resRootUnit struct {
	cluster *resCluster
}

func buildResTuning(name string, cfg Config, g *graph, targets []string) (map[string]Unit, error) {
	if cfg.Root == "" {
		return nil, errConfig(name, "", "bypass residual needs a root insertion point")
	}
	rootNode, ok := g.nodes[cfg.Root]
	if !ok {
		return nil, &Error{Tuner: name, Path: cfg.Root,
			Err: fmt.Errorf("%w: root insertion point not found", ErrConfig)}
	}
	dim, ok := featureWidth(rootNode.Module)
	if !ok {
		return nil, errConfig(name, cfg.Root, "cannot infer width of root insertion point")
	}
	cluster := &resCluster{}
	units := make(map[string]Unit, len(targets)+1)
	for i, path := range targets {
		if path == cfg.Root {
			return nil, errConfig(name, path, "root cannot also be a stem")
		}
		stemDim, ok := featureWidth(g.nodes[path].Module)
		if !ok || stemDim != dim {
			return nil, errConfig(name, path, "stem width %d does not match root width %d", stemDim, dim)
		}
		proj := tensor.NewMat(dim, dim)
		tensor.FillRand(proj, unitSeed(cfg.Seed, path))
		cluster.projs = append(cluster.projs, proj)
		units[path] = &resStemUnit{cluster: cluster, idx: i}
	}
	units[cfg.Root] = &resRootUnit{cluster: cluster}
	return units, nil
}

func (u *resStemUnit) Apply(ctx context.Context, x, y *tensor.Mat) *tensor.Mat {
	scope := scopeOf(ctx)
	if scope == nil {
		return y
	}
	proj := u.cluster.projs[u.idx]
	contrib := tensor.NewMat(y.R, proj.R)
	tensor.MatMulT(contrib, y, proj)
	if prev, ok := scope.get(u.cluster).(*tensor.Mat); ok && prev.R == contrib.R {
		tensor.AddMat(contrib, prev)
	}
	scope.put(u.cluster, contrib)
	return y
}

func (u *resStemUnit) Params() []nn.Param { return nil }

func (u *resRootUnit) Apply(ctx context.Context, x, y *tensor.Mat) *tensor.Mat {
	scope := scopeOf(ctx)
	if scope == nil {
		return y
	}
	bypass, ok := scope.get(u.cluster).(*tensor.Mat)
	if !ok || bypass.R != y.R || bypass.C != y.C {
		// Sequence shape changed between stems and root; nothing sound to
		// recombine.
		return y
	}
	tensor.AddMat(y, bypass)
	scope.put(u.cluster, nil)
	return y
}

// Params surfaces the shared cluster parameters once, on the root unit.
func (u *resRootUnit) Params() []nn.Param {
	ps := make([]nn.Param, 0, len(u.cluster.projs))
	for i, p := range u.cluster.projs {
		ps = append(ps, nn.Param{Name: fmt.Sprintf("stem%d.proj", i), Value: p})
	}
	return ps
}
