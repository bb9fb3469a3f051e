package tuner

import (
	"fmt"
	"regexp"

	"github.com/samcharles93/graft/internal/nn"
)

// AllLinear is the reserved target pattern selecting every module that
// exposes a two-dimensional weight matrix. Used for broad default
// application when no explicit target list fits.
const AllLinear = "all-linear"

// graph is the path registry built once over the clean base tree at
// composition time. Targets resolve against it (not against re-walks of
// the possibly already-wrapped tree), which keeps resolution deterministic
// across repeated attaches and gives O(1) lookup by path.
type graph struct {
	order []string
	nodes map[string]nn.Node
}

func newGraph(root nn.Module) *graph {
	g := &graph{nodes: make(map[string]nn.Node)}
	for _, n := range nn.Walk(root) {
		if n.Path == "" {
			continue
		}
		g.order = append(g.order, n.Path)
		g.nodes[n.Path] = n
	}
	return g
}

// resolveTargets returns the insertion points matching cfg's target spec
// in tree order. List-form specs match by dotted-suffix equality;
// pattern-form specs match the full path. Zero matches is a configuration
// error unless the config explicitly allows it.
func (g *graph) resolveTargets(name string, cfg Config) ([]string, error) {
	var matched []string
	switch {
	case cfg.TargetPattern == AllLinear:
		for _, path := range g.order {
			if w, ok := g.nodes[path].Module.(nn.Weighted); ok && w.Weight() != nil {
				matched = append(matched, path)
			}
		}
	case cfg.TargetPattern != "":
		// Patterns must match the whole path, like re.fullmatch.
		re, err := regexp.Compile("^(?:" + cfg.TargetPattern + ")$")
		if err != nil {
			return nil, errConfig(name, "", "bad target pattern %q: %v", cfg.TargetPattern, err)
		}
		for _, path := range g.order {
			if re.MatchString(path) {
				matched = append(matched, path)
			}
		}
	case len(cfg.TargetModules) > 0:
		for _, path := range g.order {
			for _, frag := range cfg.TargetModules {
				if nn.HasSuffix(path, frag) {
					matched = append(matched, path)
					break
				}
			}
		}
	default:
		if !cfg.AllowEmpty {
			return nil, errConfig(name, "", "no target modules or pattern given")
		}
	}
	if len(matched) == 0 && !cfg.AllowEmpty {
		return nil, &Error{Tuner: name, Err: fmt.Errorf("%w: target spec matched no modules", ErrConfig)}
	}
	return matched, nil
}
