package tuner

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/graft/internal/nn"
	"github.com/samcharles93/graft/internal/tensor"
)

// hook replaces one insertion point's invocation. It always runs the
// original module unchanged, then folds in the delta of every attached set
// that is active in the calling context, in attach order. Inactive sets
// cost one activation lookup and nothing else.
type hook struct {
	model *Model
	orig  nn.Module
	path  string

	entries []hookEntry
}

type hookEntry struct {
	set     string
	unit    Unit
	counter *atomic.Int64
}

func (h *hook) Forward(ctx context.Context, x *tensor.Mat) (*tensor.Mat, error) {
	y, err := h.orig.Forward(ctx, x)
	if err != nil {
		return nil, err
	}
	for _, e := range h.entries {
		if !h.model.act.enabled(ctx, e.set) {
			continue
		}
		e.counter.Add(1)
		y = e.unit.Apply(ctx, x, y)
	}
	return y, nil
}

func (h *hook) remove(set string) {
	kept := h.entries[:0]
	for _, e := range h.entries {
		if e.set != set {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// callScope carries per-forward-call scratch state on the context. Units
// that thread a signal across several insertion points (the bypass
// residual chain) store it here, so concurrent forward calls on the same
// model never share it.
type callScope struct {
	mu   sync.Mutex
	vals map[any]any
}

type callScopeKey struct{}

func withCallScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, callScopeKey{}, &callScope{vals: make(map[any]any)})
}

func scopeOf(ctx context.Context) *callScope {
	s, _ := ctx.Value(callScopeKey{}).(*callScope)
	return s
}

func (s *callScope) get(key any) any {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vals[key]
}

func (s *callScope) put(key, val any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.vals[key] = val
	s.mu.Unlock()
}
