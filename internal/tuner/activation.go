package tuner

import (
	"context"
	"sort"
	"sync"
)

// Activation state is looked up on every wrapped forward pass. The model
// carries a process-wide default selection; a context may carry its own
// override. Two goroutines forwarding with different context selections
// never observe each other, because the override lives in the context
// rather than in shared state. Selection never touches weights.

type activeKey struct{}

type activeSet map[string]struct{}

func (s activeSet) clone() activeSet {
	out := make(activeSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func (s activeSet) names() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WithActive returns a context whose forward passes see exactly the given
// selection, replacing both the model default and any selection already on
// the context.
func WithActive(ctx context.Context, names ...string) context.Context {
	s := make(activeSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return context.WithValue(ctx, activeKey{}, s)
}

// Activate derives a context with the given sets enabled in addition to
// whatever the context already selected. If the context carried no
// selection, it starts from empty, not from the model default.
func Activate(ctx context.Context, names ...string) context.Context {
	s := activeSet{}
	if prev, ok := ctx.Value(activeKey{}).(activeSet); ok {
		s = prev.clone()
	}
	for _, n := range names {
		s[n] = struct{}{}
	}
	return context.WithValue(ctx, activeKey{}, s)
}

// Deactivate derives a context with the given sets disabled.
func Deactivate(ctx context.Context, names ...string) context.Context {
	s := activeSet{}
	if prev, ok := ctx.Value(activeKey{}).(activeSet); ok {
		s = prev.clone()
	}
	for _, n := range names {
		delete(s, n)
	}
	return context.WithValue(ctx, activeKey{}, s)
}

// ActiveIn returns the context-local selection, if the context carries one.
func ActiveIn(ctx context.Context) ([]string, bool) {
	s, ok := ctx.Value(activeKey{}).(activeSet)
	if !ok {
		return nil, false
	}
	return s.names(), true
}

// activation is the model-level default selection.
type activation struct {
	mu  sync.RWMutex
	set activeSet
}

func newActivation() *activation {
	return &activation{set: activeSet{}}
}

func (a *activation) setActive(names []string) {
	s := make(activeSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	a.mu.Lock()
	a.set = s
	a.mu.Unlock()
}

func (a *activation) activate(names []string) {
	a.mu.Lock()
	s := a.set.clone()
	for _, n := range names {
		s[n] = struct{}{}
	}
	a.set = s
	a.mu.Unlock()
}

func (a *activation) deactivate(names []string) {
	a.mu.Lock()
	s := a.set.clone()
	for _, n := range names {
		delete(s, n)
	}
	a.set = s
	a.mu.Unlock()
}

func (a *activation) active() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.set.names()
}

// enabled reports whether the named set contributes to a forward pass in
// ctx: the context override wins when present, otherwise the model
// default applies. Cost for inactive sets is exactly this lookup.
func (a *activation) enabled(ctx context.Context, name string) bool {
	if s, ok := ctx.Value(activeKey{}).(activeSet); ok {
		_, on := s[name]
		return on
	}
	a.mu.RLock()
	_, on := a.set[name]
	a.mu.RUnlock()
	return on
}
