// Package tuner attaches independently trainable transformations onto a
// frozen module tree without touching the tree's definition. Multiple
// named tuner sets coexist on one model; each execution context selects
// its own active subset, and each set saves and loads independently.
package tuner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/internal/nn"
	"github.com/samcharles93/graft/internal/tensor"
)

// DefaultName is used when a caller attaches without naming the set.
const DefaultName = "default"

// set is one named tuner configuration and the units built from it.
type set struct {
	config  Config
	targets []string        // resolved insertion points, tree order
	units   map[string]Unit // by insertion point
}

// Model is the composed handle returned by Attach: the base model's full
// forward surface plus tuner management. The base model's own weights stay
// untouched (merge excepted, and merge is reversible).
type Model struct {
	root nn.Module
	g    *graph
	act  *activation
	log  logger.Logger

	mu        sync.Mutex // guards composition state, not forward passes
	sets      map[string]*set
	names     []string // attach order
	hooks     map[string]*hook
	exclusive map[string]string // insertion point -> set holding a non-stacking claim

	extraOrder []string
	extra      map[string]*tensor.Mat

	counters map[string]*atomic.Int64
}

// Option configures composition.
type Option func(*Model) error

// WithLogger routes composition logging through l.
func WithLogger(l logger.Logger) Option {
	return func(m *Model) error {
		m.log = l
		return nil
	}
}

// WithExtraState registers parameters that are trainable and persisted but
// belong to no tuner set, named by dotted parameter path ("head.weight").
func WithExtraState(keys ...string) Option {
	return func(m *Model) error {
		return m.registerExtraState(keys)
	}
}

// Compose wraps a base model without attaching anything yet. The module
// tree is walked exactly once here; later attaches resolve against the
// resulting registry.
func Compose(base nn.Module, opts ...Option) (*Model, error) {
	m := &Model{
		root:      base,
		g:         newGraph(base),
		act:       newActivation(),
		log:       logger.Default(),
		sets:      make(map[string]*set),
		hooks:     make(map[string]*hook),
		exclusive: make(map[string]string),
		extra:     make(map[string]*tensor.Mat),
		counters:  make(map[string]*atomic.Int64),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Attach composes base with a single tuner set. An empty name means
// DefaultName.
func Attach(base nn.Module, name string, cfg Config, opts ...Option) (*Model, error) {
	m, err := Compose(base, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.Attach(name, cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// AttachAll composes base with several tuner sets in one call. Sets attach
// in sorted name order so composition is deterministic.
func AttachAll(base nn.Module, cfgs map[string]Config, opts ...Option) (*Model, error) {
	m, err := Compose(base, opts...)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cfgs))
	for n := range cfgs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := m.Attach(n, cfgs[n]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Attach adds one more named tuner set to an already composed model.
// Previously attached sets are never disturbed; an insertion point hosts
// any number of sets. Attaching an existing name fails with
// ErrDuplicateName (use AttachOverwrite to replace).
func (m *Model) Attach(name string, cfg Config) error {
	if name == "" {
		name = DefaultName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sets[name]; ok {
		return &Error{Tuner: name, Err: ErrDuplicateName}
	}
	return m.attach(name, cfg)
}

// AttachOverwrite replaces the set under name if it exists, then attaches.
func (m *Model) AttachOverwrite(name string, cfg Config) error {
	if name == "" {
		name = DefaultName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sets[name]; ok {
		if err := m.detach(name); err != nil {
			return err
		}
	}
	return m.attach(name, cfg)
}

// validateSetName rejects names that could not serve as checkpoint
// subdirectory names.
func validateSetName(name string) error {
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errConfig(name, "", "set name %q must be a plain directory name", name)
	}
	return nil
}

func (m *Model) attach(name string, cfg Config) error {
	if err := validateSetName(name); err != nil {
		return err
	}
	bld, ok := builders[cfg.Type]
	if !ok {
		return errConfig(name, "", "unknown tuner type %q", cfg.Type)
	}
	targets, err := m.g.resolveTargets(name, cfg)
	if err != nil {
		return err
	}
	units, err := bld(name, cfg, m.g, targets)
	if err != nil {
		return err
	}

	// Non-stacking variants claim their anchor point exclusively.
	if cfg.Type == TypeResTuning {
		if holder, claimed := m.exclusive[cfg.Root]; claimed {
			return &Error{Tuner: name, Path: cfg.Root,
				Err: fmt.Errorf("%w: point already claimed by %q", ErrConflict, holder)}
		}
		m.exclusive[cfg.Root] = name
	}

	counter := &atomic.Int64{}
	order := append([]string(nil), targets...)
	if cfg.Type == TypeResTuning {
		order = append(order, cfg.Root)
	}
	for _, path := range order {
		if err := m.install(path, name, units[path], counter); err != nil {
			m.unhook(name)
			delete(m.exclusive, cfg.Root)
			return err
		}
	}

	m.sets[name] = &set{config: cfg, targets: targets, units: units}
	m.names = append(m.names, name)
	m.counters[name] = counter
	m.log.Info("attached tuner set",
		"name", name, "type", string(cfg.Type), "insertion_points", len(units))
	return nil
}

func (m *Model) install(path, name string, u Unit, counter *atomic.Int64) error {
	h, ok := m.hooks[path]
	if !ok {
		node, found := m.g.nodes[path]
		if !found {
			return &Error{Tuner: name, Path: path, Err: ErrStructureMismatch}
		}
		h = &hook{model: m, orig: node.Module, path: path}
		if err := node.Parent.Replace(node.Name, h); err != nil {
			return &Error{Tuner: name, Path: path, Err: err}
		}
		m.hooks[path] = h
	}
	h.entries = append(h.entries, hookEntry{set: name, unit: u, counter: counter})
	return nil
}

// Detach removes a named set and restores the original invocation of any
// insertion point left without tuners. A merged set must be unmerged
// first; detaching it would silently keep its delta in the base weights.
func (m *Model) Detach(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detach(name)
}

func (m *Model) detach(name string) error {
	s, ok := m.sets[name]
	if !ok {
		return &Error{Tuner: name, Err: fmt.Errorf("%w: no such tuner set", ErrConfig)}
	}
	for _, u := range s.units {
		if mg, ok := u.(Merger); ok && mg.Merged() {
			return &Error{Tuner: name, Err: fmt.Errorf("%w: set is merged; unmerge before detaching", ErrConfig)}
		}
	}
	m.unhook(name)
	for point, holder := range m.exclusive {
		if holder == name {
			delete(m.exclusive, point)
		}
	}
	delete(m.sets, name)
	delete(m.counters, name)
	for i, n := range m.names {
		if n == name {
			m.names = append(m.names[:i], m.names[i+1:]...)
			break
		}
	}
	m.log.Info("detached tuner set", "name", name)
	return nil
}

// unhook strips a set's entries from every hook and restores the original
// invocation of insertion points left without tuners.
func (m *Model) unhook(name string) {
	for path, h := range m.hooks {
		h.remove(name)
		if len(h.entries) == 0 {
			node := m.g.nodes[path]
			_ = node.Parent.Replace(node.Name, node.Module)
			delete(m.hooks, path)
		}
	}
}

// Forward runs the composed model. Deltas of every set active in ctx (or
// in the model default when ctx carries no selection) fold into the
// output; with nothing active the output is identical to the base model's.
func (m *Model) Forward(ctx context.Context, x *tensor.Mat) (*tensor.Mat, error) {
	return m.root.Forward(withCallScope(ctx), x)
}

// Base returns the wrapped base model.
func (m *Model) Base() nn.Module { return m.root }

// SetActive replaces the process-wide default selection.
func (m *Model) SetActive(names ...string) { m.act.setActive(names) }

// Activate enables sets in the process-wide default selection.
func (m *Model) Activate(names ...string) { m.act.activate(names) }

// Deactivate disables sets in the process-wide default selection.
func (m *Model) Deactivate(names ...string) { m.act.deactivate(names) }

// Active returns the process-wide default selection, sorted.
func (m *Model) Active() []string { return m.act.active() }

// Sets returns the attached set names in attach order.
func (m *Model) Sets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.names...)
}

// SetConfig returns the config a named set was built from.
func (m *Model) SetConfig(name string) (Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[name]
	if !ok {
		return Config{}, false
	}
	return s.config, true
}

// SetTargets returns the insertion points a named set resolved to, in
// tree order.
func (m *Model) SetTargets(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[name]
	if !ok {
		return nil
	}
	return append([]string(nil), s.targets...)
}

// SetParams returns a named set's trainable parameters with their
// canonical persisted names ("block0.query.lora_a").
func (m *Model) SetParams(name string) ([]nn.Param, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[name]
	if !ok {
		return nil, &Error{Tuner: name, Err: fmt.Errorf("%w: no such tuner set", ErrConfig)}
	}
	order := append([]string(nil), s.targets...)
	if s.config.Type == TypeResTuning {
		order = append(order, s.config.Root)
	}
	var out []nn.Param
	for _, path := range order {
		u, ok := s.units[path]
		if !ok {
			continue
		}
		for _, p := range u.Params() {
			out = append(out, nn.Param{Name: path + "." + p.Name, Value: p.Value})
		}
	}
	return out, nil
}

// Params returns every trainable parameter of the composition: all sets'
// unit parameters plus the extra-state bucket. Base weights are excluded;
// they are frozen.
func (m *Model) Params() []nn.Param {
	m.mu.Lock()
	names := append([]string(nil), m.names...)
	m.mu.Unlock()
	var out []nn.Param
	for _, n := range names {
		ps, err := m.SetParams(n)
		if err != nil {
			continue
		}
		for _, p := range ps {
			out = append(out, nn.Param{Name: n + ":" + p.Name, Value: p.Value})
		}
	}
	out = append(out, m.ExtraParams()...)
	return out
}

// ExtraParams returns the extra-state parameters in registration order,
// named by dotted parameter path.
func (m *Model) ExtraParams() []nn.Param {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]nn.Param, 0, len(m.extraOrder))
	for _, k := range m.extraOrder {
		out = append(out, nn.Param{Name: k, Value: m.extra[k]})
	}
	return out
}

// ExtraStateKeys returns the registered extra-state parameter paths.
func (m *Model) ExtraStateKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.extraOrder...)
}

// RegisterExtraState adds extra-state keys after composition.
func (m *Model) RegisterExtraState(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerExtraState(keys)
}

func (m *Model) registerExtraState(keys []string) error {
	byPath := m.paramsByPath()
	for _, k := range keys {
		v, ok := byPath[k]
		if !ok {
			return errConfig("", k, "extra state key not found in model")
		}
		if _, dup := m.extra[k]; dup {
			continue
		}
		m.extra[k] = v
		m.extraOrder = append(m.extraOrder, k)
	}
	return nil
}

// paramsByPath resolves every base parameter from the registry's clean
// nodes, so resolution is unaffected by hooks already installed.
func (m *Model) paramsByPath() map[string]*tensor.Mat {
	byPath := make(map[string]*tensor.Mat)
	for _, path := range m.g.order {
		p, ok := m.g.nodes[path].Module.(nn.Parametric)
		if !ok {
			continue
		}
		for _, param := range p.Params() {
			byPath[path+"."+param.Name] = param.Value
		}
	}
	return byPath
}

// DeltaCount reports how many times a set's delta has been computed since
// attach. Inactive sets never advance it.
func (m *Model) DeltaCount(name string) int64 {
	m.mu.Lock()
	c := m.counters[name]
	m.mu.Unlock()
	if c == nil {
		return 0
	}
	return c.Load()
}
