package nn

import (
	"context"

	"github.com/samcharles93/graft/internal/tensor"
)

// Sequential chains named child modules in slot order. It is the generic
// container used by tests and the demo backbone; callers with their own
// model structs only need to satisfy Container.
type Sequential struct {
	children []Child
}

// NewSequential builds a container from the given slots.
func NewSequential(children ...Child) *Sequential {
	return &Sequential{children: children}
}

// Append adds a named slot at the end of the chain.
func (s *Sequential) Append(name string, m Module) {
	s.children = append(s.children, Child{Name: name, Module: m})
}

func (s *Sequential) Forward(ctx context.Context, x *tensor.Mat) (*tensor.Mat, error) {
	var err error
	for _, c := range s.children {
		x, err = c.Module.Forward(ctx, x)
		if err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (s *Sequential) Children() []Child {
	out := make([]Child, len(s.children))
	copy(out, s.children)
	return out
}

func (s *Sequential) Replace(name string, m Module) error {
	for i := range s.children {
		if s.children[i].Name == name {
			s.children[i].Module = m
			return nil
		}
	}
	return &ErrNoChild{Name: name}
}
