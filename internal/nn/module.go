// Package nn defines the boundary this library requires from a base model:
// an enumerable tree of named modules, parameter introspection, and the
// ability to replace a child module's invocation. It deliberately assumes
// nothing else about the model.
package nn

import (
	"context"
	"fmt"

	"github.com/samcharles93/graft/internal/tensor"
)

// Module is one node of a model. Forward consumes and produces a
// [rows x features] activation matrix; rows is usually the sequence length.
type Module interface {
	Forward(ctx context.Context, x *tensor.Mat) (*tensor.Mat, error)
}

// Param is a named parameter tensor owned by a module. Name is local to the
// module ("weight", "bias"); dotted prefixes are added during tree walks.
type Param struct {
	Name  string
	Value *tensor.Mat
}

// Parametric is implemented by modules exposing trainable parameters.
type Parametric interface {
	Params() []Param
}

// Weighted is implemented by modules whose computation is dominated by a
// single two-dimensional weight matrix, stored out-by-in. Broad "every
// linear" targeting keys off this interface.
type Weighted interface {
	Weight() *tensor.Mat
}

// Child is one named slot of a container. Order is significant: tree walks
// visit children in slot order, and that order is stable for the lifetime
// of the model.
type Child struct {
	Name   string
	Module Module
}

// Container is a module with named child slots whose invocations can be
// replaced in place.
type Container interface {
	Module
	Children() []Child
	Replace(name string, m Module) error
}

// ErrNoChild is returned by Replace when the named slot does not exist.
type ErrNoChild struct {
	Name string
}

func (e *ErrNoChild) Error() string {
	return fmt.Sprintf("no child module named %q", e.Name)
}
