package nn

import (
	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Sequential is a container that chains modules in order.
type Sequential struct {
	modules []Module
}

// NewSequential creates a new Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

// Forward passes the input through all modules in order.
func (s *Sequential) Forward(input *tensor.Tensor) *tensor.Tensor {
	out := input
	for _, m := range s.modules {
		out = m.Forward(out)
	}
	return out
}

// Parameters returns the parameters of all contained modules.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Replicate returns a copy with each contained module replicated.
func (s *Sequential) Replicate(b tensor.Backend) Module {
	replicated := make([]Module, len(s.modules))
	for i, m := range s.modules {
		replicated[i] = m.Replicate(b)
	}
	return &Sequential{modules: replicated}
}
