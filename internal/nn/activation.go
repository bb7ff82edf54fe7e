package nn

import (
	"fmt"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// ReLU applies the rectified linear unit element-wise.
type ReLU struct{}

// NewReLU creates a new ReLU activation.
func NewReLU() *ReLU { return &ReLU{} }

func (r *ReLU) Forward(input *tensor.Tensor) *tensor.Tensor { return input.ReLU() }
func (r *ReLU) Parameters() []*Parameter                    { return nil }
func (r *ReLU) Replicate(tensor.Backend) Module             { return r }

// Sigmoid applies the logistic function element-wise.
type Sigmoid struct{}

// NewSigmoid creates a new Sigmoid activation.
func NewSigmoid() *Sigmoid { return &Sigmoid{} }

func (s *Sigmoid) Forward(input *tensor.Tensor) *tensor.Tensor { return input.Sigmoid() }
func (s *Sigmoid) Parameters() []*Parameter                    { return nil }
func (s *Sigmoid) Replicate(tensor.Backend) Module             { return s }

// Tanh applies the hyperbolic tangent element-wise.
type Tanh struct{}

// NewTanh creates a new Tanh activation.
func NewTanh() *Tanh { return &Tanh{} }

func (t *Tanh) Forward(input *tensor.Tensor) *tensor.Tensor { return input.Tanh() }
func (t *Tanh) Parameters() []*Parameter                    { return nil }
func (t *Tanh) Replicate(tensor.Backend) Module             { return t }

// Identity passes the input through unchanged. Used for linear output layers.
type Identity struct{}

// NewIdentity creates a new Identity activation.
func NewIdentity() *Identity { return &Identity{} }

func (i *Identity) Forward(input *tensor.Tensor) *tensor.Tensor { return input }
func (i *Identity) Parameters() []*Parameter                    { return nil }
func (i *Identity) Replicate(tensor.Backend) Module             { return i }

// Activation returns the activation module for the given name.
// Supported names: "relu", "sigmoid", "tanh", "linear".
func Activation(name string) (Module, error) {
	switch name {
	case "relu":
		return NewReLU(), nil
	case "sigmoid":
		return NewSigmoid(), nil
	case "tanh":
		return NewTanh(), nil
	case "linear", "":
		return NewIdentity(), nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}
