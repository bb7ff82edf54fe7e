package nn

import (
	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// Parameters are tensors whose gradients are collected from the tape after
// the backward pass, keyed by the underlying RawTensor. Replicated modules
// share RawTensors, so gradients from all replicas accumulate onto the same
// parameter storage.
type Parameter struct {
	name   string
	tensor *tensor.Tensor
}

// NewParameter creates a new trainable parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// Raw returns the underlying raw tensor, the key used for gradient lookup.
func (p *Parameter) Raw() *tensor.RawTensor {
	return p.tensor.Raw()
}

// withBackend returns a parameter sharing this parameter's storage but bound
// to another backend.
func (p *Parameter) withBackend(b tensor.Backend) *Parameter {
	return &Parameter{name: p.name, tensor: p.tensor.WithBackend(b)}
}
