// Package nn implements the neural network modules used by the training
// engine.
//
// Building blocks:
//   - Module interface: base interface for all components
//   - Parameter: trainable tensors
//   - Linear, activations, Sequential: feed-forward layers
//   - Encoder/decoder pairs for diagonal and full-covariance posteriors
//   - MaskedLinear and IAFLayer for autoregressive flows
//
// Modules are replicable: Replicate rebinds every parameter to another
// backend while sharing the underlying storage, which is how data-parallel
// replicas see a single set of weights.
package nn

import (
	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Module is the base interface for all neural network components.
type Module interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor) *tensor.Tensor

	// Parameters returns all trainable parameters of this module,
	// including nested module parameters. Modules without trainable
	// parameters return an empty slice.
	Parameters() []*Parameter

	// Replicate returns a copy of the module bound to the given backend.
	// Parameter storage is shared with the original; only the backend
	// used for computation changes.
	Replicate(b tensor.Backend) Module
}
