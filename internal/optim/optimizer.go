// Package optim implements the optimization algorithms used for training.
//
// Provided:
//   - Optimizer interface
//   - SGD: stochastic gradient descent
//   - Adam: adaptive moment estimation
//
// Optimizers update parameters in place from a gradient map produced by the
// backward pass. Updates mutate the parameter's raw storage directly, so
// replicated modules observe them immediately.
package optim

import (
	"github.com/HwanGoh/uq-vae/internal/nn"
	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies gradient updates to all parameters in place.
	// Parameters absent from the gradient map are skipped.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// GetLR returns the current learning rate.
	GetLR() float64
}

// getGradient retrieves the gradient for a parameter, or nil if the
// parameter did not participate in the forward pass.
func getGradient(param *nn.Parameter, grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	return grads[param.Raw()]
}
