package autodiff

import (
	"fmt"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Gradients runs the backward pass for a scalar loss computed on an autodiff
// backend and returns accumulated gradients keyed by RawTensor.
//
// The loss must hold a single element; the pass is seeded with a gradient of
// one. The tape is left intact so callers control when to Clear it.
func Gradients(loss *tensor.Tensor, backend *Backend) map[*tensor.RawTensor]*tensor.RawTensor {
	if loss.Shape().NumElements() != 1 {
		panic(fmt.Sprintf("autodiff: loss must be scalar, got shape %v", loss.Shape()))
	}

	seed, err := tensor.NewRaw(loss.Shape().Clone(), backend.Device())
	if err != nil {
		panic(fmt.Sprintf("autodiff: %v", err))
	}
	seed.Float64()[0] = 1.0

	return backend.Tape().Backward(loss.Raw(), seed, backend.Inner())
}
