package nn

import (
	"fmt"
	"math/rand"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Linear implements a fully connected layer: y = x @ Wᵀ + b.
//
//   - x has shape [batch, inFeatures]
//   - W has shape [outFeatures, inFeatures]
//   - b has shape [outFeatures]
//   - y has shape [batch, outFeatures]
//
// Weights are initialized with the Glorot uniform distribution, biases with
// zeros.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter
	bias        *Parameter
}

// NewLinear creates a new Linear layer with Glorot-initialized weights.
func NewLinear(inFeatures, outFeatures int, rng *rand.Rand, backend tensor.Backend) *Linear {
	weight := Xavier(inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures}, rng, backend)
	bias := tensor.Zeros(tensor.Shape{outFeatures}, backend)

	return &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", weight),
		bias:        NewParameter("bias", bias),
	}
}

// Forward computes y = x @ Wᵀ + b.
func (l *Linear) Forward(input *tensor.Tensor) *tensor.Tensor {
	inputShape := input.Shape()
	if len(inputShape) != 2 {
		panic(fmt.Sprintf("Linear.Forward: expected 2D input [batch, features], got shape %v", inputShape))
	}
	if inputShape[1] != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got %d", l.inFeatures, inputShape[1]))
	}

	output := input.MatMul(l.weight.Tensor().T())
	return output.Add(l.bias.Tensor().Reshape(1, l.outFeatures))
}

// Parameters returns the weight and bias parameters.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Replicate returns a copy bound to the given backend, sharing weights.
func (l *Linear) Replicate(b tensor.Backend) Module {
	return &Linear{
		inFeatures:  l.inFeatures,
		outFeatures: l.outFeatures,
		weight:      l.weight.withBackend(b),
		bias:        l.bias.withBackend(b),
	}
}
