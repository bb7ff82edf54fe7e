package nn

import (
	"fmt"
	"math/rand"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// MaskedLinear is a fully connected layer whose weight is multiplied
// element-wise by a constant binary mask on every forward pass:
// y = x @ (W ⊙ mask)ᵀ + b.
//
// Masks enforce the autoregressive structure of flow layers; gradients to
// masked-out weights are zeroed by the same multiplication.
type MaskedLinear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter
	bias        *Parameter
	mask        *tensor.Tensor // [outFeatures, inFeatures], entries 0 or 1
}

// NewMaskedLinear creates a masked layer. The mask must have shape
// [outFeatures, inFeatures].
func NewMaskedLinear(inFeatures, outFeatures int, mask *tensor.Tensor, rng *rand.Rand, backend tensor.Backend) *MaskedLinear {
	if !mask.Shape().Equal(tensor.Shape{outFeatures, inFeatures}) {
		panic(fmt.Sprintf("MaskedLinear: mask shape %v does not match [%d, %d]", mask.Shape(), outFeatures, inFeatures))
	}
	weight := Xavier(inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures}, rng, backend)
	bias := tensor.Zeros(tensor.Shape{outFeatures}, backend)

	return &MaskedLinear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", weight),
		bias:        NewParameter("bias", bias),
		mask:        mask,
	}
}

// Forward computes y = x @ (W ⊙ mask)ᵀ + b.
func (l *MaskedLinear) Forward(input *tensor.Tensor) *tensor.Tensor {
	masked := l.weight.Tensor().Mul(l.mask)
	output := input.MatMul(masked.T())
	return output.Add(l.bias.Tensor().Reshape(1, l.outFeatures))
}

// Parameters returns the weight and bias parameters.
func (l *MaskedLinear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Replicate returns a copy bound to the given backend, sharing weights.
func (l *MaskedLinear) Replicate(b tensor.Backend) Module {
	clone := *l
	clone.weight = l.weight.withBackend(b)
	clone.bias = l.bias.withBackend(b)
	clone.mask = l.mask.WithBackend(b)
	return &clone
}

// IAFLayer is a single inverse autoregressive flow step.
//
// A masked hidden layer feeds two masked output heads producing a shift m
// and a gate pre-activation s, each autoregressive in the input:
//
//	σ  = sigmoid(s)
//	z' = σ ⊙ z + (1 − σ) ⊙ m
//
// The per-dimension log-Jacobian is log σ.
type IAFLayer struct {
	hidden *MaskedLinear
	act    Module
	shift  *MaskedLinear
	gate   *MaskedLinear
}

// Transform applies the flow step. Returns the transformed draws
// [batch, d] and the per-dimension log σ values [batch, d].
func (l *IAFLayer) Transform(z *tensor.Tensor) (zOut, logSigma *tensor.Tensor) {
	h := l.act.Forward(l.hidden.Forward(z))
	m := l.shift.Forward(h)
	sigma := l.gate.Forward(h).Sigmoid()

	// z' = σ⊙z + (1−σ)⊙m
	zOut = sigma.Mul(z).Add(sigma.MulScalar(-1).AddScalar(1).Mul(m))
	return zOut, sigma.Log()
}

// Forward applies the flow step, discarding the log-Jacobian.
func (l *IAFLayer) Forward(z *tensor.Tensor) *tensor.Tensor {
	out, _ := l.Transform(z)
	return out
}

// Parameters returns the parameters of all masked layers.
func (l *IAFLayer) Parameters() []*Parameter {
	params := l.hidden.Parameters()
	params = append(params, l.shift.Parameters()...)
	return append(params, l.gate.Parameters()...)
}

// Replicate returns a copy bound to the given backend, sharing weights.
func (l *IAFLayer) Replicate(b tensor.Backend) Module {
	return &IAFLayer{
		hidden: l.hidden.Replicate(b).(*MaskedLinear),
		act:    l.act.Replicate(b),
		shift:  l.shift.Replicate(b).(*MaskedLinear),
		gate:   l.gate.Replicate(b).(*MaskedLinear),
	}
}

// IAFChain stacks flow steps, alternating the autoregressive ordering
// between steps so every dimension conditions on every other across the
// chain.
type IAFChain struct {
	latentDim int
	layers    []*IAFLayer
}

// NewIAFChain builds numLayers flow steps over a d-dimensional latent space,
// each with one masked hidden layer of the given width.
func NewIAFChain(latentDim, numLayers, hiddenWidth int, activation string, rng *rand.Rand, backend tensor.Backend) (*IAFChain, error) {
	if latentDim <= 0 {
		return nil, fmt.Errorf("iaf: latent dimension must be positive, got %d", latentDim)
	}
	if numLayers <= 0 {
		return nil, fmt.Errorf("iaf: number of layers must be positive, got %d", numLayers)
	}
	if hiddenWidth <= 0 {
		return nil, fmt.Errorf("iaf: hidden width must be positive, got %d", hiddenWidth)
	}
	act, err := Activation(activation)
	if err != nil {
		return nil, fmt.Errorf("iaf: %w", err)
	}

	layers := make([]*IAFLayer, numLayers)
	for i := range layers {
		reversed := i%2 == 1
		inDeg := inputDegrees(latentDim, reversed)
		hidDeg := hiddenDegrees(latentDim, hiddenWidth)

		hiddenMask := degreeMask(inDeg, hidDeg, false, backend)
		outMask := degreeMask(hidDeg, inDeg, true, backend)

		layers[i] = &IAFLayer{
			hidden: NewMaskedLinear(latentDim, hiddenWidth, hiddenMask, rng, backend),
			act:    act,
			shift:  NewMaskedLinear(hiddenWidth, latentDim, outMask, rng, backend),
			gate:   NewMaskedLinear(hiddenWidth, latentDim, outMask, rng, backend),
		}
	}
	return &IAFChain{latentDim: latentDim, layers: layers}, nil
}

// LatentDim returns the dimension of the latent space.
func (c *IAFChain) LatentDim() int { return c.latentDim }

// Transform applies every flow step in order. Returns the final draws
// [batch, d] and the accumulated log-determinant of the Jacobian
// [batch, 1].
func (c *IAFChain) Transform(z *tensor.Tensor) (zOut, logDet *tensor.Tensor) {
	zOut = z
	for i, layer := range c.layers {
		var logSigma *tensor.Tensor
		zOut, logSigma = layer.Transform(zOut)
		step := logSigma.SumDim(1, true)
		if i == 0 {
			logDet = step
		} else {
			logDet = logDet.Add(step)
		}
	}
	return zOut, logDet
}

// Forward applies the chain, discarding the log-determinant.
func (c *IAFChain) Forward(z *tensor.Tensor) *tensor.Tensor {
	out, _ := c.Transform(z)
	return out
}

// Parameters returns the parameters of all flow steps.
func (c *IAFChain) Parameters() []*Parameter {
	var params []*Parameter
	for _, l := range c.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// Replicate returns a copy bound to the given backend, sharing weights.
func (c *IAFChain) Replicate(b tensor.Backend) Module {
	layers := make([]*IAFLayer, len(c.layers))
	for i, l := range c.layers {
		layers[i] = l.Replicate(b).(*IAFLayer)
	}
	return &IAFChain{latentDim: c.latentDim, layers: layers}
}

// inputDegrees assigns autoregressive degrees 1..d, optionally reversed.
func inputDegrees(d int, reversed bool) []int {
	deg := make([]int, d)
	for i := range deg {
		if reversed {
			deg[i] = d - i
		} else {
			deg[i] = i + 1
		}
	}
	return deg
}

// hiddenDegrees cycles hidden unit degrees through 1..max(d-1, 1) so no
// hidden unit can see the last input dimension.
func hiddenDegrees(d, width int) []int {
	maxDeg := d - 1
	if maxDeg < 1 {
		maxDeg = 1
	}
	deg := make([]int, width)
	for i := range deg {
		deg[i] = i%maxDeg + 1
	}
	return deg
}

// degreeMask builds a [len(outDeg), len(inDeg)] mask. With strict=false an
// entry is 1 when outDeg[k] >= inDeg[j]; with strict=true when
// outDeg[k] > inDeg[j]. Output layers use the strict form so dimension i
// depends only on inputs with lower degree.
func degreeMask(inDeg, outDeg []int, strict bool, backend tensor.Backend) *tensor.Tensor {
	mask := tensor.Zeros(tensor.Shape{len(outDeg), len(inDeg)}, backend)
	for k, dk := range outDeg {
		for j, dj := range inDeg {
			if (strict && dk > dj) || (!strict && dk >= dj) {
				mask.Set(1, k, j)
			}
		}
	}
	return mask
}
