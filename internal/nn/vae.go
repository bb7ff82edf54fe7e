package nn

import (
	"fmt"
	"math/rand"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// VAE is an encoder/decoder pair with a diagonal Gaussian posterior.
//
// The encoder maps data [batch, dataDim] to a concatenated head
// [batch, 2*latentDim] holding the posterior mean and log-variance. The
// decoder maps latent draws [batch, latentDim] back to data space.
type VAE struct {
	dataDim   int
	latentDim int
	encoder   Module
	decoder   Module
	meanIdx   []int
	logvarIdx []int
}

// NewVAE builds a diagonal-posterior VAE with the given hidden layer widths
// and activation ("relu", "sigmoid", "tanh").
func NewVAE(dataDim, latentDim int, hidden []int, activation string, rng *rand.Rand, backend tensor.Backend) (*VAE, error) {
	if dataDim <= 0 || latentDim <= 0 {
		return nil, fmt.Errorf("vae: dimensions must be positive, got data %d latent %d", dataDim, latentDim)
	}

	encoder, err := buildMLP(dataDim, 2*latentDim, hidden, activation, rng, backend)
	if err != nil {
		return nil, fmt.Errorf("vae encoder: %w", err)
	}
	decoder, err := buildMLP(latentDim, dataDim, hidden, activation, rng, backend)
	if err != nil {
		return nil, fmt.Errorf("vae decoder: %w", err)
	}

	meanIdx := make([]int, latentDim)
	logvarIdx := make([]int, latentDim)
	for i := 0; i < latentDim; i++ {
		meanIdx[i] = i
		logvarIdx[i] = latentDim + i
	}

	return &VAE{
		dataDim:   dataDim,
		latentDim: latentDim,
		encoder:   encoder,
		decoder:   decoder,
		meanIdx:   meanIdx,
		logvarIdx: logvarIdx,
	}, nil
}

// LatentDim returns the dimension of the latent space.
func (v *VAE) LatentDim() int { return v.latentDim }

// DataDim returns the dimension of the data space.
func (v *VAE) DataDim() int { return v.dataDim }

// Encode maps data to the posterior mean and log-variance, each
// [batch, latentDim].
func (v *VAE) Encode(x *tensor.Tensor) (mean, logvar *tensor.Tensor) {
	h := v.encoder.Forward(x)
	return h.GatherCols(v.meanIdx), h.GatherCols(v.logvarIdx)
}

// Decode maps latent draws to data space.
func (v *VAE) Decode(z *tensor.Tensor) *tensor.Tensor {
	return v.decoder.Forward(z)
}

// Forward reconstructs the input through the posterior mean.
func (v *VAE) Forward(x *tensor.Tensor) *tensor.Tensor {
	mean, _ := v.Encode(x)
	return v.Decode(mean)
}

// Parameters returns encoder and decoder parameters.
func (v *VAE) Parameters() []*Parameter {
	return append(v.encoder.Parameters(), v.decoder.Parameters()...)
}

// Replicate returns a copy bound to the given backend, sharing weights.
func (v *VAE) Replicate(b tensor.Backend) Module {
	clone := *v
	clone.encoder = v.encoder.Replicate(b)
	clone.decoder = v.decoder.Replicate(b)
	return &clone
}

// buildMLP constructs a feed-forward stack with the given hidden widths and
// a linear output layer.
func buildMLP(in, out int, hidden []int, activation string, rng *rand.Rand, backend tensor.Backend) (*Sequential, error) {
	act, err := Activation(activation)
	if err != nil {
		return nil, err
	}

	var modules []Module
	prev := in
	for _, width := range hidden {
		if width <= 0 {
			return nil, fmt.Errorf("hidden width must be positive, got %d", width)
		}
		modules = append(modules, NewLinear(prev, width, rng, backend), act)
		prev = width
	}
	modules = append(modules, NewLinear(prev, out, rng, backend))
	return NewSequential(modules...), nil
}
