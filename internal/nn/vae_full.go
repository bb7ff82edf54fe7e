package nn

import (
	"fmt"
	"math/rand"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// VAEFull is an encoder/decoder pair with a full-covariance Gaussian
// posterior.
//
// The encoder head has width 2d + d² for latent dimension d: the posterior
// mean, the log of the Cholesky diagonal, and the raw off-diagonal entries.
// Encode assembles the stacked lower-triangular factor [batch, d*d] by
// masking the raw block to its strict lower triangle and embedding
// exp(logstd) on the diagonal, which keeps the factor invertible.
type VAEFull struct {
	dataDim   int
	latentDim int
	encoder   Module
	decoder   Module
	meanIdx   []int
	logstdIdx []int
	rawIdx    []int
	lowerMask *tensor.Tensor // [1, d*d] strict lower-triangle mask
	diagEmbed *tensor.Tensor // [d, d*d] diagonal placement matrix
}

// NewVAEFull builds a full-covariance VAE with the given hidden layer widths
// and activation.
func NewVAEFull(dataDim, latentDim int, hidden []int, activation string, rng *rand.Rand, backend tensor.Backend) (*VAEFull, error) {
	if dataDim <= 0 || latentDim <= 0 {
		return nil, fmt.Errorf("vae full: dimensions must be positive, got data %d latent %d", dataDim, latentDim)
	}
	d := latentDim

	encoder, err := buildMLP(dataDim, 2*d+d*d, hidden, activation, rng, backend)
	if err != nil {
		return nil, fmt.Errorf("vae full encoder: %w", err)
	}
	decoder, err := buildMLP(d, dataDim, hidden, activation, rng, backend)
	if err != nil {
		return nil, fmt.Errorf("vae full decoder: %w", err)
	}

	meanIdx := make([]int, d)
	logstdIdx := make([]int, d)
	for i := 0; i < d; i++ {
		meanIdx[i] = i
		logstdIdx[i] = d + i
	}
	rawIdx := make([]int, d*d)
	for i := range rawIdx {
		rawIdx[i] = 2*d + i
	}

	lowerMask := tensor.Zeros(tensor.Shape{1, d * d}, backend)
	for i := 0; i < d; i++ {
		for j := 0; j < i; j++ {
			lowerMask.Set(1, 0, i*d+j)
		}
	}
	diagEmbed := tensor.Zeros(tensor.Shape{d, d * d}, backend)
	for k := 0; k < d; k++ {
		diagEmbed.Set(1, k, k*d+k)
	}

	return &VAEFull{
		dataDim:   dataDim,
		latentDim: d,
		encoder:   encoder,
		decoder:   decoder,
		meanIdx:   meanIdx,
		logstdIdx: logstdIdx,
		rawIdx:    rawIdx,
		lowerMask: lowerMask,
		diagEmbed: diagEmbed,
	}, nil
}

// LatentDim returns the dimension of the latent space.
func (v *VAEFull) LatentDim() int { return v.latentDim }

// DataDim returns the dimension of the data space.
func (v *VAEFull) DataDim() int { return v.dataDim }

// Encode maps data to the posterior mean [batch, d], the log of the factor
// diagonal [batch, d], and the stacked lower-triangular factor [batch, d*d].
func (v *VAEFull) Encode(x *tensor.Tensor) (mean, logstd, chol *tensor.Tensor) {
	h := v.encoder.Forward(x)
	mean = h.GatherCols(v.meanIdx)
	logstd = h.GatherCols(v.logstdIdx)

	raw := h.GatherCols(v.rawIdx)
	chol = raw.Mul(v.lowerMask).Add(logstd.Exp().MatMul(v.diagEmbed))
	return mean, logstd, chol
}

// Decode maps latent draws to data space.
func (v *VAEFull) Decode(z *tensor.Tensor) *tensor.Tensor {
	return v.decoder.Forward(z)
}

// Forward reconstructs the input through the posterior mean.
func (v *VAEFull) Forward(x *tensor.Tensor) *tensor.Tensor {
	mean, _, _ := v.Encode(x)
	return v.Decode(mean)
}

// Parameters returns encoder and decoder parameters.
func (v *VAEFull) Parameters() []*Parameter {
	return append(v.encoder.Parameters(), v.decoder.Parameters()...)
}

// Replicate returns a copy bound to the given backend, sharing weights.
// The constant mask tensors are rebound as well so every forward op in a
// replica runs on that replica's tape.
func (v *VAEFull) Replicate(b tensor.Backend) Module {
	clone := *v
	clone.encoder = v.encoder.Replicate(b)
	clone.decoder = v.decoder.Replicate(b)
	clone.lowerMask = v.lowerMask.WithBackend(b)
	clone.diagEmbed = v.diagEmbed.WithBackend(b)
	return &clone
}
