package nn

import (
	"math"
	"math/rand"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Xavier initializes a weight tensor with values drawn from the Glorot
// uniform distribution U(-b, b), b = sqrt(6/(fanIn+fanOut)).
//
// The caller owns the random source, which keeps initialization
// reproducible under a fixed seed.
func Xavier(fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand, backend tensor.Backend) *tensor.Tensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	t := tensor.Zeros(shape, backend)
	data := t.Data()
	for i := range data {
		data[i] = (rng.Float64()*2.0 - 1.0) * bound
	}
	return t
}

// RandomNormal initializes a tensor with values drawn from N(0, std²).
func RandomNormal(shape tensor.Shape, std float64, rng *rand.Rand, backend tensor.Backend) *tensor.Tensor {
	t := tensor.Zeros(shape, backend)
	data := t.Data()
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
	return t
}
