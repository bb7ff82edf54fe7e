// Package train implements the single-device and distributed training
// loops: composite loss objectives per posterior family, gradient-norm
// convergence, periodic checkpointing, and metric aggregation.
package train

import (
	"fmt"
	"math/rand"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// BatchPair is one aligned (observed input, latent parameter) batch, both
// 2-D [batch, dim].
type BatchPair struct {
	Input  *tensor.Tensor
	Latent *tensor.Tensor
}

// Rows returns the batch size.
func (p BatchPair) Rows() int {
	return p.Input.Shape()[0]
}

// BatchSequence is a finite, restartable sequence of batches over an
// in-memory dataset. Training sequences reshuffle on every StartEpoch;
// validation and test sequences keep a fixed order.
type BatchSequence struct {
	inputs    []float64 // row-major [n, inputDim]
	latents   []float64 // row-major [n, latentDim]
	n         int
	inputDim  int
	latentDim int
	batchSize int
	shuffle   bool
	perm      []int
	rng       *rand.Rand
}

// NewBatchSequence wraps the flat row-major input/latent matrices. The rng
// is only consulted when shuffle is set.
func NewBatchSequence(inputs, latents []float64, n, inputDim, latentDim, batchSize int, shuffle bool, rng *rand.Rand) (*BatchSequence, error) {
	if n <= 0 || inputDim <= 0 || latentDim <= 0 {
		return nil, fmt.Errorf("batch sequence: dimensions must be positive, got n=%d input=%d latent=%d", n, inputDim, latentDim)
	}
	if len(inputs) != n*inputDim {
		return nil, fmt.Errorf("batch sequence: input length %d does not match %d×%d", len(inputs), n, inputDim)
	}
	if len(latents) != n*latentDim {
		return nil, fmt.Errorf("batch sequence: latent length %d does not match %d×%d", len(latents), n, latentDim)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch sequence: batch size must be positive, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("batch sequence: shuffling requires a random source")
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	return &BatchSequence{
		inputs:    inputs,
		latents:   latents,
		n:         n,
		inputDim:  inputDim,
		latentDim: latentDim,
		batchSize: batchSize,
		shuffle:   shuffle,
		perm:      perm,
		rng:       rng,
	}, nil
}

// NumBatches returns the number of batches per epoch. The last batch may
// be smaller than the configured batch size.
func (s *BatchSequence) NumBatches() int {
	return (s.n + s.batchSize - 1) / s.batchSize
}

// NumExamples returns the dataset size.
func (s *BatchSequence) NumExamples() int {
	return s.n
}

// StartEpoch restarts the sequence, reshuffling if configured.
func (s *BatchSequence) StartEpoch() {
	if s.shuffle {
		s.rng.Shuffle(s.n, func(i, j int) {
			s.perm[i], s.perm[j] = s.perm[j], s.perm[i]
		})
	}
}

// Batch materializes batch i on the given backend. Tensors are fresh
// copies, so a recording backend sees them as graph leaves.
func (s *BatchSequence) Batch(i int, backend tensor.Backend) BatchPair {
	lo := i * s.batchSize
	hi := lo + s.batchSize
	if hi > s.n {
		hi = s.n
	}
	if lo >= hi {
		panic(fmt.Sprintf("batch sequence: batch index %d out of range [0, %d)", i, s.NumBatches()))
	}
	rows := hi - lo

	input := tensor.Zeros(tensor.Shape{rows, s.inputDim}, backend)
	latent := tensor.Zeros(tensor.Shape{rows, s.latentDim}, backend)
	for r := 0; r < rows; r++ {
		src := s.perm[lo+r]
		copy(input.Data()[r*s.inputDim:(r+1)*s.inputDim], s.inputs[src*s.inputDim:(src+1)*s.inputDim])
		copy(latent.Data()[r*s.latentDim:(r+1)*s.latentDim], s.latents[src*s.latentDim:(src+1)*s.latentDim])
	}
	return BatchPair{Input: input, Latent: latent}
}

// Dataset bundles the three disjoint sequences of a run.
type Dataset struct {
	Train *BatchSequence
	Val   *BatchSequence
	Test  *BatchSequence
}

// shard extracts rows [start, end) of a pair onto the given backend.
// Used by the distributed trainer to split one global batch across
// replicas.
func shard(pair BatchPair, start, end int, backend tensor.Backend) BatchPair {
	inDim := pair.Input.Shape()[1]
	latDim := pair.Latent.Shape()[1]
	rows := end - start

	input := tensor.Zeros(tensor.Shape{rows, inDim}, backend)
	latent := tensor.Zeros(tensor.Shape{rows, latDim}, backend)
	copy(input.Data(), pair.Input.Data()[start*inDim:end*inDim])
	copy(latent.Data(), pair.Latent.Data()[start*latDim:end*latDim])
	return BatchPair{Input: input, Latent: latent}
}
